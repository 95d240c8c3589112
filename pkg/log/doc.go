/*
Package log provides structured logging for herd built on zerolog.

Call Init once at process start, then derive child loggers carrying the
component, scheduler identity, or device id:

	logger := log.WithComponent("worker")
	logger.Info().Int("queue_id", q.ID).Msg("queue started")
*/
package log

/*
Package registry tracks live scheduler instances by identity.

At most one live instance exists per (mode, config index) pair; a start
request for a busy identity is refused. Entries are removed when their
instance reaches a terminal state, with the final snapshot mirrored to
the run-history store.
*/
package registry

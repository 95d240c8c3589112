/*
Package retry implements the task retry policy: exit classification and
the periodic-backoff rule.

A task retries indefinitely. Every MaxRetryBeforeBackoff-th failure
inserts a BackoffDuration sleep before the task becomes schedulable
again; there is deliberately no retry cap. Operators stop pathological
tasks through the control plane instead.
*/
package retry

/*
Package types defines the shared data model of the herd scheduler:
scheduler configurations, tasks, queues, their state machines, and the
immutable snapshots served to the control plane.

Task, queue, and instance states are closed sets implemented as typed
string constants with explicit transitions driven by the scheduler
package; there are no back-pointers between tasks, queues, and
instances, only stable integer ids.
*/
package types

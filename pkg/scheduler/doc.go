/*
Package scheduler runs task queues on a shared pool of GPUs.

An Instance owns one configuration: it probes devices, claims the K
lowest-numbered ones, parses the command file into queues and drives
each queue with its own worker. Within a queue tasks run strictly in
order; across queues workers run concurrently, coordinated only by the
occupancy ledger and the admission gate. Failing tasks retry without
bound, sleeping every Nth retry. Stop is cooperative: workers observe
the stop channel at every suspension point and running children are
terminated group-wide, SIGTERM first.
*/
package scheduler

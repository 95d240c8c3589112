/*
Package ledger provides the per-instance occupancy ledger: a serialized
map from device id to owning queue id.

Invariant: within one scheduler instance, each device is attributed to at
most one queue at any instant. All operations take a single mutex.
*/
package ledger

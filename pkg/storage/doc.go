/*
Package storage persists the run history: the last observed snapshot of
each scheduler instance, keyed by identity, in a BoltDB file.
*/
package storage

/*
Package events is the in-process pub/sub channel for scheduler lifecycle
events. Instances publish; the metrics collector subscribes, and the
control plane's recent-events endpoint reads the broker's bounded ring of
recent events. Delivery is best effort: a subscriber
that falls behind loses events instead of blocking publishers.
*/
package events

/*
Package api serves the HTTP control surface: starting and stopping
schedulers, snapshots, device listings, recent events and Prometheus
metrics. All request and response bodies are JSON.
*/
package api

/*
Package client wraps the control-plane HTTP API and the external
log-binding registry for CLI and embedding use.
*/
package client

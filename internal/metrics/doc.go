// Package metrics defines the Prometheus collectors exported by hookrelay
// on the private listener.
package metrics

// Package expiry provides a time-bounded set of IDs.
//
// The relay marks the correlation ID of every provisioning exchange that is
// abandoned (timed out or cancelled). When a reply later arrives for one of
// those IDs it is reported as late rather than unknown.
package expiry

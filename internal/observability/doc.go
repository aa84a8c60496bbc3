// Package observability provides event logging, notification sinks, metrics
// and alerting for tasksync. Events are persisted as JSON Lines and metrics
// are derived on demand from the log.
package observability

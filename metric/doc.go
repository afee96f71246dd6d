// Package metric manages Prometheus metrics for the control loop. A
// MetricsRegistry owns the Prometheus registry, registers the core loop
// metrics at startup and guards component registrations against
// duplicates. Server exposes the registry over HTTP.
package metric

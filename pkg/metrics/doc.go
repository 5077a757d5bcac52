/*
Package metrics provides Prometheus metrics for the broker.

Metrics are defined as package-level collectors and registered at init.
Gauges tracking stored aggregates are refreshed by a background collector;
counters and histograms are updated inline by the boundary operations, the
provider handlers and the reconcile loop. The text exposition endpoint is
served through Handler.
*/
package metrics

/*
Package api implements the scheduler-facing boundary.

Five operations share one JSON envelope: getAvailableTemplates,
requestMachines, requestReturnMachines, getRequestStatus and
getReturnRequests. Each validates its input, consumes a rate-limit token
when a limiter is configured, invokes the lifecycle engine or template
store, and renders a structured response; recoverable failures become
error envelopes with stable error-type tags, never panics.

The same service backs both invocation modes: one-shot command invocations
reading the envelope from stdin, and the long-lived HTTP server with
/healthz and /metrics endpoints.
*/
package api

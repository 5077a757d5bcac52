// Package reconciler runs the broker's background loops: periodic
// reconciliation of active requests against the provider, machine health
// checks and retention cleanup of terminal requests.
package reconciler

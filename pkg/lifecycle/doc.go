/*
Package lifecycle drives requests and machines through their state
machines.

The engine owns the write path: it creates acquire and return requests,
reconciles running acquisitions against the provider's observed state, and
expires requests that exceed their timeout budget. Every mutation flows
through a unit of work, so storage commits and event dispatch stay ordered
and atomic per operation.
*/
package lifecycle

/*
Package events fans domain state-change events out to registered sinks.

The publisher is one-way: the unit of work hands it events after a storage
commit succeeds, and sinks never call back into aggregates. Three publisher
modes exist:

  - "logging": each event is written to the structured log
  - "sync":    registered handlers run inline on the publishing goroutine
  - "async":   events flow through a buffered channel to a dispatch
    goroutine; a full buffer drops the event rather than blocking

Handler registration is guarded by a lock; dispatch itself is lock-free.
Publish failures are logged and swallowed so persistence stays decoupled
from downstream sinks.
*/
package events

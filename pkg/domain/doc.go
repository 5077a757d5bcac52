/*
Package domain defines the aggregates at the center of Paddock: Templates,
Requests and Machines, together with their status state machines, the domain
events they emit, and the typed errors surfaced at the boundary.

Aggregates are created through factory constructors and mutated only through
named intent methods. Every mutation appends a pending event that the unit of
work collects and dispatches after a successful commit.

# Aggregates

Template:
  - Immutable provisioning recipe bound to one acquisition strategy
  - Validated on load (network placement, machine types, counts, spot role)

Request:
  - One acquisition (req-<uuid>) or return (ret-<uuid>) tracked by the broker
  - Status: pending → creating → running → complete | complete_with_error | failed
  - Terminal requests accept no further mutation except event-log append

Machine:
  - One cloud instance owned by its acquiring Request
  - Status transitions follow the machine state machine; terminal transitions
    stamp a timestamp and reason on the aggregate
*/
package domain

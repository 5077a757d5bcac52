/*
Package provider implements the acquisition handlers that translate broker
requests into AWS primitives.

Five handlers implement the same four-operation contract (create launch
template, acquire hosts, check host status, release hosts):

  - direct_launch:      RunInstances, reservation id, terminate directly
  - instant_fleet:      synchronous CreateFleet (type instant)
  - managed_fleet:      asynchronous CreateFleet (type maintain), partial
    returns reduce target capacity
  - auto_scaling_group: group with min=max=desired, subset returns detach
    and decrement
  - spot_fleet:         RequestSpotFleet with fleet role, price hint and
    allocation strategy

A registry dispatches on the template's strategy tag. Every cloud call
flows through one retry helper (exponential backoff with jitter, transient
error whitelist); exhausted retries are reclassified into typed handler
errors by AWS error code. Clients are consumed through narrow interfaces
so tests can substitute deterministic fakes.
*/
package provider

// Package registry defines the shared node registry the dispatcher reads and
// the durable polling counter the load balancer advances.
//
// The key space is store-agnostic:
//
//   - service:names          membership, one field per known service
//   - service:list:<service> live node addresses of a service
//   - service:polling        round-robin cursor, one field per service
//
// Nodes are written by an external process. This package only reads
// membership and node lists, and only mutates the polling counter through
// an atomic increment or an atomic set.
//
// Every store failure is marked with ErrUnavailable so callers can tell an
// unreachable store apart from a service that simply has no nodes.
package registry

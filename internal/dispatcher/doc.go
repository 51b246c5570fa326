// Package dispatcher sends one logical request to a remote service and
// retries it against other nodes when an attempt fails.
//
// Targets come either from a static gateway or, with client-side load
// balancing, from the shared registry through a Balancer. A call makes at
// most tryTimes attempts (1 to 3). Each attempt ends in one of three
// outcomes:
//
//   - success: status 200, the loop stops
//   - node failure: any other status, the node is excluded for the rest of
//     the call when load balancing is on
//   - transport error: no response at all, the node is not excluded
//
// PerformRequest returns the body of the last response it saw, so a caller
// gets the 200 body, the body of the final failing response, or "" when no
// attempt got a response. Only registry failures and running out of nodes
// surface as errors.
package dispatcher

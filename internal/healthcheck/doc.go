// Package healthcheck implements periodic health checking of the service
// registry. It pings the registry on an interval, logs state transitions,
// and exposes the current state over HTTP.
package healthcheck

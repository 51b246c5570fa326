// Package handler implements the sidecar HTTP handler. A request for
// /{service}/{path} is dispatched to the named service and the final body
// is written back to the caller.
package handler

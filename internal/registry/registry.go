package registry

import (
	"context"

	"github.com/cockroachdb/errors"
)

const (
	ServiceNamesKey   = "service:names"
	ServiceListPrefix = "service:list:"
	ServicePollingKey = "service:polling"
)

// ErrUnavailable marks errors raised when the backing store cannot be
// reached or queried.
var ErrUnavailable = errors.New("registry unavailable")

// NodeRegistry answers membership questions for a service.
type NodeRegistry interface {
	Exists(ctx context.Context, serviceName string) (bool, error)
	// ListNodes returns the current node addresses of a service in store
	// order. A missing list yields nil.
	ListNodes(ctx context.Context, serviceName string) ([]string, error)
}

// AtomicCounterStore holds one polling counter per service.
type AtomicCounterStore interface {
	Increment(ctx context.Context, serviceName string) (int64, error)
	Set(ctx context.Context, serviceName string, value int64) error
}

// Store is a registry backend that serves both node lookups and counters.
type Store interface {
	NodeRegistry
	AtomicCounterStore
	Ping(ctx context.Context) error
	Close() error
}

// ServiceListKey returns the key holding the node list of a service.
func ServiceListKey(serviceName string) string {
	return ServiceListPrefix + serviceName
}

func unavailable(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrUnavailable)
}

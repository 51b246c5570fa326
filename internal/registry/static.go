package registry

import (
	"context"
	"sync"

	"github.com/angeloszaimis/dispatcher/config"
)

// StaticStore serves a fixed set of services from memory. Counters live in
// the process, so round robin is only shared by callers of the same store.
type StaticStore struct {
	mutex    sync.Mutex
	services map[string][]string
	counters map[string]int64
}

var _ Store = (*StaticStore)(nil)

func NewStaticStore(services []config.StaticService) *StaticStore {
	s := &StaticStore{
		services: make(map[string][]string, len(services)),
		counters: make(map[string]int64),
	}
	for _, svc := range services {
		s.SetNodes(svc.Name, svc.Nodes...)
	}
	return s
}

// SetNodes registers a service and replaces its node list. Passing no
// nodes keeps the service registered with an empty list.
func (s *StaticStore) SetNodes(serviceName string, nodes ...string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.services[serviceName] = append([]string(nil), nodes...)
}

// RemoveService drops a service and its node list.
func (s *StaticStore) RemoveService(serviceName string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.services, serviceName)
}

// Counter returns the current polling counter of a service.
func (s *StaticStore) Counter(serviceName string) int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.counters[serviceName]
}

func (s *StaticStore) Exists(_ context.Context, serviceName string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.services[serviceName]
	return ok, nil
}

func (s *StaticStore) ListNodes(_ context.Context, serviceName string) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	nodes, ok := s.services[serviceName]
	if !ok || len(nodes) == 0 {
		return nil, nil
	}
	return append([]string(nil), nodes...), nil
}

func (s *StaticStore) Increment(_ context.Context, serviceName string) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.counters[serviceName]++
	return s.counters[serviceName], nil
}

func (s *StaticStore) Set(_ context.Context, serviceName string, value int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.counters[serviceName] = value
	return nil
}

func (s *StaticStore) Ping(context.Context) error { return nil }

func (s *StaticStore) Close() error { return nil }

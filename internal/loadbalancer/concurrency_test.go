package loadbalancer_test

import (
	"context"
	"sync"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/dispatcher/internal/loadbalancer"
	"github.com/angeloszaimis/dispatcher/internal/registry"
)

var _ = Describe("LoadBalancer with a shared Redis registry", func() {
	const (
		balancers = 4
		calls     = 100
	)

	var (
		ctx    context.Context
		server *miniredis.Miniredis
		stores []*registry.RedisStore
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		server, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())

		stores = nil
		for range balancers {
			stores = append(stores, registry.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: server.Addr()})))
		}
	})

	AfterEach(func() {
		for _, s := range stores {
			s.Close()
		}
		server.Close()
	})

	It("should never hand the same polling value to two callers", func() {
		var (
			mu   sync.Mutex
			seen = make(map[int64]int)
			wg   sync.WaitGroup
		)

		for _, store := range stores {
			lb := loadbalancer.NewLoadBalancer(store, store, 10000, 1)
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for range calls {
					n, err := lb.NextPolling(ctx, "user", 3)
					Expect(err).NotTo(HaveOccurred())
					mu.Lock()
					seen[n]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Expect(seen).To(HaveLen(balancers * calls))
		for n := int64(1); n <= balancers*calls; n++ {
			Expect(seen).To(HaveKeyWithValue(n, 1))
		}
		Expect(server.HGet(registry.ServicePollingKey, "user")).To(Equal("400"))
	})

	It("should spread concurrent targets evenly over the nodes", func() {
		server.HSet(registry.ServiceNamesKey, "user", "1")
		server.HSet(registry.ServiceListKey("user"), "n1", "{}", "n2", "{}", "n3", "{}", "n4", "{}")

		var (
			mu   sync.Mutex
			hits = make(map[string]int)
			wg   sync.WaitGroup
		)

		for _, store := range stores {
			lb := loadbalancer.NewLoadBalancer(store, store, 10000, 1)
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for range calls {
					target, err := lb.GetTarget(ctx, "user", nil)
					Expect(err).NotTo(HaveOccurred())
					mu.Lock()
					hits[target]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Expect(hits).To(HaveLen(4))
		for _, n := range hits {
			Expect(n).To(Equal(calls))
		}
	})
})

package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatcher/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	It("should start empty", func() {
		snap := m.Snapshot()
		Expect(snap.TotalAttempts).To(BeZero())
		Expect(snap.Targets).To(BeEmpty())
		Expect(snap.NoNodes).To(BeEmpty())
	})

	It("should count attempts per target", func() {
		m.IncrementAttempts("http://n1")
		m.IncrementAttempts("http://n1")
		m.IncrementAttempts("http://n2")

		snap := m.Snapshot()
		Expect(snap.TotalAttempts).To(Equal(int64(3)))
		Expect(snap.Targets["http://n1"].Attempts).To(Equal(int64(2)))
		Expect(snap.Targets["http://n2"].Attempts).To(Equal(int64(1)))
	})

	It("should track failures, exclusions and status codes", func() {
		m.RecordTransportFailure("http://n1")
		m.RecordExclusion("http://n2")
		m.RecordResponse("http://n2", 10*time.Millisecond, 500)
		m.RecordResponse("http://n2", 30*time.Millisecond, 200)
		m.RecordNoAvailableNode("user")

		snap := m.Snapshot()
		Expect(snap.Targets["http://n1"].TransportFailures).To(Equal(int64(1)))
		Expect(snap.Targets["http://n2"].Exclusions).To(Equal(int64(1)))
		Expect(snap.Targets["http://n2"].StatusCodes).To(Equal(map[int]int64{500: 1, 200: 1}))
		Expect(snap.Targets["http://n2"].AvgResponse).To(Equal(20 * time.Millisecond))
		Expect(snap.NoNodes).To(HaveKeyWithValue("user", int64(1)))
	})

	It("should compute percentiles over sorted samples", func() {
		for i := 1; i <= 100; i++ {
			m.RecordResponse("http://n1", time.Duration(i)*time.Millisecond, 200)
		}

		tm := m.Snapshot().Targets["http://n1"]
		Expect(tm.P50Response).To(Equal(51 * time.Millisecond))
		Expect(tm.P95Response).To(Equal(96 * time.Millisecond))
		Expect(tm.P99Response).To(Equal(100 * time.Millisecond))
	})

	It("should keep a bounded window of samples", func() {
		for i := 0; i < 1500; i++ {
			m.RecordResponse("http://n1", time.Second, 200)
		}
		for i := 0; i < 1000; i++ {
			m.RecordResponse("http://n1", time.Millisecond, 200)
		}

		tm := m.Snapshot().Targets["http://n1"]
		Expect(tm.StatusCodes[200]).To(Equal(int64(2500)))
		Expect(tm.AvgResponse).To(Equal(time.Millisecond))
		Expect(tm.P99Response).To(Equal(time.Millisecond))
	})
})

package handler_test

import (
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatcher/config"
	"github.com/angeloszaimis/dispatcher/internal/dispatcher"
	"github.com/angeloszaimis/dispatcher/internal/handler"
	"github.com/angeloszaimis/dispatcher/internal/registry"
	"github.com/angeloszaimis/dispatcher/internal/transport"
)

type call struct {
	service  string
	method   string
	entrance string
	opts     transport.Options
}

type fakeDispatcher struct {
	body  string
	err   error
	calls []call
}

func (f *fakeDispatcher) PerformRequest(_ context.Context, service, method, entrance string, opts transport.Options) (string, error) {
	f.calls = append(f.calls, call{service: service, method: method, entrance: entrance, opts: opts})
	return f.body, f.err
}

var _ = Describe("Handler", func() {
	var (
		h    *handler.DispatchHandler
		fake *fakeDispatcher
		log  *slog.Logger
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, nil))
		fake = &fakeDispatcher{body: "backend1"}
		h = handler.NewDispatchHandler(log, fake)
	})

	Describe("ServeHTTP", func() {
		It("should dispatch to the service named by the first segment", func() {
			req := httptest.NewRequest(http.MethodPost, "/user/profile/1?verbose=1", strings.NewReader(`{"a":1}`))
			req.Header.Set("X-Trace", "abc")
			req.Header.Set("Connection", "keep-alive")
			req.Header.Set("Accept-Encoding", "gzip, br")
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal("backend1"))
			Expect(fake.calls).To(HaveLen(1))

			c := fake.calls[0]
			Expect(c.service).To(Equal("user"))
			Expect(c.method).To(Equal(http.MethodPost))
			Expect(c.entrance).To(Equal("/profile/1"))
			Expect(c.opts.Body).To(Equal(`{"a":1}`))
			Expect(c.opts.Query.Get("verbose")).To(Equal("1"))
			Expect(c.opts.Headers.Get("X-Trace")).To(Equal("abc"))
			Expect(c.opts.Headers.Get("Connection")).To(BeEmpty())
			Expect(c.opts.Headers.Get("Accept-Encoding")).To(BeEmpty())
		})

		It("should dispatch a bare service to its root", func() {
			req := httptest.NewRequest(http.MethodGet, "/user", nil)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(fake.calls[0].entrance).To(Equal("/"))
			Expect(fake.calls[0].opts.Body).To(BeEmpty())
			Expect(fake.calls[0].opts.Query).To(BeNil())
		})

		It("should return 404 without a service", func() {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(fake.calls).To(BeEmpty())
		})

		DescribeTable("should map dispatch errors to statuses",
			func(err error, status int) {
				fake.err = err
				req := httptest.NewRequest(http.MethodGet, "/user/x", nil)
				w := httptest.NewRecorder()

				h.ServeHTTP(w, req)

				Expect(w.Code).To(Equal(status))
			},
			Entry("registry unavailable",
				errors.Mark(errors.New("dial tcp: refused"), registry.ErrUnavailable), http.StatusBadGateway),
			Entry("no available nodes",
				errors.Wrap(dispatcher.ErrNoAvailableNodes, "service \"user\""), http.StatusServiceUnavailable),
			Entry("deadline", context.DeadlineExceeded, http.StatusGatewayTimeout),
			Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
		)
	})
})

var _ = Describe("Handler with a compressing node", func() {
	var (
		node    *httptest.Server
		sidecar *httptest.Server
	)

	BeforeEach(func() {
		node = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				w.Write([]byte("hello"))
				return
			}
			w.Header().Set("Content-Encoding", "gzip")
			zw := gzip.NewWriter(w)
			zw.Write([]byte("hello"))
			zw.Close()
		}))

		d, err := dispatcher.New(
			config.DispatchConfig{Gateway: node.URL, TryTimes: 1},
			transport.NewHTTPTransport(5*time.Second),
			nil,
		)
		Expect(err).NotTo(HaveOccurred())

		log := slog.New(slog.NewTextHandler(io.Discard, nil))
		sidecar = httptest.NewServer(handler.NewDispatchHandler(log, d))
	})

	AfterEach(func() {
		sidecar.Close()
		node.Close()
	})

	It("should return a decoded body to a client asking for gzip", func() {
		req, err := http.NewRequest(http.MethodGet, sidecar.URL+"/user/greeting", nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Accept-Encoding", "gzip")

		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Encoding")).To(BeEmpty())
		Expect(string(body)).To(Equal("hello"))
	})

	It("should return a decoded body to a plain client", func() {
		resp, err := http.Get(sidecar.URL + "/user/greeting")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("hello"))
	})
})

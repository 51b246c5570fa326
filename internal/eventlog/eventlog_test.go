package eventlog_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatcher/config"
	"github.com/angeloszaimis/dispatcher/internal/eventlog"
	"github.com/angeloszaimis/dispatcher/internal/transport"
)

func decodeLines(raw string) []map[string]any {
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		Expect(json.Unmarshal([]byte(line), &rec)).To(Succeed())
		records = append(records, rec)
	}
	return records
}

var _ = Describe("ZapLogger", func() {
	var (
		buf    *bytes.Buffer
		logger *eventlog.ZapLogger
		opts   transport.Options
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		logger = eventlog.NewWithWriter(buf, "service_client")
		opts = transport.Options{Headers: http.Header{"X-Trace": {"abc"}}}
	})

	It("should write request events with the common fields", func() {
		logger.Write(eventlog.Event{
			Action:    eventlog.ActionRequest,
			RequestID: "req-1",
			Service:   "user",
			Attempt:   1,
			Method:    "GET",
			URL:       "http://n1/users",
			Options:   opts,
		})

		records := decodeLines(buf.String())
		Expect(records).To(HaveLen(1))
		Expect(records[0]).To(HaveKeyWithValue("action", "request"))
		Expect(records[0]).To(HaveKeyWithValue("request_id", "req-1"))
		Expect(records[0]).To(HaveKeyWithValue("service", "user"))
		Expect(records[0]).To(HaveKeyWithValue("method", "GET"))
		Expect(records[0]).To(HaveKeyWithValue("url", "http://n1/users"))
		Expect(records[0]).To(HaveKey("options"))
		Expect(records[0]).NotTo(HaveKey("http_status_code"))
		Expect(records[0]).NotTo(HaveKey("exception_message"))
	})

	It("should add status and body to response events", func() {
		logger.Write(eventlog.Event{
			Action:     eventlog.ActionResponse,
			Method:     "GET",
			URL:        "http://n1/users",
			StatusCode: 500,
			Body:       "err",
		})

		records := decodeLines(buf.String())
		Expect(records[0]).To(HaveKeyWithValue("http_status_code", BeNumerically("==", 500)))
		Expect(records[0]).To(HaveKeyWithValue("response_body", "err"))
	})

	It("should add message and trace to exception events", func() {
		logger.Write(eventlog.Event{
			Action:           eventlog.ActionHTTPException,
			Method:           "GET",
			URL:              "http://n1/users",
			ExceptionMessage: "connection refused",
			ExceptionTrace:   "stack",
		})

		records := decodeLines(buf.String())
		Expect(records[0]).To(HaveKeyWithValue("exception_message", "connection refused"))
		Expect(records[0]).To(HaveKeyWithValue("exception_trace", "stack"))
		Expect(records[0]).NotTo(HaveKey("response_body"))
	})
})

var _ = Describe("New", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "eventlog-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	It("should return a no-op logger when disabled", func() {
		logger, err := eventlog.New(config.EventLogConfig{Enabled: false})
		Expect(err).NotTo(HaveOccurred())
		Expect(logger).To(Equal(eventlog.Nop{}))
		logger.Write(eventlog.Event{Action: eventlog.ActionRequest})
	})

	It("should write daily files under path/name", func() {
		logger, err := eventlog.New(config.EventLogConfig{
			Enabled: true,
			Path:    tempDir,
			Name:    "service_client",
			MaxAge:  "168h",
		})
		Expect(err).NotTo(HaveOccurred())

		logger.Write(eventlog.Event{Action: eventlog.ActionRequest, Method: "GET", URL: "http://n1/"})

		zl, ok := logger.(*eventlog.ZapLogger)
		Expect(ok).To(BeTrue())
		Expect(zl.Close()).To(Succeed())

		files, err := filepath.Glob(filepath.Join(tempDir, "service_client", "*_service_client.log"))
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(HaveLen(1))

		content, err := os.ReadFile(files[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(decodeLines(string(content))[0]).To(HaveKeyWithValue("action", "request"))
	})
})

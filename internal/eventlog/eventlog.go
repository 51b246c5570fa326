package eventlog

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/angeloszaimis/dispatcher/config"
	"github.com/angeloszaimis/dispatcher/internal/transport"
)

const (
	ActionRequest       = "request"
	ActionResponse      = "response"
	ActionHTTPException = "http_exception"
)

type Event struct {
	Action    string
	RequestID string
	Service   string
	Attempt   int
	Method    string
	URL       string
	Options   transport.Options

	// response
	StatusCode int
	Body       string

	// http_exception
	ExceptionMessage string
	ExceptionTrace   string
}

type Logger interface {
	Write(Event)
}

// ZapLogger encodes events with zap onto a rotating file or any writer.
type ZapLogger struct {
	logger *zap.Logger
	closer io.Closer
}

var _ Logger = (*ZapLogger)(nil)

// New builds the logger described by cfg. A disabled config returns Nop.
func New(cfg config.EventLogConfig) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}

	dir := filepath.Join(cfg.Path, cfg.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create event log directory %s", dir)
	}

	pattern := filepath.Join(dir, "%Y%m%d_"+strconv.Itoa(os.Getpid())+"_"+cfg.Name+".log")
	writer, err := rotatelogs.New(
		pattern,
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(config.Duration(cfg.MaxAge)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "open event log")
	}

	l := NewWithWriter(writer, cfg.Name)
	l.closer = writer
	return l, nil
}

// NewWithWriter writes events to w, one JSON object per line.
func NewWithWriter(w io.Writer, name string) *ZapLogger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		zapcore.InfoLevel,
	)

	return &ZapLogger{logger: zap.New(core).Named(name)}
}

func (l *ZapLogger) Write(e Event) {
	fields := []zap.Field{
		zap.String("action", e.Action),
		zap.String("request_id", e.RequestID),
		zap.String("service", e.Service),
		zap.Int("attempt", e.Attempt),
		zap.String("method", e.Method),
		zap.String("url", e.URL),
		zap.Any("options", e.Options),
	}

	switch e.Action {
	case ActionResponse:
		fields = append(fields,
			zap.Int("http_status_code", e.StatusCode),
			zap.String("response_body", e.Body),
		)
	case ActionHTTPException:
		fields = append(fields,
			zap.String("exception_message", e.ExceptionMessage),
			zap.String("exception_trace", e.ExceptionTrace),
		)
	}

	l.logger.Info(e.Action, fields...)
}

// Close flushes buffered entries and releases the file.
func (l *ZapLogger) Close() error {
	_ = l.logger.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Write(Event) {}

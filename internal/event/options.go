package event

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHandlerTimeout bounds a single handler call.
const DefaultHandlerTimeout = 5 * time.Second

const tracerName = "github.com/dshills/quill/internal/event"

// ReactorOption configures a Reactor.
type ReactorOption func(*reactorConfig)

// reactorConfig contains configuration for the reactor.
type reactorConfig struct {
	// handlerTimeout bounds each handler call; zero disables it.
	handlerTimeout time.Duration

	logger   zerolog.Logger
	recorder Recorder
	tracer   trace.Tracer

	observers []Observer
}

// defaultReactorConfig returns sensible default configuration.
func defaultReactorConfig() reactorConfig {
	return reactorConfig{
		handlerTimeout: DefaultHandlerTimeout,
		logger:         log.Logger.With().Str("component", "reactor").Logger(),
		recorder:       nopRecorder{},
		tracer:         otel.GetTracerProvider().Tracer(tracerName),
	}
}

// WithHandlerTimeout sets the per-handler timeout. A handler still running
// when it expires is abandoned and recorded as a soft error. Zero disables
// the timeout.
func WithHandlerTimeout(timeout time.Duration) ReactorOption {
	return func(c *reactorConfig) {
		if timeout >= 0 {
			c.handlerTimeout = timeout
		}
	}
}

// WithLogger sets the reactor logger.
func WithLogger(logger zerolog.Logger) ReactorOption {
	return func(c *reactorConfig) {
		c.logger = logger.With().Str("component", "reactor").Logger()
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ReactorOption {
	return func(c *reactorConfig) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) ReactorOption {
	return func(c *reactorConfig) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithObserver adds an observer notified after every dispatch.
func WithObserver(o Observer) ReactorOption {
	return func(c *reactorConfig) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// Recorder receives dispatch measurements. The metrics package provides a
// Prometheus implementation.
type Recorder interface {
	// ObserveDispatch is called once per dispatch with status "ok",
	// "cancelled" or "error".
	ObserveDispatch(eventType, status string, d time.Duration)

	// ObserveHandler is called once per handler call with status "ok",
	// "cancel", "soft_error", "error", "panic" or "timeout".
	ObserveHandler(handler string, runtime Runtime, status string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDispatch(string, string, time.Duration) {}
func (nopRecorder) ObserveHandler(string, Runtime, string, time.Duration) {}

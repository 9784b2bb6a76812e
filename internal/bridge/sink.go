package bridge

import (
	"context"
	"io"
	"sync"
)

// Sink delivers encoded documents to plugins.
type Sink interface {
	Send(ctx context.Context, doc []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, doc []byte) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, doc []byte) error {
	return f(ctx, doc)
}

// WriterSink writes one document per line to w.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink returns a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Send implements Sink.
func (s *WriterSink) Send(_ context.Context, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := make([]byte, 0, len(doc)+1)
	line = append(line, doc...)
	line = append(line, '\n')
	_, err := s.w.Write(line)
	return err
}

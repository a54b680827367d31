package api

import (
	"bytes"
	"errors"
	"net/http"
)

const defaultFlushBytes = 32 << 10

// responseSink buffers streamed output and commits the response status on
// the first flush. Until then a failure can still be answered with a clean
// error document.
type responseSink struct {
	w          http.ResponseWriter
	controller *http.ResponseController
	buf        bytes.Buffer
	flushBytes int
	committed  bool
	written    int64
}

func newResponseSink(w http.ResponseWriter, flushBytes int) *responseSink {
	if flushBytes <= 0 {
		flushBytes = defaultFlushBytes
	}
	return &responseSink{
		w:          w,
		controller: http.NewResponseController(w),
		flushBytes: flushBytes,
	}
}

func (s *responseSink) Write(p []byte) (int, error) {
	n, _ := s.buf.Write(p)
	if s.buf.Len() >= s.flushBytes {
		if err := s.Flush(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Flush commits the response and pushes buffered bytes to the client.
func (s *responseSink) Flush() error {
	if !s.committed {
		s.committed = true
		s.w.WriteHeader(http.StatusOK)
	}
	if s.buf.Len() > 0 {
		n, err := s.w.Write(s.buf.Bytes())
		s.written += int64(n)
		s.buf.Reset()
		if err != nil {
			return err
		}
	}
	if err := s.controller.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (s *responseSink) Committed() bool {
	return s.committed
}

// Discard drops bytes that were not flushed yet.
func (s *responseSink) Discard() {
	s.buf.Reset()
}

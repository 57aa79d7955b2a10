// Package eve implements the shared EVE output machinery: the thread-safe
// newline-delimited JSON sink, the standard event header, the per-thread
// scratch buffer, and rotation handling. Loggers serialize records through
// their own scratch buffer and hand complete lines to the sink; the sink's
// internal mutex is the only cross-thread serialization point on the write
// path.
package eve

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultBufferSize is the default capacity for the sink's write buffer and
// for per-thread scratch buffers.
const DefaultBufferSize = 65535

const defaultFileMode os.FileMode = 0o600

// ErrSinkClosed is returned by Write after Close.
var ErrSinkClosed = errors.New("eve: sink closed")

// Sink is an append-only NDJSON file sink shared by all worker threads.
// All methods are safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	closed bool

	path     string
	bufSize  int
	fileMode os.FileMode

	flushEvery time.Duration
	done       chan struct{}
	closeOnce  sync.Once
	flushWG    sync.WaitGroup

	log      zerolog.Logger
	writeErr rate.Sometimes
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithBufferSize sets the buffered writer capacity.
func WithBufferSize(n int) SinkOption {
	return func(s *Sink) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// WithFileMode sets the permissions used when creating the output file.
func WithFileMode(mode os.FileMode) SinkOption {
	return func(s *Sink) {
		s.fileMode = mode
	}
}

// WithLogger sets the diagnostic logger for write and rotation errors.
func WithLogger(log zerolog.Logger) SinkOption {
	return func(s *Sink) {
		s.log = log
	}
}

// WithFlushInterval enables a background flusher that drains the write
// buffer every d, bounding how long records sit unflushed under low event
// rates.
func WithFlushInterval(d time.Duration) SinkOption {
	return func(s *Sink) {
		if d > 0 {
			s.flushEvery = d
		}
	}
}

// NewFileSink opens (appending, creating if needed) the file at path.
func NewFileSink(path string, opts ...SinkOption) (*Sink, error) {
	s := &Sink{
		path:     path,
		bufSize:  DefaultBufferSize,
		fileMode: defaultFileMode,
		done:     make(chan struct{}),
		log:      zerolog.Nop(),
		writeErr: rate.Sometimes{First: 3, Interval: time.Minute},
	}
	for _, opt := range opts {
		opt(s)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, s.fileMode) //nolint:gosec // G304: path validated by config layer
	if err != nil {
		return nil, fmt.Errorf("eve: opening %s: %w", path, err)
	}
	s.f = f
	s.w = bufio.NewWriterSize(f, s.bufSize)

	if s.flushEvery > 0 {
		s.flushWG.Add(1)
		go s.flushLoop()
	}

	return s, nil
}

// Path returns the output file path.
func (s *Sink) Path() string {
	return s.path
}

// Write appends one record as a single line. A trailing newline is added
// when rec lacks one. The write is atomic with respect to other writers.
func (s *Sink) Write(rec []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	if _, err := s.w.Write(rec); err != nil {
		return s.writeFailed(err)
	}
	if len(rec) == 0 || rec[len(rec)-1] != '\n' {
		if err := s.w.WriteByte('\n'); err != nil {
			return s.writeFailed(err)
		}
	}
	return nil
}

// writeFailed logs a throttled diagnostic and wraps the error. Callers hold mu.
func (s *Sink) writeFailed(err error) error {
	s.writeErr.Do(func() {
		s.log.Error().Err(err).Str("path", s.path).Msg("eve output write failed")
	})
	return fmt.Errorf("eve: writing %s: %w", s.path, err)
}

// Flush drains the write buffer to the file.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	return s.w.Flush()
}

// Reopen flushes and reopens the output file. Called after the file has been
// rotated away (rename or removal by an external log rotator); subsequent
// writes land in a fresh file at the original path.
func (s *Sink) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	_ = s.w.Flush()
	_ = s.f.Close()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, s.fileMode) //nolint:gosec // G304: path validated by config layer
	if err != nil {
		return fmt.Errorf("eve: reopening %s: %w", s.path, err)
	}
	s.f = f
	s.w = bufio.NewWriterSize(f, s.bufSize)
	s.log.Info().Str("path", s.path).Msg("eve output reopened")
	return nil
}

// Close flushes and closes the file. Idempotent.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.flushWG.Wait()

		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		ferr := s.w.Flush()
		cerr := s.f.Close()
		if ferr != nil {
			err = ferr
		} else {
			err = cerr
		}
	})
	return err
}

func (s *Sink) flushLoop() {
	defer s.flushWG.Done()
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil && !errors.Is(err, ErrSinkClosed) {
				s.log.Warn().Err(err).Str("path", s.path).Msg("eve output flush failed")
			}
		}
	}
}

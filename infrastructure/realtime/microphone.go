package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"learngraph/application/voice"
)

// DefaultFrameDuration is the capture frame length
const DefaultFrameDuration = 20 * time.Millisecond

// ReaderSource turns a raw PCM16 stream (a pipe from a capture tool, or a
// file) into fixed-size frames
type ReaderSource struct {
	r      io.Reader
	format voice.AudioFormat
	frame  time.Duration
	paced  bool
	logger *zap.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ voice.AudioSource = (*ReaderSource)(nil)

// NewReaderSource creates a source. When paced is true frames are released
// at the rate they would be captured live, which is what a file needs.
func NewReaderSource(r io.Reader, format voice.AudioFormat, paced bool, logger *zap.Logger) *ReaderSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReaderSource{
		r:      r,
		format: format,
		frame:  DefaultFrameDuration,
		paced:  paced,
		logger: logger,
	}
}

// Start begins reading. The returned channel closes at end of stream, on
// Close or when ctx ends. A source can be started again after Close once
// its previous reader goroutine has returned.
func (s *ReaderSource) Start(ctx context.Context) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, errors.New("audio source already started")
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return nil, errors.New("audio source still reading from its previous start")
		}
	}
	size := s.format.Bytes(s.frame)
	if size <= 0 {
		return nil, errors.New("audio format yields an empty frame")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})
	frames := make(chan []byte)
	go s.read(ctx, size, frames)
	return frames, nil
}

func (s *ReaderSource) read(ctx context.Context, size int, frames chan<- []byte) {
	defer close(s.done)
	defer close(frames)

	var tick <-chan time.Time
	if s.paced {
		ticker := time.NewTicker(s.frame)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				}
			}
			select {
			case frames <- buf[:n-n%2]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Warn("Microphone read failed", zap.Error(err))
			}
			return
		}
	}
}

// Close stops delivery. It waits for the reader goroutine only when the
// reader is an io.Closer, since nothing else can unblock a pending Read.
func (s *ReaderSource) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.started = false
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	c, ok := s.r.(io.Closer)
	if !ok {
		return nil
	}
	err := c.Close()
	<-done
	return err
}

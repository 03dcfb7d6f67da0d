package voice

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// AudioFormat specifies the PCM layout of captured audio. Samples are
// 16-bit signed little-endian.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// DefaultAudioFormat is 24kHz mono, the agent's pcm16 input format
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{SampleRate: 24000, Channels: 1}
}

// BytesPerSecond returns the byte rate of the format
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration converts a byte count into playback time
func (f AudioFormat) Duration(bytes int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(bytes) * time.Second / time.Duration(bps)
}

// Bytes converts a duration into a frame-aligned byte count
func (f AudioFormat) Bytes(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%f.frameBytes()
}

func (f AudioFormat) frameBytes() int {
	if f.Channels <= 0 {
		return 2
	}
	return 2 * f.Channels
}

// CalculateAverageAmplitude returns the mean absolute sample value of
// 16-bit little-endian PCM, normalized to 0.0-1.0
func CalculateAverageAmplitude(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		sum += math.Abs(float64(sample))
	}
	return sum / float64(samples) / 32768.0
}

// CaptureTuning holds the thresholds that drive the flush policy. It can
// be replaced while a session runs.
type CaptureTuning struct {
	// AmplitudeThreshold separates active frames from silence
	AmplitudeThreshold float64
	// FlushInterval is how much continued activity triggers a flush
	FlushInterval time.Duration
	// SilenceFrames is the run of silent frames that ends an utterance
	SilenceFrames int
}

// DefaultCaptureTuning returns the standard thresholds
func DefaultCaptureTuning() CaptureTuning {
	return CaptureTuning{
		AmplitudeThreshold: 0.01,
		FlushInterval:      200 * time.Millisecond,
		SilenceFrames:      5,
	}
}

func (t CaptureTuning) withDefaults() CaptureTuning {
	def := DefaultCaptureTuning()
	if t.AmplitudeThreshold <= 0 || math.IsNaN(t.AmplitudeThreshold) {
		t.AmplitudeThreshold = def.AmplitudeThreshold
	}
	if t.FlushInterval <= 0 {
		t.FlushInterval = def.FlushInterval
	}
	if t.SilenceFrames <= 0 {
		t.SilenceFrames = def.SilenceFrames
	}
	return t
}

// DefaultMaxBuffered caps audio held while flushing is suppressed
const DefaultMaxBuffered = 60 * time.Second

// CaptureStats summarizes what a capture has seen
type CaptureStats struct {
	ActiveFrames  int
	SilentFrames  int
	Flushes       int
	FlushedBytes  int
	DroppedBytes  int
	BufferedBytes int
}

// AudioCapture classifies microphone frames and decides when buffered
// speech should be transmitted. Time is derived from frame sizes, so the
// policy is deterministic under test.
//
// Only active frames are buffered. Audio keeps accumulating while the
// caller says flushing is not allowed, and is sent as soon as it is.
type AudioCapture struct {
	format      AudioFormat
	tuning      CaptureTuning
	maxBuffered int
	logger      *zap.Logger

	buf       []byte
	activeRun time.Duration
	silentRun int
	stats     CaptureStats
}

// NewAudioCapture creates a capture. maxBuffered <= 0 uses DefaultMaxBuffered.
func NewAudioCapture(format AudioFormat, tuning CaptureTuning, maxBuffered time.Duration, logger *zap.Logger) *AudioCapture {
	if logger == nil {
		logger = zap.NewNop()
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		format = DefaultAudioFormat()
	}
	if maxBuffered <= 0 {
		maxBuffered = DefaultMaxBuffered
	}
	return &AudioCapture{
		format:      format,
		tuning:      tuning.withDefaults(),
		maxBuffered: format.Bytes(maxBuffered),
		logger:      logger,
	}
}

// SetTuning replaces the flush thresholds
func (c *AudioCapture) SetTuning(t CaptureTuning) {
	c.tuning = t.withDefaults()
}

// Tuning returns the active thresholds
func (c *AudioCapture) Tuning() CaptureTuning {
	return c.tuning
}

// Process consumes one microphone frame. When canFlush is true and the
// flush policy fires, the buffered audio is returned and the buffer is
// emptied; otherwise Process returns nil.
func (c *AudioCapture) Process(frame []byte, canFlush bool) []byte {
	if len(frame) == 0 {
		return nil
	}

	if CalculateAverageAmplitude(frame) >= c.tuning.AmplitudeThreshold {
		c.stats.ActiveFrames++
		c.silentRun = 0
		c.activeRun += c.format.Duration(len(frame))
		c.buf = append(c.buf, frame...)
		c.enforceCap()
	} else {
		c.stats.SilentFrames++
		c.silentRun++
	}

	if !canFlush || len(c.buf) == 0 {
		return nil
	}
	if c.activeRun < c.tuning.FlushInterval && c.silentRun < c.tuning.SilenceFrames {
		return nil
	}
	return c.take()
}

func (c *AudioCapture) take() []byte {
	out := c.buf
	c.buf = nil
	c.activeRun = 0
	c.stats.Flushes++
	c.stats.FlushedBytes += len(out)
	return out
}

func (c *AudioCapture) enforceCap() {
	excess := len(c.buf) - c.maxBuffered
	if excess <= 0 {
		return
	}
	if rem := excess % c.format.frameBytes(); rem != 0 {
		excess += c.format.frameBytes() - rem
	}
	c.buf = append([]byte(nil), c.buf[excess:]...)
	c.stats.DroppedBytes += excess
	c.logger.Warn("Dropped oldest buffered audio",
		zap.Int("droppedBytes", excess),
		zap.Duration("dropped", c.format.Duration(excess)),
		zap.Duration("cap", c.format.Duration(c.maxBuffered)),
	)
}

// Buffered returns the number of bytes awaiting transmission
func (c *AudioCapture) Buffered() int {
	return len(c.buf)
}

// Stats returns counters for the capture so far
func (c *AudioCapture) Stats() CaptureStats {
	s := c.stats
	s.BufferedBytes = len(c.buf)
	return s
}

// Reset discards buffered audio and run state
func (c *AudioCapture) Reset() {
	c.buf = nil
	c.activeRun = 0
	c.silentRun = 0
}

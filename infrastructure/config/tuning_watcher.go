package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"learngraph/application/voice"
	"learngraph/pkg/timing"
)

// DefaultReloadDelay coalesces the burst of events an editor save produces
const DefaultReloadDelay = 100 * time.Millisecond

// tuningFile is the on-disk JSON form of voice.CaptureTuning
type tuningFile struct {
	AmplitudeThreshold float64 `json:"amplitudeThreshold"`
	FlushIntervalMS    int     `json:"flushIntervalMs"`
	SilenceFrames      int     `json:"silenceFrames"`
}

// LoadTuning reads and validates a tuning file. Omitted fields keep their
// defaults.
func LoadTuning(path string) (voice.CaptureTuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return voice.CaptureTuning{}, fmt.Errorf("read tuning file: %w", err)
	}
	def := voice.DefaultCaptureTuning()
	f := tuningFile{
		AmplitudeThreshold: def.AmplitudeThreshold,
		FlushIntervalMS:    int(def.FlushInterval / time.Millisecond),
		SilenceFrames:      def.SilenceFrames,
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return voice.CaptureTuning{}, fmt.Errorf("parse tuning file: %w", err)
	}
	t := voice.CaptureTuning{
		AmplitudeThreshold: f.AmplitudeThreshold,
		FlushInterval:      time.Duration(f.FlushIntervalMS) * time.Millisecond,
		SilenceFrames:      f.SilenceFrames,
	}
	if err := validateTuning(t); err != nil {
		return voice.CaptureTuning{}, err
	}
	return t, nil
}

func validateTuning(t voice.CaptureTuning) error {
	if t.AmplitudeThreshold <= 0 || t.AmplitudeThreshold >= 1 {
		return fmt.Errorf("amplitudeThreshold must be between 0 and 1, got %v", t.AmplitudeThreshold)
	}
	if t.FlushInterval < 20*time.Millisecond || t.FlushInterval > 10*time.Second {
		return fmt.Errorf("flushIntervalMs must be between 20 and 10000, got %v", t.FlushInterval)
	}
	if t.SilenceFrames < 1 || t.SilenceFrames > 500 {
		return fmt.Errorf("silenceFrames must be between 1 and 500, got %d", t.SilenceFrames)
	}
	return nil
}

// TuningWatcher reloads capture tuning when its file changes. Invalid
// edits are logged and the previous tuning stays in effect.
type TuningWatcher struct {
	path      string
	watcher   *fsnotify.Watcher
	debouncer *timing.Debouncer
	logger    *zap.Logger

	mu       sync.RWMutex
	current  voice.CaptureTuning
	onChange []func(voice.CaptureTuning)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTuningWatcher loads path and prepares to watch it. A zero delay uses
// DefaultReloadDelay.
func NewTuningWatcher(path string, delay time.Duration, logger *zap.Logger) (*TuningWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	initial, err := LoadTuning(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial tuning: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// watch the directory so atomic saves (write temp + rename) are seen
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch tuning directory: %w", err)
	}

	w := &TuningWatcher{
		path:    path,
		watcher: watcher,
		logger:  logger,
		current: initial,
		stopCh:  make(chan struct{}),
	}
	w.debouncer = timing.NewDebouncer(nil, delay, w.reload)
	return w, nil
}

// Current returns the tuning in effect
func (w *TuningWatcher) Current() voice.CaptureTuning {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers fn to receive every accepted reload
func (w *TuningWatcher) OnChange(fn func(voice.CaptureTuning)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins watching
func (w *TuningWatcher) Start() {
	w.wg.Add(1)
	go w.watchLoop()
	w.logger.Info("Tuning watcher started", zap.String("path", w.path))
}

// Stop ends watching and cancels a pending reload
func (w *TuningWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		w.wg.Wait()
		w.debouncer.Stop()
		w.logger.Info("Tuning watcher stopped")
	})
}

func (w *TuningWatcher) watchLoop() {
	defer w.wg.Done()
	name := filepath.Clean(w.path)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.debouncer.Trigger()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *TuningWatcher) reload() {
	next, err := LoadTuning(w.path)
	if err != nil {
		w.logger.Error("Invalid tuning, keeping current", zap.Error(err))
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	handlers := append([]func(voice.CaptureTuning){}, w.onChange...)
	w.mu.Unlock()

	if prev == next {
		return
	}
	w.logger.Info("Tuning reloaded",
		zap.Float64("amplitudeThreshold", next.AmplitudeThreshold),
		zap.Duration("flushInterval", next.FlushInterval),
		zap.Int("silenceFrames", next.SilenceFrames),
	)
	for _, fn := range handlers {
		fn(next)
	}
}

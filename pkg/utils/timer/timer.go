// Package timer provides operation timing for success messages.
package timer

import "time"

// Timer measures the total runtime of a command and the runtime of its
// current stage. Success messages render both values.
type Timer interface {
	// Start begins (or restarts) the timer and its first stage.
	Start()
	// NewStage marks the beginning of a new stage.
	NewStage()
	// GetTiming returns the total elapsed time and the current stage's elapsed time.
	GetTiming() (total, stage time.Duration)
}

type clockTimer struct {
	start      time.Time
	stageStart time.Time
}

// New creates a Timer backed by the wall clock.
func New() Timer {
	return &clockTimer{}
}

func (t *clockTimer) Start() {
	now := time.Now()
	t.start = now
	t.stageStart = now
}

func (t *clockTimer) NewStage() {
	t.stageStart = time.Now()
}

func (t *clockTimer) GetTiming() (time.Duration, time.Duration) {
	if t.start.IsZero() {
		return 0, 0
	}

	now := time.Now()

	return now.Sub(t.start).Round(time.Millisecond),
		now.Sub(t.stageStart).Round(time.Millisecond)
}

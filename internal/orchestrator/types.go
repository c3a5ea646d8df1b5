package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/MuChengZJU/RPChat/internal/audio"
	"github.com/MuChengZJU/RPChat/internal/llm"
)

// State is the orchestrator's position in a turn for one session.
type State string

const (
	StateIdle               State = "idle"
	StateListening          State = "listening"
	StateRecognizing        State = "recognizing"
	StateAwaitingCompletion State = "awaiting_completion"
	StateSpeaking           State = "speaking"
	StateCancelling         State = "cancelling"
)

var (
	// ErrBusy is returned when a turn is requested while another is
	// active for the same session. Turns are rejected, never queued.
	ErrBusy = errors.New("orchestrator: session busy")
	// ErrNoActiveTurn is returned by Interrupt/Cancel when the session is
	// idle.
	ErrNoActiveTurn = errors.New("orchestrator: no active turn")
)

// CompletionStreamer is the completion endpoint contract consumed by the
// orchestrator; *llm.Client satisfies it.
type CompletionStreamer interface {
	Stream(ctx context.Context, history []llm.Message, p llm.Params) (<-chan string, <-chan error)
}

// SinkOpener acquires the speaker and returns a live playback sink. The
// orchestrator opens it only after the microphone is released.
type SinkOpener interface {
	Open() (audio.PlaybackSink, error)
}

// SinkOpenerFunc adapts a function to SinkOpener.
type SinkOpenerFunc func() (audio.PlaybackSink, error)

// Open implements SinkOpener.
func (f SinkOpenerFunc) Open() (audio.PlaybackSink, error) { return f() }

// Config carries the orchestrator's tunables. Durations are opaque
// configuration inputs, never hardcoded in the state machine.
type Config struct {
	Silence      time.Duration
	NoSpeech     time.Duration
	MaxUtterance time.Duration
	// AutoResume reopens the microphone after a naturally completed
	// playback. Never applies after an interrupted one.
	AutoResume   bool
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

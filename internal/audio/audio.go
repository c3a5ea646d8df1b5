// Package audio owns the microphone and speaker boundary. Physical devices
// are injected as frame readers/writers; this package adds exclusive
// acquisition, utterance endpointing for capture, and paced playback with
// immediate stop for barge-in.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDeviceBusy is returned when acquiring a device that is already
	// held. Capture and playback are never open at the same time.
	ErrDeviceBusy = errors.New("audio: device busy")
	// ErrCancelled is returned when a capture is aborted by its context.
	ErrCancelled = errors.New("audio: capture cancelled")
	// ErrNoSpeech is returned when a capture ends without any voiced audio.
	ErrNoSpeech = errors.New("audio: no speech detected")
)

// CaptureSource records one utterance per call. Capture blocks until the
// utterance ends (sustained silence after speech), the no-speech window
// expires, maxDur elapses, or ctx is cancelled. The device is released
// before Capture returns, on every path.
type CaptureSource interface {
	Capture(ctx context.Context, opts CaptureOptions) ([]byte, error)
}

// CaptureOptions carries the endpointing thresholds. The orchestrator
// treats them as opaque durations from configuration.
type CaptureOptions struct {
	// Silence ends the utterance after speech has been heard.
	Silence time.Duration
	// NoSpeech aborts the capture if nothing voiced arrives at all.
	NoSpeech time.Duration
	// MaxDuration bounds the whole recording session.
	MaxDuration time.Duration
}

// PlaybackSink consumes PCM bytes and delivers them to the speaker.
// Implementations buffer internally and pace delivery; Reset drops queued
// audio immediately so an interrupt is audible within one frame.
type PlaybackSink interface {
	WritePCM(pcm []byte)
	// FlushTail pads and plays out whatever is buffered.
	FlushTail()
	// Drain blocks until all queued audio has been delivered or ctx ends.
	Drain(ctx context.Context) error
	// Reset drops all queued audio (barge-in).
	Reset()
	Close()
}

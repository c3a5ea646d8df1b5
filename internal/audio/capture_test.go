package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

// fakeCaptureDevice replays a fixed PCM stream, then EOF.
type fakeCaptureDevice struct {
	pcm []byte
	sr  int
}

func (d *fakeCaptureDevice) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(d.pcm)), nil
}

func (d *fakeCaptureDevice) SampleRate() int { return d.sr }

// blockingCaptureDevice never delivers data until closed.
type blockingCaptureDevice struct{ sr int }

func (d *blockingCaptureDevice) Open() (io.ReadCloser, error) {
	r, _ := io.Pipe()
	return r, nil
}

func (d *blockingCaptureDevice) SampleRate() int { return d.sr }

func defaultOpts() CaptureOptions {
	return CaptureOptions{
		Silence:     500 * time.Millisecond,
		NoSpeech:    2 * time.Second,
		MaxDuration: 10 * time.Second,
	}
}

func TestCapture_ReturnsUtterance(t *testing.T) {
	var stream []byte
	stream = append(stream, pcmSilence(16000, 200)...)
	stream = append(stream, pcmSine(16000, 220, 300)...)
	dev := &fakeCaptureDevice{pcm: stream, sr: 16000}
	gate := NewGate()

	mic := NewMicCapture(dev, gate)
	got, err := mic.Capture(context.Background(), defaultOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The utterance holds the voiced part plus the pre-roll window.
	if len(got) < len(pcmSine(16000, 220, 250)) {
		t.Fatalf("utterance too short: %d bytes", len(got))
	}
	if gate.Holder() != "" {
		t.Fatalf("gate still held by %q after capture", gate.Holder())
	}
}

func TestCapture_NoSpeech(t *testing.T) {
	dev := &fakeCaptureDevice{pcm: pcmSilence(16000, 400), sr: 16000}
	mic := NewMicCapture(dev, NewGate())
	_, err := mic.Capture(context.Background(), defaultOpts())
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestCapture_CancelReleasesDevice(t *testing.T) {
	dev := &blockingCaptureDevice{sr: 16000}
	gate := NewGate()
	mic := NewMicCapture(dev, gate)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := mic.Capture(ctx, defaultOpts())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not return after cancel")
	}
	if gate.Holder() != "" {
		t.Fatalf("gate still held by %q after cancel", gate.Holder())
	}
}

func TestCapture_ZeroNoSpeechTimeoutKeepsListening(t *testing.T) {
	// Silence leads the stream; an unset no-speech limit means no limit,
	// so the capture must wait for the voice instead of giving up on the
	// first chunk.
	var stream []byte
	stream = append(stream, pcmSilence(16000, 200)...)
	stream = append(stream, pcmSine(16000, 220, 300)...)
	dev := &fakeCaptureDevice{pcm: stream, sr: 16000}

	mic := NewMicCapture(dev, NewGate())
	opts := defaultOpts()
	opts.NoSpeech = 0
	got, err := mic.Capture(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected the utterance that follows the leading silence")
	}
}

func TestCapture_DeviceBusy(t *testing.T) {
	gate := NewGate()
	if err := gate.TryAcquire("playback"); err != nil {
		t.Fatal(err)
	}
	mic := NewMicCapture(&fakeCaptureDevice{sr: 16000}, gate)
	_, err := mic.Capture(context.Background(), defaultOpts())
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
}

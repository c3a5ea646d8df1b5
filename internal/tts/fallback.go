package tts

import (
	"context"
	"log"
	"sync"
)

// FallbackSynthesizer speaks through the primary engine and switches to
// the secondary for the rest of the process after the primary fails
// without producing any audio. The switch is one-way; a flapping primary
// engine should not add a failed dial to every sentence.
type FallbackSynthesizer struct {
	primary   Synthesizer
	secondary Synthesizer

	mu      sync.Mutex
	demoted bool
}

// NewFallbackSynthesizer chains two engines.
func NewFallbackSynthesizer(primary, secondary Synthesizer) *FallbackSynthesizer {
	return &FallbackSynthesizer{primary: primary, secondary: secondary}
}

// StreamPCM implements Synthesizer.
func (f *FallbackSynthesizer) StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	f.mu.Lock()
	demoted := f.demoted
	f.mu.Unlock()
	if demoted {
		return f.secondary.StreamPCM(ctx, text)
	}

	out := make(chan []byte, 4096)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		pcmCh, primaryErr := f.primary.StreamPCM(ctx, text)
		produced, err := forward(ctx, pcmCh, primaryErr, out)
		if err == nil || ctx.Err() != nil {
			return
		}
		if produced {
			// Mid-stream failures are reported, not retried: replaying the
			// sentence on another engine would double the spoken audio.
			errCh <- err
			return
		}

		log.Printf("tts: primary engine failed (%v), switching to fallback", err)
		f.mu.Lock()
		f.demoted = true
		f.mu.Unlock()

		fbPCM, fbErr := f.secondary.StreamPCM(ctx, text)
		if _, err := forward(ctx, fbPCM, fbErr, out); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	return out, errCh
}

// forward copies one engine stream into out and reports whether any audio
// was delivered.
func forward(ctx context.Context, pcmCh <-chan []byte, engineErr <-chan error, out chan<- []byte) (bool, error) {
	produced := false
	var err error
	openPCM, openErr := true, true
	for openPCM || openErr {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				openPCM = false
				continue
			}
			select {
			case out <- b:
				produced = true
			case <-ctx.Done():
				return produced, ctx.Err()
			}
		case e, ok := <-engineErr:
			if !ok {
				openErr = false
				continue
			}
			if e != nil {
				err = e
			}
		case <-ctx.Done():
			return produced, ctx.Err()
		}
	}
	return produced, err
}

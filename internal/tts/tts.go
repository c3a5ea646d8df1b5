// Package tts streams synthesized speech as raw PCM. Engines share one
// channel contract: audio chunks are delivered until the channel closes,
// and at most one error is reported on the side channel.
package tts

import "context"

// Synthesizer streams PCM16LE mono audio for the given text.
type Synthesizer interface {
	StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

package tts

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const fishAudioWSURL = "wss://api.fish.audio/v1/tts/live"

// FishAudioClient streams TTS audio from Fish Audio over its msgpack
// WebSocket protocol.
type FishAudioClient struct {
	apiKey     string
	voiceID    string
	sampleRate int
	url        string
}

// NewFishAudioClient builds a Fish Audio engine for the given voice.
func NewFishAudioClient(apiKey, voiceID string, sampleRate int) *FishAudioClient {
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &FishAudioClient{apiKey: apiKey, voiceID: voiceID, sampleRate: sampleRate, url: fishAudioWSURL}
}

type fishStartEvent struct {
	Event   string          `msgpack:"event"`
	Request fishStartDetail `msgpack:"request"`
}

type fishStartDetail struct {
	Text        string `msgpack:"text"`
	ReferenceID string `msgpack:"reference_id,omitempty"`
	Format      string `msgpack:"format"`
	SampleRate  int    `msgpack:"sample_rate"`
	Latency     string `msgpack:"latency"`
}

type fishTextEvent struct {
	Event string `msgpack:"event"`
	Text  string `msgpack:"text"`
}

type fishControlEvent struct {
	Event string `msgpack:"event"`
}

type fishServerEvent struct {
	Event string `msgpack:"event"`
	Audio []byte `msgpack:"audio"`
	Error string `msgpack:"message"`
}

// StreamPCM opens a live session, speaks the text, and streams PCM chunks
// until the server finishes or ctx is cancelled.
func (f *FishAudioClient) StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if f.apiKey == "" {
			errCh <- fmt.Errorf("fishaudio: API key missing")
			return
		}
		if text == "" {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		header := http.Header{"Authorization": {"Bearer " + f.apiKey}}
		conn, _, err := dialer.DialContext(ctx, f.url, header)
		if err != nil {
			errCh <- fmt.Errorf("fishaudio: dial: %w", err)
			return
		}
		defer conn.Close()

		// Cancel closes the socket so the read loop unblocks promptly.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		start, err := msgpack.Marshal(fishStartEvent{
			Event: "start",
			Request: fishStartDetail{
				Text:        "",
				ReferenceID: f.voiceID,
				Format:      "pcm",
				SampleRate:  f.sampleRate,
				Latency:     "balanced",
			},
		})
		if err != nil {
			errCh <- err
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, start); err != nil {
			errCh <- fmt.Errorf("fishaudio: start: %w", err)
			return
		}

		txt, _ := msgpack.Marshal(fishTextEvent{Event: "text", Text: text})
		if err := conn.WriteMessage(websocket.BinaryMessage, txt); err != nil {
			errCh <- fmt.Errorf("fishaudio: text: %w", err)
			return
		}
		stop, _ := msgpack.Marshal(fishControlEvent{Event: "stop"})
		if err := conn.WriteMessage(websocket.BinaryMessage, stop); err != nil {
			errCh <- fmt.Errorf("fishaudio: stop: %w", err)
			return
		}

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return
				}
				errCh <- fmt.Errorf("fishaudio: read: %w", err)
				return
			}

			var ev fishServerEvent
			if err := msgpack.Unmarshal(raw, &ev); err != nil {
				log.Printf("fishaudio: skipping undecodable event (%d bytes)", len(raw))
				continue
			}
			switch ev.Event {
			case "audio":
				if len(ev.Audio) == 0 {
					continue
				}
				chunk := make([]byte, len(ev.Audio))
				copy(chunk, ev.Audio)
				select {
				case pcmCh <- chunk:
				case <-ctx.Done():
					return
				}
			case "finish":
				return
			case "log":
				// informational only
			case "error":
				errCh <- fmt.Errorf("fishaudio: server error: %s", ev.Error)
				return
			}
		}
	}()

	return pcmCh, errCh
}

package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPStreamClient is the fallback engine: it posts text to a speech
// endpoint that streams raw PCM in the response body. Used when the Fish
// Audio engine is not configured or fails to initialize.
type HTTPStreamClient struct {
	baseURL    string
	apiKey     string
	voice      string
	sampleRate int
	httpClient *http.Client
}

// NewHTTPStreamClient builds the HTTP streaming engine. The client has no
// request timeout; the stream runs until EOF or context cancellation.
func NewHTTPStreamClient(baseURL, apiKey, voice string, sampleRate int) *HTTPStreamClient {
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &HTTPStreamClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		voice:      voice,
		sampleRate: sampleRate,
		httpClient: &http.Client{},
	}
}

// StreamPCM requests synthesis and forwards body chunks as they arrive.
func (c *HTTPStreamClient) StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if text == "" {
			return
		}

		body := map[string]any{
			"input":           text,
			"voice":           c.voice,
			"response_format": "pcm",
			"sample_rate":     c.sampleRate,
		}
		buf, _ := json.Marshal(body)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(buf))
		if err != nil {
			errCh <- err
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errCh <- fmt.Errorf("tts http stream error: %w", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			errCh <- fmt.Errorf("tts http status=%d body=%s", resp.StatusCode, string(b))
			return
		}

		chunk := make([]byte, 4096)
		for {
			n, rerr := resp.Body.Read(chunk)
			if n > 0 {
				out := make([]byte, n)
				copy(out, chunk[:n])
				select {
				case pcmCh <- out:
				case <-ctx.Done():
					return
				}
			}
			if rerr != nil {
				if rerr == io.EOF {
					return
				}
				if ctx.Err() != nil {
					return
				}
				errCh <- fmt.Errorf("tts http read error: %w", rerr)
				return
			}
		}
	}()

	return pcmCh, errCh
}

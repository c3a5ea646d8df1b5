// Package stt converts one finished capture into text. Recognition is
// one-shot: the whole utterance is uploaded and a single transcript comes
// back; there is no streaming session to manage.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MuChengZJU/RPChat/internal/audio"
)

// ErrNoSpeech is returned when the service recognized nothing usable.
// Callers treat this as "nothing heard", not a failure.
var ErrNoSpeech = errors.New("stt: no speech recognized")

// Recognizer converts a finished capture into text.
type Recognizer interface {
	Recognize(ctx context.Context, pcm []byte) (string, error)
}

// WhisperClient posts WAV audio to an OpenAI-compatible
// /audio/transcriptions endpoint.
type WhisperClient struct {
	baseURL    string
	apiKey     string
	model      string
	sampleRate int
	httpClient *http.Client
}

// NewWhisperClient builds a recognizer for the given endpoint.
func NewWhisperClient(baseURL, apiKey, model string, sampleRate int) *WhisperClient {
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		sampleRate: sampleRate,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Recognize uploads the utterance and returns its transcript. An empty
// transcript maps to ErrNoSpeech.
func (c *WhisperClient) Recognize(ctx context.Context, pcm []byte) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("stt: API key missing")
	}
	if len(pcm) == 0 {
		return "", ErrNoSpeech
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, c.sampleRate)); err != nil {
		return "", err
	}
	if err := mw.WriteField("model", c.model); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("stt: status=%d body=%s", resp.StatusCode, string(b))
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("stt: decode response: %w", err)
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

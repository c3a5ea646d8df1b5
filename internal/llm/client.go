// Package llm is a streaming client for OpenAI-compatible chat completion
// endpoints. Persistence of deltas is the caller's responsibility; the
// client only moves text.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NetworkError wraps transport-level failures (endpoint unreachable,
// connection reset, timeout).
type NetworkError struct{ Err error }

func (e *NetworkError) Error() string { return fmt.Sprintf("llm: network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError wraps responses the endpoint did deliver but that are not a
// usable completion (non-2xx status, malformed stream, empty choices).
type ProtocolError struct {
	Status int
	Msg    string
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm: protocol error: status=%d %s", e.Status, e.Msg)
	}
	return "llm: protocol error: " + e.Msg
}

// Message is one role/content pair of the request history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are passed through to the endpoint untouched.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL (e.g.
// "https://api.openai.com/v1"). timeout bounds a whole request including
// the stream; pass 0 for no client-side limit.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Stream issues a streaming chat completion and returns a delta channel and
// an error channel. The delta channel is closed when the stream terminates
// for any reason; at most one error is sent. Cancelling ctx aborts the
// request and no further deltas are delivered.
func (c *Client) Stream(ctx context.Context, history []Message, p Params) (<-chan string, <-chan error) {
	deltaCh := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(deltaCh)
		defer close(errCh)

		body, err := json.Marshal(chatRequest{
			Model:       p.Model,
			Messages:    history,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
			Stream:      true,
		})
		if err != nil {
			errCh <- &ProtocolError{Msg: err.Error()}
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			errCh <- &ProtocolError{Msg: err.Error()}
			return
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				errCh <- ctx.Err()
				return
			}
			errCh <- &NetworkError{Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			var er errorResponse
			if json.Unmarshal(respBody, &er) == nil && er.Error.Message != "" {
				errCh <- &ProtocolError{Status: resp.StatusCode, Msg: er.Error.Message}
				return
			}
			errCh <- &ProtocolError{Status: resp.StatusCode, Msg: string(respBody)}
			return
		}

		reader := bufio.NewReader(resp.Body)
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					return
				}
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				errCh <- &NetworkError{Err: err}
				return
			}

			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// Skip malformed chunks rather than killing the stream.
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				select {
				case deltaCh <- content:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
	}()

	return deltaCh, errCh
}

// Complete issues a non-streaming completion. Used for connection tests.
func (c *Client) Complete(ctx context.Context, history []Message, p Params) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       p.Model,
		Messages:    history,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	if err != nil {
		return "", &ProtocolError{Msg: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &ProtocolError{Msg: err.Error()}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ProtocolError{Status: resp.StatusCode, Msg: string(respBody)}
	}

	var cr struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return "", &ProtocolError{Msg: err.Error()}
	}
	if len(cr.Choices) == 0 {
		return "", &ProtocolError{Msg: "empty choices"}
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// TestConnection sends a tiny completion to verify the endpoint is usable.
func (c *Client) TestConnection(ctx context.Context, p Params) error {
	_, err := c.Complete(ctx, []Message{{Role: "user", Content: "Hello, this is a connection test."}}, p)
	return err
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "RPChat/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

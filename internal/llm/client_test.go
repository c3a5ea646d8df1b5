package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func sseServer(t *testing.T, chunks []string, done bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
			fl.Flush()
		}
		if done {
			fmt.Fprint(w, "data: [DONE]\n\n")
			fl.Flush()
		}
	}))
}

func deltaChunk(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]string{"content": content}}},
	})
	return string(b)
}

func collect(deltaCh <-chan string, errCh <-chan error) (string, error) {
	var sb strings.Builder
	for d := range deltaCh {
		sb.WriteString(d)
	}
	return sb.String(), <-errCh
}

func TestStream_DeliversDeltasInOrder(t *testing.T) {
	srv := sseServer(t, []string{deltaChunk("Hel"), deltaChunk("lo"), deltaChunk("!")}, true)
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 5*time.Second)
	deltaCh, errCh := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}}, Params{Model: "m"})
	got, err := collect(deltaCh, errCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Hello!" {
		t.Fatalf("got %q, want %q", got, "Hello!")
	}
}

func TestStream_SkipsMalformedChunks(t *testing.T) {
	srv := sseServer(t, []string{deltaChunk("a"), "{not json", deltaChunk("b")}, true)
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 5*time.Second)
	deltaCh, errCh := c.Stream(context.Background(), nil, Params{Model: "m"})
	got, err := collect(deltaCh, errCh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ab" {
		t.Fatalf("got %q, want %q", got, "ab")
	}
}

func TestStream_ProtocolErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad api key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 5*time.Second)
	deltaCh, errCh := c.Stream(context.Background(), nil, Params{Model: "m"})
	got, err := collect(deltaCh, errCh)
	if got != "" {
		t.Fatalf("expected no deltas, got %q", got)
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if pe.Status != http.StatusUnauthorized || pe.Msg != "bad api key" {
		t.Fatalf("unexpected error detail: %+v", pe)
	}
}

func TestStream_NetworkErrorOnUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	c := NewClient(srv.URL, "test-key", time.Second)
	deltaCh, errCh := c.Stream(context.Background(), nil, Params{Model: "m"})
	_, err := collect(deltaCh, errCh)
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestStream_CancelStopsDeltas(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", deltaChunk("first"))
		fl.Flush()
		<-release // hold the stream open until the test is done
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL, "test-key", 0)
	deltaCh, errCh := c.Stream(ctx, nil, Params{Model: "m"})

	select {
	case d := <-deltaCh:
		if d != "first" {
			t.Fatalf("got %q, want %q", d, "first")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first delta")
	}

	cancel()

	got, err := collect(deltaCh, errCh)
	if got != "" {
		t.Fatalf("deltas delivered after cancel: %q", got)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestComplete_ReturnsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Stream {
			t.Error("Complete must not request streaming")
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":" pong "}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 5*time.Second)
	got, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "ping"}}, Params{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "pong" {
		t.Fatalf("got %q, want %q", got, "pong")
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 5*time.Second)
	_, err := c.Complete(context.Background(), nil, Params{Model: "m"})
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

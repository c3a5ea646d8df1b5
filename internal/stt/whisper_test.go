package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecognize_ReturnsTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("not a multipart request: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			head := make([]byte, 4)
			_, _ = io.ReadFull(f, head)
			if string(head) != "RIFF" {
				t.Errorf("upload is not WAV, header %q", head)
			}
		}
		fmt.Fprint(w, `{"text":"  hello world  "}`)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "key", "whisper-1", 16000)
	got, err := c.Recognize(context.Background(), make([]byte, 3200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestRecognize_EmptyTranscriptIsNoSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"   "}`)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "key", "", 16000)
	_, err := c.Recognize(context.Background(), make([]byte, 3200))
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestRecognize_EmptyCaptureIsNoSpeech(t *testing.T) {
	c := NewWhisperClient("http://unused", "key", "", 16000)
	_, err := c.Recognize(context.Background(), nil)
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestRecognize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "key", "", 16000)
	_, err := c.Recognize(context.Background(), make([]byte, 3200))
	if err == nil || errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MuChengZJU/RPChat/internal/audio"
	"github.com/MuChengZJU/RPChat/internal/config"
	"github.com/MuChengZJU/RPChat/internal/events"
	"github.com/MuChengZJU/RPChat/internal/httpserver"
	"github.com/MuChengZJU/RPChat/internal/llm"
	"github.com/MuChengZJU/RPChat/internal/orchestrator"
	"github.com/MuChengZJU/RPChat/internal/store"
	"github.com/MuChengZJU/RPChat/internal/stt"
	"github.com/MuChengZJU/RPChat/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load(os.Getenv("CONFIG_PATH"))

	st, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	llmClient := llm.NewClient(cfg.API.BaseURL, cfg.API.APIKey, cfg.APITimeout())
	recognizer := stt.NewWhisperClient(cfg.Audio.STTBaseURL, cfg.Audio.STTAPIKey, cfg.Audio.STTModel, cfg.Audio.SampleRate)
	synth := buildSynthesizer(cfg)

	gate := audio.NewGate()
	captureDev := audio.NewExecCaptureDevice(os.Getenv("CAPTURE_COMMAND"), cfg.Audio.SampleRate)
	playbackDev := audio.NewExecPlaybackDevice(os.Getenv("PLAYBACK_COMMAND"), cfg.Audio.SampleRate)
	mic := audio.NewMicCapture(captureDev, gate)
	sinks := orchestrator.SinkOpenerFunc(func() (audio.PlaybackSink, error) {
		return audio.NewPacedWriter(playbackDev, gate)
	})

	bus := events.NewBus()
	defer bus.Close()

	orch := orchestrator.New(st, llmClient, recognizer, synth, mic, sinks, bus, orchestrator.Config{
		Silence:      cfg.SilenceTimeout(),
		NoSpeech:     cfg.NoSpeechTimeout(),
		MaxUtterance: cfg.MaxUtterance(),
		AutoResume:   cfg.Audio.AutoResume,
		Model:        cfg.API.Model,
		Temperature:  cfg.API.Temperature,
		MaxTokens:    cfg.API.MaxTokens,
		SystemPrompt: cfg.API.SystemPrompt,
	})

	srv := httpserver.New(st, orch, bus, llmClient, llm.Params{
		Model:       cfg.API.Model,
		Temperature: cfg.API.Temperature,
		MaxTokens:   cfg.API.MaxTokens,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}

// buildSynthesizer picks the configured TTS engine. Fish Audio is chained
// with the HTTP engine so a dead primary demotes at runtime; without Fish
// Audio credentials the HTTP engine serves alone.
func buildSynthesizer(cfg config.Config) tts.Synthesizer {
	httpEngine := tts.NewHTTPStreamClient(cfg.API.BaseURL, cfg.API.APIKey, "alloy", cfg.Audio.SampleRate)
	if cfg.Audio.TTSEngine == "fish_audio" && cfg.Audio.FishAudio.APIKey != "" {
		fish := tts.NewFishAudioClient(cfg.Audio.FishAudio.APIKey, cfg.Audio.FishAudio.VoiceID, cfg.Audio.SampleRate)
		return tts.NewFallbackSynthesizer(fish, httpEngine)
	}
	return httpEngine
}

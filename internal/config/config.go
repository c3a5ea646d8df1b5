package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config holds application configuration. Values come from defaults,
// then config.yaml, then environment variables (a .env file is honored).
type Config struct {
	HTTPAddress string `yaml:"http_address"`

	API struct {
		BaseURL     string  `yaml:"base_url"`
		APIKey      string  `yaml:"api_key"`
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
		TimeoutSec  int     `yaml:"timeout"`
		// SystemPrompt is prepended to every completion request; never persisted.
		SystemPrompt string `yaml:"system_prompt"`
	} `yaml:"api"`

	Audio struct {
		SilenceTimeoutMs  int  `yaml:"silence_timeout_ms"`
		NoSpeechTimeoutMs int  `yaml:"no_speech_timeout_ms"`
		MaxUtteranceSec   int  `yaml:"max_utterance_sec"`
		AutoResume        bool `yaml:"auto_resume"`
		SampleRate        int  `yaml:"sample_rate"`

		TTSEngine string `yaml:"tts_engine"` // "fish_audio" or "http"
		FishAudio struct {
			APIKey  string `yaml:"api_key"`
			VoiceID string `yaml:"voice_id"`
		} `yaml:"fish_audio"`

		STTBaseURL string `yaml:"stt_base_url"`
		STTAPIKey  string `yaml:"stt_api_key"`
		STTModel   string `yaml:"stt_model"`
	} `yaml:"audio"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
	} `yaml:"storage"`
}

func defaults() Config {
	var c Config
	c.HTTPAddress = ":8080"
	c.API.BaseURL = "https://api.openai.com/v1"
	c.API.Model = "gpt-3.5-turbo"
	c.API.Temperature = 0.7
	c.API.MaxTokens = 2000
	c.API.TimeoutSec = 30
	c.Audio.SilenceTimeoutMs = 800
	c.Audio.NoSpeechTimeoutMs = 5000
	c.Audio.MaxUtteranceSec = 30
	c.Audio.AutoResume = true
	c.Audio.SampleRate = 16000
	c.Audio.TTSEngine = "fish_audio"
	c.Audio.STTModel = "whisper-1"
	c.Storage.DatabasePath = "data/rpchat.db"
	return c
}

// Load reads the YAML file at path (if present) plus environment variables
// and returns the merged Config. Missing API keys log warnings; the related
// capability is disabled at runtime rather than failing startup.
func Load(path string) Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	cfg := defaults()
	if path == "" {
		path = "config.yaml"
	}
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Printf("config: failed to parse %s: %v (using defaults)", path, err)
			cfg = defaults()
		}
	}

	applyEnv(&cfg)

	if cfg.API.APIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - completions will not work")
	}
	if cfg.Audio.FishAudio.APIKey == "" && cfg.Audio.TTSEngine == "fish_audio" {
		log.Println("Warning: FISH_AUDIO_API_KEY not set - falling back to http TTS engine")
	}
	if cfg.Audio.STTAPIKey == "" && cfg.Audio.STTBaseURL == "" {
		// STT defaults to the completion endpoint when unset.
		cfg.Audio.STTBaseURL = cfg.API.BaseURL
		cfg.Audio.STTAPIKey = cfg.API.APIKey
	}

	log.Printf("config: HTTP_ADDRESS=%s model=%s db=%s", cfg.HTTPAddress, cfg.API.Model, cfg.Storage.DatabasePath)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTPAddress = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.API.Model = v
	}
	if v := os.Getenv("FISH_AUDIO_API_KEY"); v != "" {
		cfg.Audio.FishAudio.APIKey = v
	}
	if v := os.Getenv("FISH_AUDIO_VOICE_ID"); v != "" {
		cfg.Audio.FishAudio.VoiceID = v
	}
	if v := os.Getenv("STT_API_KEY"); v != "" {
		cfg.Audio.STTAPIKey = v
	}
	if v := os.Getenv("STT_BASE_URL"); v != "" {
		cfg.Audio.STTBaseURL = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv("AUTO_RESUME"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Audio.AutoResume = b
		}
	}
}

// SilenceTimeout returns the capture silence endpoint as a duration.
func (c Config) SilenceTimeout() time.Duration {
	return time.Duration(c.Audio.SilenceTimeoutMs) * time.Millisecond
}

// NoSpeechTimeout returns how long capture waits for any speech at all.
func (c Config) NoSpeechTimeout() time.Duration {
	return time.Duration(c.Audio.NoSpeechTimeoutMs) * time.Millisecond
}

// MaxUtterance bounds a single recording session.
func (c Config) MaxUtterance() time.Duration {
	return time.Duration(c.Audio.MaxUtteranceSec) * time.Second
}

// APITimeout bounds one completion request.
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSec) * time.Second
}

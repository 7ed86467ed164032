package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the piano tutoring service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	GeminiAPIKey     string
	LiveWSURL        string
	LiveModel        string
	SummaryModel     string
	HandshakeTimeout time.Duration

	FrameInterval   time.Duration
	CheckInInterval time.Duration
	SettleDelay     time.Duration

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	VoiceID           string
	PersonaID         string

	FFmpegPath    string
	CameraDevice  string
	CameraFormat  string
	MicDevice     string
	MicFormat     string
	MicSampleRate int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "pianocoach"),
		AllowAnyOrigin:   false,
		GeminiAPIKey:     stringsTrimSpace("GEMINI_API_KEY"),
		LiveWSURL: envOrDefault("LIVE_WS_URL",
			"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"),
		LiveModel:    envOrDefault("LIVE_MODEL", "models/gemini-2.0-flash-exp"),
		SummaryModel: envOrDefault("SUMMARY_MODEL", "gemini-2.0-flash"),
		// Warm narrator voice for the end-of-lesson recap.
		VoiceID:                  envOrDefault("ELEVENLABS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		PersonaID:                envOrDefault("COACH_PERSONA_ID", "encouraging"),
		ElevenLabsAPIKey:         stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL:        envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		FFmpegPath:               envOrDefault("CAPTURE_FFMPEG_PATH", "ffmpeg"),
		CameraDevice:             stringsTrimSpace("CAPTURE_CAMERA_DEVICE"),
		CameraFormat:             envOrDefault("CAPTURE_CAMERA_FORMAT", "v4l2"),
		MicDevice:                stringsTrimSpace("CAPTURE_MIC_DEVICE"),
		MicFormat:                envOrDefault("CAPTURE_MIC_FORMAT", "alsa"),
		MicSampleRate:            48000,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		HandshakeTimeout:         10 * time.Second,
		FrameInterval:            2500 * time.Millisecond,
		CheckInInterval:          10500 * time.Millisecond,
		SettleDelay:              300 * time.Millisecond,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HandshakeTimeout, err = durationFromEnv("LIVE_HANDSHAKE_TIMEOUT", cfg.HandshakeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameInterval, err = durationFromEnv("CAPTURE_FRAME_INTERVAL", cfg.FrameInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CheckInInterval, err = durationFromEnv("LESSON_CHECKIN_INTERVAL", cfg.CheckInInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SettleDelay, err = durationFromEnv("LESSON_SETTLE_DELAY", cfg.SettleDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MicSampleRate, err = intFromEnv("CAPTURE_MIC_SAMPLE_RATE", cfg.MicSampleRate)
	if err != nil {
		return Config{}, err
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("LIVE_HANDSHAKE_TIMEOUT must be positive")
	}
	if cfg.FrameInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("CAPTURE_FRAME_INTERVAL must be at least 100ms")
	}
	if cfg.CheckInInterval < time.Second {
		return Config{}, fmt.Errorf("LESSON_CHECKIN_INTERVAL must be at least 1s")
	}
	if cfg.MicSampleRate < 8000 {
		return Config{}, fmt.Errorf("CAPTURE_MIC_SAMPLE_RATE must be at least 8000")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

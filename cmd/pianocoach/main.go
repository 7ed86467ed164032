package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pianocoach/pianocoach/internal/capture"
	"github.com/pianocoach/pianocoach/internal/config"
	"github.com/pianocoach/pianocoach/internal/controller"
	"github.com/pianocoach/pianocoach/internal/httpapi"
	"github.com/pianocoach/pianocoach/internal/lesson"
	"github.com/pianocoach/pianocoach/internal/live"
	"github.com/pianocoach/pianocoach/internal/notedetect"
	"github.com/pianocoach/pianocoach/internal/observability"
	"github.com/pianocoach/pianocoach/internal/session"
	"github.com/pianocoach/pianocoach/internal/summary"
	"github.com/pianocoach/pianocoach/internal/transcript"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	sink, err := transcript.NewSink(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("transcript sink init failed: %v", err)
	}
	defer sink.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("transcript sink: in-memory (DATABASE_URL not set)")
	} else {
		log.Printf("transcript sink: postgres")
	}

	var synthesizer summary.Synthesizer
	if strings.TrimSpace(cfg.ElevenLabsAPIKey) != "" {
		synthesizer = summary.NewHTTPSynthesizer(summary.TTSConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			BaseURL: cfg.ElevenLabsBaseURL,
		})
		log.Printf("recap speech: elevenlabs")
	} else {
		log.Printf("recap speech: disabled (ELEVENLABS_API_KEY not set), text only")
	}

	summarizer := summary.NewGeminiSummarizer(summary.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.SummaryModel,
	})

	captureCfg := capture.FFmpegConfig{
		BinaryPath:    cfg.FFmpegPath,
		CameraDevice:  cfg.CameraDevice,
		CameraFormat:  cfg.CameraFormat,
		MicDevice:     cfg.MicDevice,
		MicFormat:     cfg.MicFormat,
		MicSampleRate: cfg.MicSampleRate,
	}
	if cfg.CameraDevice == "" || cfg.MicDevice == "" {
		log.Printf("capture devices not fully configured; lessons will fail to start until CAPTURE_CAMERA_DEVICE and CAPTURE_MIC_DEVICE are set")
	}
	sources := func(context.Context) (capture.FrameSource, capture.AudioSource, error) {
		camera, err := capture.NewFFmpegCamera(captureCfg)
		if err != nil {
			return nil, nil, err
		}
		mic, err := capture.NewFFmpegMicrophone(captureCfg)
		if err != nil {
			_ = camera.Close()
			return nil, nil, err
		}
		return camera, mic, nil
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	factory := func(sess *session.Session) (httpapi.LessonRuntime, error) {
		client := live.NewClient(live.Config{
			URL:               cfg.LiveWSURL,
			APIKey:            cfg.GeminiAPIKey,
			Model:             cfg.LiveModel,
			SystemInstruction: lesson.CoachInstruction(sess.PersonaID),
			HandshakeTimeout:  cfg.HandshakeTimeout,
		}, metrics)
		return controller.New(controller.Deps{
			Upstream:    client,
			Scheduler:   capture.NewScheduler(client, cfg.FrameInterval),
			Sources:     sources,
			Detector:    notedetect.NewPitchDetector(),
			Summarizer:  summarizer,
			Synthesizer: synthesizer,
			Sink:        sink,
			Metrics:     metrics,
		}, controller.Config{
			SessionID:       sess.ID,
			PersonaID:       sess.PersonaID,
			PersonaPrompt:   lesson.LookupPersona(sess.PersonaID).SummaryPrompt,
			VoiceID:         sess.VoiceID,
			CheckInInterval: cfg.CheckInInterval,
			SettleDelay:     cfg.SettleDelay,
		}), nil
	}

	api := httpapi.New(cfg, sessions, factory, metrics)
	sessions.SetExpireHook(func(sess *session.Session) {
		log.Printf("session %s expired after inactivity", sess.ID)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		api.ShutdownSession(sess.ID)
	})

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	api.ShutdownAll()

	log.Printf("shutdown complete")
}

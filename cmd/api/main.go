package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/config"
	"github.com/snappy-loop/magicstory/internal/events"
	"github.com/snappy-loop/magicstory/internal/handlers"
	"github.com/snappy-loop/magicstory/internal/kafka"
	"github.com/snappy-loop/magicstory/internal/llm"
	"github.com/snappy-loop/magicstory/internal/models"
	"github.com/snappy-loop/magicstory/internal/observability"
	"github.com/snappy-loop/magicstory/internal/pipeline"
	"github.com/snappy-loop/magicstory/internal/playback"
	"github.com/snappy-loop/magicstory/internal/retry"
	"github.com/snappy-loop/magicstory/internal/services"
)

const release = "magicstory@dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("Starting Magic Story API")

	flushSentry := observability.InitSentry(cfg.SentryDSN, cfg.SentryEnvironment, release)
	defer flushSentry()

	voices, err := llm.ParseVoiceOverrides(cfg.SpeechVoices)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid SPEECH_VOICES")
	}

	ctx := context.Background()
	providers, err := llm.NewProviders(ctx, providerOptions(cfg, voices))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure providers")
	}
	defer providers.Close()

	hub := events.NewHub(events.DefaultBuffer)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicEvents)
		defer kafkaProducer.Close()
		hub.AddPublisher(kafkaProducer)
	} else {
		log.Info().Msg("Kafka not configured (KAFKA_BROKERS not set)")
	}

	storyPipeline := pipeline.New(
		providers.Text,
		providers.Image,
		providers.Speech,
		pipeline.WithObserver(hub),
		pipeline.WithObserver(observability.NewSentryObserver(nil)),
		pipeline.WithStageTimeout(cfg.StageTimeout),
	)

	sink, closeSink := newSink(cfg.PlaybackOutput)
	defer closeSink()
	controller := playback.NewController(sink)
	controller.OnChange(hub.OnPlayback)
	defer controller.Close()

	storyService := services.NewStoryService(storyPipeline, controller)
	h := handlers.NewHandler(storyPipeline, storyService, hub)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.HandleFunc("/api/generate", h.Generate).Methods("POST")

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/stories", h.CreateStory).Methods("POST")
	api.HandleFunc("/stories/current", h.CurrentStory).Methods("GET")
	api.HandleFunc("/playback", h.PlaybackState).Methods("GET")
	api.HandleFunc("/playback/{action}", h.PlaybackAction).Methods("POST")
	api.HandleFunc("/events", h.EventsWS).Methods("GET")

	// Generation waits on several provider calls with backoff, so the write
	// timeout covers a full stage budget.
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.StageTimeout*2 + 15*time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("text_provider", providers.Text.Name()).
			Bool("image", providers.Image != nil).
			Bool("speech", providers.Speech != nil).
			Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("API exited")
}

func providerOptions(cfg *config.Config, voices map[models.Language]string) llm.Options {
	return llm.Options{
		TextProvider:   cfg.TextProvider,
		ImageProvider:  cfg.ImageProvider,
		SpeechProvider: cfg.SpeechProvider,

		Retry: retry.Policy{
			MaxAttempts:    cfg.RetryMaxAttempts,
			BaseDelay:      cfg.RetryBaseDelay,
			AttemptTimeout: cfg.RetryAttemptTimeout,
		},
		VoiceOverrides: voices,

		GeminiAPIKey:      cfg.GeminiAPIKey,
		GeminiEndpoint:    cfg.GeminiAPIEndpoint,
		GeminiTextModel:   cfg.GeminiModelText,
		GeminiImageModel:  cfg.GeminiModelImage,
		GeminiImagenModel: cfg.GeminiModelImagen,
		GeminiTTSModel:    cfg.GeminiModelTTS,

		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		OpenAITextModel:  cfg.OpenAIModelText,
		OpenAIImageModel: cfg.OpenAIModelImage,
		OpenAITTSModel:   cfg.OpenAIModelTTS,

		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		AnthropicModel:   cfg.AnthropicModel,
		AnthropicBaseURL: cfg.AnthropicBaseURL,

		CloudTTSAPIKey:   cfg.GoogleTTSAPIKey,
		CloudTTSEndpoint: cfg.GoogleTTSEndpoint,
	}
}

// newSink opens the configured audio output, falling back to a silent clock
// when no audio device is available.
func newSink(output string) (playback.Sink, func()) {
	if output == "speaker" {
		sink, err := playback.NewSpeakerSink(playback.DefaultSampleRate)
		if err == nil {
			return sink, func() {}
		}
		log.Warn().Err(err).Msg("Speaker unavailable, playback will be silent")
	}
	sink := playback.NewNullSink(playback.DefaultSampleRate, 100*time.Millisecond)
	return sink, func() { sink.Close() }
}

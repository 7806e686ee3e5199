// Package app wires configuration into the running service: the
// transcription pipeline, its HTTP, gRPC and observability servers, and the
// optional Eureka registration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	grpcapi "stt-service/internal/api/grpc"
	"stt-service/internal/config"
	"stt-service/internal/events"
	httpapi "stt-service/internal/http"
	"stt-service/internal/observability"
	"stt-service/internal/observability/logging"
	"stt-service/internal/observability/metrics"
	"stt-service/internal/registry"
	"stt-service/internal/schema"
	"stt-service/internal/service/audio"
	"stt-service/internal/service/stt"
	"stt-service/internal/service/stt/mock"
	"stt-service/internal/service/stt/remote"
	"stt-service/internal/service/transcription"
	"stt-service/internal/service/translation"
)

const shutdownTimeout = 15 * time.Second

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Metrics     *metrics.Metrics
	Engine      *stt.Engine
	Transcriber *transcription.Service
	Publisher   *events.Publisher
}

// SetupLogging initializes the global logger from cfg, writing to out.
// ENV=dev switches to the console writer.
func SetupLogging(cfg *config.Configuration, out io.Writer) {
	lc := logging.DefaultConfig()
	lc.Level = strings.ToLower(cfg.Observability.LogLevel)
	lc.Format = cfg.Observability.LogFormat
	lc.Service = "stt-service"
	if cfg.Service.Environment == "dev" {
		lc.Format = "console"
	}
	logging.InitWithWriter(lc, out)
}

// New constructs the pipeline. The model is not loaded yet; see LoadModel.
func New(ctx context.Context, cfg *config.Configuration) (*Application, error) {
	a := &Application{
		Cfg:     cfg,
		Logger:  logging.WithComponent("application"),
		Metrics: metrics.DefaultMetrics,
	}

	model, err := NewModel(cfg.STT)
	if err != nil {
		return nil, err
	}
	a.Engine = stt.NewEngine(model,
		stt.WithDevice(stt.ParseDevice(cfg.STT.Device)),
		stt.WithModelID(cfg.STT.ModelID),
		stt.WithProvider(cfg.STT.Provider),
		stt.WithEngineMetrics(a.Metrics),
	)

	provider, err := translation.NewProvider(ctx, cfg.Translation)
	if err != nil {
		// Translation is best-effort; a misconfigured provider only
		// disables it.
		a.Logger.Warn().Err(err).Str("provider", cfg.Translation.Provider).Msg("Translation disabled")
		provider = translation.Disabled{}
	}
	translator := translation.NewService(provider,
		translation.WithTimeout(cfg.Translation.Timeout),
		translation.WithMetrics(a.Metrics),
	)

	normalizer := audio.NewNormalizer(audio.NewAutoDecoder(cfg.Audio.FFmpegPath),
		audio.WithScratchDir(cfg.Audio.ScratchDir),
		audio.WithMetrics(a.Metrics),
	)

	a.Publisher = events.New(&events.Config{
		Enabled:   cfg.Kafka.Enabled,
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Principal: cfg.Kafka.Principal,
	})

	a.Transcriber = transcription.New(
		schema.New(cfg.STT.SupportedLanguages),
		normalizer,
		a.Engine,
		translator,
		transcription.WithPublisher(a.Publisher),
		transcription.WithMaxDuration(cfg.Audio.MaxDuration),
	)

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("modelId", cfg.STT.ModelID).
		Strs("languages", cfg.STT.SupportedLanguages).
		Str("translationProvider", provider.Name()).
		Bool("kafkaEnabled", a.Publisher.Enabled()).
		Msg("STT service application created")
	return a, nil
}

// NewModel builds the recognition backend named by cfg.Provider.
func NewModel(cfg config.STTConfig) (stt.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "mock", "":
		return mock.New(), nil
	case "remote":
		if cfg.VocabPath == "" {
			return nil, fmt.Errorf("remote model: STT_VOCAB_PATH is required")
		}
		vocabs, err := stt.LoadVocabularies(cfg.VocabPath)
		if err != nil {
			return nil, err
		}
		client, err := remote.New(remote.Config{
			BaseURL:      cfg.InferenceURL,
			ModelID:      cfg.ModelID,
			Timeout:      cfg.InferenceTimeout,
			Vocabularies: vocabs,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}

// LoadModel loads the recognition model.
func (a *Application) LoadModel(ctx context.Context) error {
	return a.Engine.Load(ctx)
}

// Run serves HTTP, gRPC and observability traffic and loads the model in
// the background. It returns when ctx is cancelled or any server fails.
func (a *Application) Run(ctx context.Context) error {
	a.StartupTime = time.Now().UTC()
	cfg := a.Cfg

	handler := httpapi.NewHandler(a.Transcriber, a.Engine, cfg.Audio.MaxUploadBytes, a.Metrics)
	httpServer := &http.Server{
		Handler:           httpapi.NewRouter(handler, a.Metrics),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	httpLis, err := net.Listen("tcp", ":"+cfg.Service.HTTPPort)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}

	grpcServer := grpcapi.NewServer(a.Metrics)
	grpcLis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	obsServer := observability.NewServer(cfg.Service.MetricsAddr, a.Engine.Loaded)

	var reg *registry.Client
	if cfg.Registry.Enabled {
		reg, err = registry.New(registry.Config{
			ServerURL:         cfg.Registry.URL,
			AppName:           cfg.Registry.AppName,
			Host:              cfg.Registry.InstanceHost,
			Port:              registry.PortFromString(cfg.Service.HTTPPort),
			HeartbeatInterval: cfg.Registry.HeartbeatInterval,
		})
		if err != nil {
			httpLis.Close()
			grpcLis.Close()
			return err
		}
	}

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("httpAddr", httpLis.Addr().String()).
		Str("grpcAddr", grpcLis.Addr().String()).
		Str("metricsAddr", cfg.Service.MetricsAddr).
		Msg("STT service starting")

	g, gctx := errgroup.WithContext(ctx)
	ready := make(chan struct{})

	g.Go(func() error {
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(obsServer.ListenAndServe)

	g.Go(func() error {
		if err := a.Engine.Load(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		grpcServer.SetModelLoaded(true)
		close(ready)
		return nil
	})

	if reg != nil {
		g.Go(func() error { return reg.Run(gctx, ready) })
	}

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info().Msg("STT service shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		if err := httpServer.Shutdown(sctx); err != nil {
			a.Logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		if err := obsServer.Shutdown(sctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Observability shutdown incomplete")
		}
		return nil
	})

	return g.Wait()
}

// Shutdown releases resources held outside the servers.
func (a *Application) Shutdown() {
	a.Transcriber.Wait()
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close event publisher")
	}
	a.Logger.Info().
		Dur("uptime", time.Since(a.StartupTime)).
		Msg("STT service stopped")
}

// Package app wires all voxlink subsystems into a running relay.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject in-memory implementations via functional options
// (WithRepository, WithBus, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/voxlink-ai/voxlink/internal/bus"
	"github.com/voxlink-ai/voxlink/internal/callrepo"
	"github.com/voxlink-ai/voxlink/internal/config"
	"github.com/voxlink-ai/voxlink/internal/fabric"
	"github.com/voxlink-ai/voxlink/internal/health"
	"github.com/voxlink-ai/voxlink/internal/ingest"
	"github.com/voxlink-ai/voxlink/internal/observe"
	"github.com/voxlink-ai/voxlink/internal/orchestrator"
	"github.com/voxlink-ai/voxlink/internal/pipeline/batch"
	"github.com/voxlink-ai/voxlink/internal/pipeline/chunker"
	"github.com/voxlink-ai/voxlink/internal/pipeline/interim"
	"github.com/voxlink-ai/voxlink/internal/pipeline/translate"
	"github.com/voxlink-ai/voxlink/internal/pipeline/vad"
	"github.com/voxlink-ai/voxlink/internal/resilience"
	"github.com/voxlink-ai/voxlink/internal/synthcache"
	"github.com/voxlink-ai/voxlink/pkg/speech"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	repo   callrepo.Repository
	bus    bus.Bus
	stream ingest.Stream
	vendor speech.Vendor
	auth   fabric.Authenticator

	proc     *translate.Processor
	worker   *batch.Worker
	consumer *batch.Consumer
	interims *interim.Manager
	orch     *orchestrator.Orchestrator
	fabric   *fabric.Server
	mux      *http.ServeMux
	httpSrv  *http.Server

	checkers []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRepository injects a call repository instead of creating one from config.
func WithRepository(r callrepo.Repository) Option {
	return func(a *App) { a.repo = r }
}

// WithBus injects a session bus instead of creating one from config.
func WithBus(b bus.Bus) Option {
	return func(a *App) { a.bus = b }
}

// WithStream injects an ingestion stream instead of creating one from config.
func WithStream(s ingest.Stream) Option {
	return func(a *App) { a.stream = s }
}

// WithVendor injects a speech vendor instead of building one from the
// registry.
func WithVendor(v speech.Vendor) Option {
	return func(a *App) { a.vendor = v }
}

// WithAuthenticator injects the connection authenticator.
func WithAuthenticator(auth fabric.Authenticator) Option {
	return func(a *App) { a.auth = auth }
}

// New creates an App by wiring all subsystems together. The registry maps
// vendor names from the config onto constructors; main.go passes
// [DefaultRegistry]. Use Option functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	if err := a.initVendor(reg); err != nil {
		return nil, fmt.Errorf("app: init vendor: %w", err)
	}
	a.initPipeline()
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage sets up the call repository, session bus, and ingestion stream,
// falling back to the in-memory implementations when no backend is
// configured.
func (a *App) initStorage(ctx context.Context) error {
	var rdb *redis.Client
	if addr := a.cfg.Storage.RedisAddr; addr != "" && (a.bus == nil || a.stream == nil) {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: a.cfg.Storage.RedisPassword,
			DB:       a.cfg.Storage.RedisDB,
		})
		a.closers = append(a.closers, rdb.Close)
		a.checkers = append(a.checkers, health.Stream(rdb))
	}

	if a.bus == nil {
		if rdb != nil {
			a.bus = bus.NewRedis(rdb)
		} else {
			a.bus = bus.NewMemory()
		}
	}
	a.closers = append(a.closers, a.bus.Close)

	if a.stream == nil {
		if rdb != nil {
			stream, err := ingest.NewRedis(ctx, rdb)
			if err != nil {
				return fmt.Errorf("create redis stream: %w", err)
			}
			a.stream = stream
		} else {
			a.stream = ingest.NewMemory()
		}
	}
	a.closers = append(a.closers, a.stream.Close)

	if a.repo == nil {
		if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			repo := callrepo.NewPostgres(pool)
			if err := repo.Migrate(ctx); err != nil {
				pool.Close()
				return fmt.Errorf("migrate call schema: %w", err)
			}
			a.repo = repo
			a.closers = append(a.closers, func() error {
				pool.Close()
				return nil
			})
			a.checkers = append(a.checkers, health.Database(pool))
		} else {
			a.repo = callrepo.NewMemory()
		}
	}

	return nil
}

// initVendor builds the composite speech vendor from the registry and wraps
// it in the bounded worker pool.
func (a *App) initVendor(reg *config.Registry) error {
	if a.vendor != nil {
		return nil
	}
	vendor, err := buildVendor(a.cfg.Vendors, reg)
	if err != nil {
		return err
	}
	a.vendor = vendor
	return nil
}

// buildVendor assembles the composite speech vendor from the registry. A
// capability whose entry declares fallbacks is wrapped in a failover group
// with per-backend circuit breakers; the whole composite then runs behind
// the bounded worker pool.
func buildVendor(v config.VendorsConfig, reg *config.Registry) (speech.Vendor, error) {
	var (
		transcriber speech.Transcriber
		streaming   speech.StreamingTranscriber
		translator  speech.Translator
		synthesizer speech.Synthesizer
	)
	if v.Batch.Name != "" {
		primary, err := reg.CreateTranscriber(v.Batch)
		if err != nil {
			return nil, err
		}
		transcriber = primary
		if len(v.Batch.Fallbacks) > 0 {
			fb := resilience.NewTranscriberFallback(primary, v.Batch.Name, resilience.FallbackConfig{})
			for _, e := range v.Batch.Fallbacks {
				impl, err := reg.CreateTranscriber(e)
				if err != nil {
					return nil, err
				}
				fb.AddFallback(e.Name, impl)
			}
			transcriber = fb
		}
	}
	if v.Streaming.Name != "" {
		primary, err := reg.CreateStreaming(v.Streaming)
		if err != nil {
			return nil, err
		}
		streaming = primary
		if len(v.Streaming.Fallbacks) > 0 {
			fb := resilience.NewStreamingFallback(primary, v.Streaming.Name, resilience.FallbackConfig{})
			for _, e := range v.Streaming.Fallbacks {
				impl, err := reg.CreateStreaming(e)
				if err != nil {
					return nil, err
				}
				fb.AddFallback(e.Name, impl)
			}
			streaming = fb
		}
	}
	if v.Translate.Name != "" {
		primary, err := reg.CreateTranslator(v.Translate)
		if err != nil {
			return nil, err
		}
		translator = primary
		if len(v.Translate.Fallbacks) > 0 {
			fb := resilience.NewTranslatorFallback(primary, v.Translate.Name, resilience.FallbackConfig{})
			for _, e := range v.Translate.Fallbacks {
				impl, err := reg.CreateTranslator(e)
				if err != nil {
					return nil, err
				}
				fb.AddFallback(e.Name, impl)
			}
			translator = fb
		}
	}
	if v.Synthesize.Name != "" {
		primary, err := reg.CreateSynthesizer(v.Synthesize)
		if err != nil {
			return nil, err
		}
		synthesizer = primary
		if len(v.Synthesize.Fallbacks) > 0 {
			fb := resilience.NewSynthesizerFallback(primary, v.Synthesize.Name, resilience.FallbackConfig{})
			for _, e := range v.Synthesize.Fallbacks {
				impl, err := reg.CreateSynthesizer(e)
				if err != nil {
					return nil, err
				}
				fb.AddFallback(e.Name, impl)
			}
			synthesizer = fb
		}
	}

	composed := speech.Compose(transcriber, streaming, translator, synthesizer)

	poolOpts := []speech.PoolOption{}
	if v.PoolSize > 0 {
		poolOpts = append(poolOpts, speech.WithPoolSize(v.PoolSize))
	}
	timeouts := speech.Timeouts{
		Transcribe: secondsOrZero(v.TranscribeTimeoutSec),
		Translate:  secondsOrZero(v.TranslateTimeoutSec),
		Synthesize: secondsOrZero(v.SynthesizeTimeoutSec),
	}
	if timeouts != (speech.Timeouts{}) {
		poolOpts = append(poolOpts, speech.WithTimeouts(timeouts))
	}
	return speech.NewPooled(composed, poolOpts...), nil
}

// initPipeline builds the translation fan-out, the batch recognition path,
// the streaming caption sessions, and the session orchestrator.
func (a *App) initPipeline() {
	p := a.cfg.Pipeline

	cache := synthcache.New(p.TTSCacheMaxSize)
	a.proc = translate.NewProcessor(a.vendor, a.repo, a.bus, cache, translate.Config{
		ContextMaxChars: p.Translate.ContextMaxChars,
		SnippetMaxChars: p.Translate.SnippetMaxChars,
		MemorySize:      p.Translate.MemorySize,
		DedupTTL:        time.Duration(p.Translate.DedupTTLSec) * time.Second,
		IncludeSpeaker:  p.Translate.IncludeSpeakerInTargets,
		Voice:           a.cfg.Vendors.Synthesize.Voice,
	})

	a.worker = batch.NewWorker(a.vendor, a.proc, batch.WithConfig(batch.Config{
		MergeWindow:       time.Duration(p.Batch.MergeWindowMS) * time.Millisecond,
		MergeMaxWords:     p.Batch.MergeMaxWords,
		MaxBufferSegments: p.Batch.MaxBufferSegments,
	}))

	detector := vad.New(vad.Config{
		RMSSilenceThreshold: p.VAD.RMSSilenceThreshold,
		SpeechNoiseRatio:    p.VAD.SpeechNoiseRatio,
		HistoryMaxBytes:     p.VAD.HistoryMaxBytes,
		MinAnalysisBytes:    p.VAD.MinAnalysisBytes,
	})
	a.consumer = batch.NewConsumer(a.stream, a.worker, detector, chunker.Config{
		SilenceThreshold: time.Duration(p.Chunker.SilenceThresholdMS) * time.Millisecond,
		MinAudioLength:   time.Duration(p.Chunker.MinAudioLengthMS) * time.Millisecond,
		MaxAccumulation:  time.Duration(p.Chunker.MaxAccumulationMS) * time.Millisecond,
	})

	a.interims = interim.NewManager(a.vendor, a.bus, interim.Config{
		MinChars:        p.Interim.MinChars,
		PublishInterval: time.Duration(p.Interim.PublishIntervalMS) * time.Millisecond,
		MaxTextLength:   p.Interim.MaxTextLength,
	})

	a.orch = orchestrator.New(a.repo, a.bus, orchestrator.Config{
		MinParticipants: a.cfg.Session.MinParticipants,
		MaxParticipants: a.cfg.Session.MaxParticipants,
		OfflineGrace:    a.cfg.Session.OfflineGrace(),
		DefaultLanguage: a.cfg.Session.DefaultLanguage,
	})

	if a.auth == nil {
		a.auth = insecureAuth{}
	}
	a.fabric = fabric.NewServer(a.auth, a.orch, a.bus, a.stream,
		fabric.WithAudioSinks(a.interims),
		fabric.WithStreamEnders(a.consumer, interimEnder{a.interims}),
		fabric.WithOnJoin(a.onJoin),
	)
}

// initHTTP assembles the route table.
func (a *App) initHTTP() {
	a.mux = http.NewServeMux()
	a.mux.Handle("/ws", a.fabric)
	a.mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.checkers...).Register(a.mux)
}

// onJoin starts the streaming caption session for a call participant.
func (a *App) onJoin(ctx context.Context, rt *orchestrator.Runtime) {
	if err := a.interims.StartSession(ctx, rt.SessionID, rt.UserID, rt.Language, a.onStreamingFinal); err != nil {
		// The batch path still covers this speaker's audio.
		slog.Warn("app: start caption session failed",
			"session", rt.SessionID, "user", rt.UserID, "error", err)
	}
}

// onStreamingFinal hands a committed streaming transcript to the fan-out
// without blocking the caption session's reader. The processor's per-speaker
// queue keeps consecutive finals in order even when vendor latency varies.
func (a *App) onStreamingFinal(sessionID, speakerID, text, sourceLang string) {
	a.proc.Submit(translate.Final{
		SessionID:  sessionID,
		SpeakerID:  speakerID,
		Text:       text,
		SourceLang: sourceLang,
		Streaming:  true,
	})
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the relay's HTTP route table. Test hook; Run serves it.
func (a *App) Handler() http.Handler { return a.mux }

// Run initialises telemetry, starts the stream consumer, and serves HTTP
// until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelShutdown(shutCtx)
	})

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- a.consumer.Run(ctx)
	}()

	a.httpSrv = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: a.mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("app: listening", "addr", a.httpSrv.Addr, "tls", a.cfg.Server.TLS != nil)
		if tls := a.cfg.Server.TLS; tls != nil {
			serveErr <- a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			serveErr <- a.httpSrv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		<-consumerDone
		return ctx.Err()
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: connections drain first so no new
// audio arrives, then the pipeline flushes, then the backing stores close.
// It respects the context deadline; remaining closers are skipped once ctx
// expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down")

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("app: http shutdown error", "error", err)
			}
		}
		if err := a.fabric.Shutdown(ctx); err != nil {
			slog.Warn("app: fabric shutdown error", "error", err)
		}
		a.consumer.Shutdown()
		a.interims.Shutdown()
		a.proc.Close()
		a.orch.Shutdown()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "error", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// interimEnder adapts the caption manager to the fabric's stream-end hook.
type interimEnder struct{ m *interim.Manager }

func (e interimEnder) EndStream(sessionID, speakerID string) {
	e.m.StopSession(sessionID, speakerID)
}

// insecureAuth treats the presented token as the user id. Placeholder for
// deployments without an identity provider; production wiring injects a real
// [fabric.Authenticator].
type insecureAuth struct{}

func (insecureAuth) Authenticate(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

func secondsOrZero(sec float64) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}

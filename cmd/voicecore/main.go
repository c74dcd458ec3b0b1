// Command voicecore runs the voice conversation session gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/numera-ai/voicecore/internal/dotenv"
	"github.com/numera-ai/voicecore/pkg/core/contextcache"
	"github.com/numera-ai/voicecore/pkg/core/llm"
	"github.com/numera-ai/voicecore/pkg/core/prompt"
	"github.com/numera-ai/voicecore/pkg/core/room"
	"github.com/numera-ai/voicecore/pkg/core/session"
	"github.com/numera-ai/voicecore/pkg/core/tools"
	"github.com/numera-ai/voicecore/pkg/core/transcript"
	"github.com/numera-ai/voicecore/pkg/core/types"
	"github.com/numera-ai/voicecore/pkg/core/voice"
	"github.com/numera-ai/voicecore/pkg/core/voice/stt"
	"github.com/numera-ai/voicecore/pkg/core/voice/tts"
	"github.com/numera-ai/voicecore/pkg/gateway/config"
	"github.com/numera-ai/voicecore/pkg/gateway/lifecycle"
	"github.com/numera-ai/voicecore/pkg/gateway/media"
	"github.com/numera-ai/voicecore/pkg/gateway/metrics"
	gatewayserver "github.com/numera-ai/voicecore/pkg/gateway/server"
)

type serveDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

const (
	historyLimit  = 5    // prior conversations recalled into the instructions
	historyMaxLen = 1200 // runes; keeps the system prompt bounded
)

type historyCache interface {
	Get(ctx context.Context, userRef string) (string, bool)
	Set(ctx context.Context, userRef, value string)
}

type historySource interface {
	RecentConversations(ctx context.Context, userRef string, limit int) ([]transcript.RecalledConversation, error)
}

// conversationHistory returns the prior-conversation block for a user's
// system instructions: cache-aside over Redis with the transcript store as
// the source of truth. A store failure degrades to a first-conversation
// prompt.
func conversationHistory(ctx context.Context, cache historyCache, store historySource, userRef string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	if block, ok := cache.Get(ctx, userRef); ok {
		return block
	}
	recalls, err := store.RecentConversations(ctx, userRef, historyLimit)
	if err != nil {
		logger.Warn("recent conversation lookup failed", "user_ref", userRef, "error", err)
		return ""
	}
	entries := make([]prompt.HistoryEntry, 0, len(recalls))
	for _, rc := range recalls {
		entries = append(entries, prompt.HistoryEntry{Date: rc.StartedAt, Topic: rc.Opening})
	}
	block := prompt.FormatHistory(entries, historyMaxLen)
	if block != "" {
		cache.Set(ctx, userRef, block)
	}
	return block
}

// pipelineWithCleanup releases the session's media endpoint after the
// conversation loop exits, whatever the reason.
type pipelineWithCleanup struct {
	inner   session.Pipeline
	cleanup func()
}

func (p pipelineWithCleanup) Run(ctx context.Context) error {
	defer p.cleanup()
	return p.inner.Run(ctx)
}

func runServe(ctx context.Context, logger *slog.Logger, deps serveDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	m := metrics.New()

	store, err := transcript.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	writer := transcript.NewWriter(store, logger, transcript.WriterConfig{
		Workers:       cfg.WriterWorkers,
		QueueSize:     cfg.WriterQueueSize,
		Retries:       cfg.WriterRetries,
		WriteFailures: m.TranscriptErrors,
		Dropped:       m.TranscriptDrops,
	})

	var cache *contextcache.Cache
	if cfg.RedisURL != "" {
		rdb, err := contextcache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		cache = contextcache.New(rdb, cfg.ContextCacheTTL, logger)
	}

	rooms := room.NewDaily(room.DailyConfig{
		APIKey:          cfg.DailyAPIKey,
		BaseURL:         cfg.DailyBaseURL,
		RoomTTL:         cfg.RoomTTL,
		TokenTTL:        cfg.TokenTTL,
		MaxParticipants: cfg.MaxParticipants,
		MaxRetries:      uint64(cfg.CreateRetries),
		RetryBackoff:    cfg.CreateRetryDelay,
	}, logger)

	sttProvider := stt.NewDeepgram(cfg.DeepgramAPIKey)
	llmProvider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})
	ttsProvider := tts.NewElevenLabs(cfg.ElevenLabsAPIKey)

	// Numerology calculation backends register their handlers here; the
	// dispatcher serves the schemas and enforces the call timeout either way.
	dispatcher := tools.NewDispatcher(cfg.ToolTimeout, logger,
		tools.NumerologyBindings(nil)...)

	hub := media.NewHub()

	factory := func(sess types.Session, profile types.UserProfile, onActivity func(time.Time)) (session.Pipeline, error) {
		endpoint := hub.Create(sess.ID)

		historyCtx, cancelHistory := context.WithTimeout(context.Background(), 2*time.Second)
		history := conversationHistory(historyCtx, cache, store, sess.UserRef, logger)
		cancelHistory()
		instructions := prompt.Build(prompt.UserContext{
			Name:      profile.DisplayName,
			Locale:    profile.Locale,
			BirthDate: profile.BirthDate,
		}, history)

		orch, err := voice.New(voice.Config{
			SessionID:          sess.ID,
			SystemInstructions: instructions,
			STT: stt.SessionOptions{
				Model:      cfg.DeepgramModel,
				SampleRate: cfg.AudioSampleRate,
			},
			TTS: tts.ContextOptions{
				Voice:      cfg.ElevenLabsVoice,
				SampleRate: cfg.AudioSampleRate,
			},
			LLMTimeout:         cfg.LLMTimeout,
			TurnCeiling:        cfg.TurnCeiling,
			MaxToolRounds:      cfg.MaxToolRounds,
			MaxHistoryMessages: cfg.MaxHistoryTurns,
		}, voice.Dependencies{
			STT:           sttProvider,
			LLM:           llmProvider,
			TTS:           ttsProvider,
			Tools:         dispatcher,
			Media:         endpoint,
			Transcripts:   writer,
			Logger:        logger,
			OnActivity:    onActivity,
			TurnLatency:   m.TurnLatency,
			DegradedTurns: m.DegradedTurns,
		})
		if err != nil {
			hub.Remove(sess.ID)
			return nil, err
		}
		return pipelineWithCleanup{
			inner:   orch,
			cleanup: func() { hub.Remove(sess.ID) },
		}, nil
	}

	registry := session.NewRegistry()
	mgrDeps := session.Dependencies{
		Rooms:         rooms,
		Pipeline:      factory,
		Transcripts:   writer,
		Logger:        logger,
		OnStateChange: m.OnStateChange,
	}
	if cache != nil {
		mgrDeps.Cache = cache
	}
	mgr, err := session.NewManager(session.Config{
		IdleTimeout:       cfg.IdleTimeout,
		IdleCheckInterval: cfg.IdleCheckInterval,
		StopGrace:         cfg.StopGrace,
		FlushTimeout:      cfg.FlushTimeout,
	}, mgrDeps, registry)
	if err != nil {
		return fmt.Errorf("build session manager: %w", err)
	}

	lc := &lifecycle.Lifecycle{}
	gw := gatewayserver.New(cfg, mgr, registry, lc, m, hub, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	// Stop taking new sessions, end live ones, then flush transcripts.
	lc.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	mgr.EndAll()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !registry.Wait(waitCtx) {
		logger.Warn("sessions still live at shutdown deadline", "count", registry.Count())
	}
	writer.Close()

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serveDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "voicecore: %v\n", err)
		return 1
	}

	if err := runServe(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voicecore: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServeDeps()))
}

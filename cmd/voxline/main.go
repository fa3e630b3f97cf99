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

	"github.com/voxline-ai/voxline/internal/dotenv"
	"github.com/voxline-ai/voxline/pkg/core/llm"
	"github.com/voxline-ai/voxline/pkg/core/providers/gemini"
	"github.com/voxline-ai/voxline/pkg/core/providers/openai"
	"github.com/voxline-ai/voxline/pkg/core/tools"
	"github.com/voxline-ai/voxline/pkg/core/voice/stt"
	"github.com/voxline-ai/voxline/pkg/core/voice/tts"
	"github.com/voxline-ai/voxline/pkg/gateway/config"
	"github.com/voxline-ai/voxline/pkg/gateway/lifecycle"
	gatewayserver "github.com/voxline-ai/voxline/pkg/gateway/server"
	"github.com/voxline-ai/voxline/pkg/gateway/session"
	"github.com/voxline-ai/voxline/pkg/gateway/streamtoken"
	"github.com/voxline-ai/voxline/pkg/gateway/telephony"
	"github.com/voxline-ai/voxline/pkg/store"
)

type appDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAppDeps() appDeps {
	return appDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newLLMProvider(ctx context.Context, cfg config.Config) (llm.Provider, error) {
	switch cfg.LLMProvider {
	case config.LLMProviderOpenAI:
		return openai.New(cfg.OpenAIAPIKey), nil
	case config.LLMProviderGemini:
		return gemini.New(ctx, cfg.GeminiAPIKey)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

func newStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, call records will not survive restarts")
		return store.NewMemory(), nil
	}
	return store.NewPostgres(ctx, cfg.DatabaseURL)
}

func newDispatcher(cfg config.Config, logger *slog.Logger) *tools.Dispatcher {
	var calendar *tools.CalendarClient
	if cfg.CalendarToolsEnabled() {
		calendar = tools.NewCalendarClient(cfg.InternalAPIBaseURL, cfg.InternalAPISecret, nil)
	}
	var callControl tools.CallControl
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		callControl = telephony.NewCallControl(cfg.TwilioAccountSID, cfg.TwilioAuthToken, nil)
	}
	return tools.NewDispatcher(calendar, callControl, logger)
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func run(ctx context.Context, logger *slog.Logger, deps appDeps) error {
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

	llmProvider, err := newLLMProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}

	callStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer callStore.Close()

	tokens := streamtoken.New(cfg.StreamTokenSecret, cfg.StreamTokenTTL)
	tokens.StartSweep(cfg.TokenSweepEvery)
	defer tokens.StopSweep()

	lc := &lifecycle.Lifecycle{}
	calls := session.NewTracker()

	gw := gatewayserver.New(cfg, logger, gatewayserver.Dependencies{
		Tokens:     tokens,
		Lifecycle:  lc,
		Calls:      calls,
		LLM:        llmProvider,
		STT:        stt.NewDeepgram(cfg.DeepgramAPIKey),
		TTS:        tts.NewElevenLabs(cfg.ElevenLabsAPIKey),
		Dispatcher: newDispatcher(cfg, logger),
		Store:      callStore,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting voice gateway",
		"addr", cfg.Addr,
		"llm_provider", cfg.LLMProvider,
		"model", cfg.LLMModel,
		"stream_llm", cfg.StreamLLM,
	)

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

	lc.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	// Give live calls a grace window, then force teardown.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !calls.Wait(waitCtx) {
		canceled := calls.CancelAll()
		logger.Warn("canceled live calls at shutdown", "count", canceled)
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer drainCancel()
		calls.Wait(drainCtx)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voice gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps appDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(); err != nil {
		fmt.Fprintf(stderr, "voxline: %v\n", err)
		return 1
	}

	if err := run(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voxline: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAppDeps()))
}

// Package daemon is the composition root: it wires configuration, logging,
// history, tooling, the model client, and the session into a running
// service.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/kestrel-agent/kestrel/internal/config"
	"github.com/kestrel-agent/kestrel/internal/logger"
	"github.com/kestrel-agent/kestrel/internal/metrics"
	"github.com/kestrel-agent/kestrel/internal/tracing"
	"github.com/kestrel-agent/kestrel/pkg/gateway"
	"github.com/kestrel-agent/kestrel/pkg/history"
	"github.com/kestrel-agent/kestrel/pkg/model"
	"github.com/kestrel-agent/kestrel/pkg/retry"
	"github.com/kestrel-agent/kestrel/pkg/sandbox"
	"github.com/kestrel-agent/kestrel/pkg/snapshot"
	"github.com/kestrel-agent/kestrel/pkg/toolcall"
	"github.com/kestrel-agent/kestrel/pkg/turn"
)

// Daemon owns every long-lived component of one running instance
type Daemon struct {
	config *config.Config
	loader *config.Loader
	logger *logger.Logger

	store       *history.Store
	router      *toolcall.Router
	client      model.Client
	session     *turn.Session
	snapshotter *snapshot.GitSnapshotter
	metrics     *metrics.Metrics
	sink        turn.EventSink

	gatewayServer *gateway.Server
	scheduler     *snapshot.Scheduler
	configWatcher *config.Watcher
}

// New loads configuration from configPath (empty means the default
// location) and builds a daemon. Nothing is started yet.
func New(configPath string) (*Daemon, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewWithConfig(cfg, loader)
}

// NewWithConfig builds a daemon from an already-loaded configuration. The
// loader may be nil, which disables config hot reload.
func NewWithConfig(cfg *config.Config, loader *config.Loader) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := history.NewStore(cfg.History.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	exec, err := sandbox.NewHostExecutor(sandbox.Config{
		AllowedPaths:   cfg.Sandbox.AllowedPaths,
		DeniedPaths:    cfg.Sandbox.DeniedPaths,
		DefaultTimeout: cfg.Sandbox.ExecTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	router := toolcall.NewRouter()
	if err := toolcall.RegisterBuiltins(router, exec, cfg.WorkspacePath); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	client, err := model.NewClient(model.Config{
		Provider:  cfg.Model.Provider,
		Model:     cfg.Model.Model,
		APIKey:    cfg.Model.APIKey,
		MaxTokens: cfg.Model.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	d := &Daemon{
		config: cfg,
		loader: loader,
		logger: lg,
		store:  store,
		router: router,
		client: client,
		snapshotter: snapshot.NewGitSnapshotter(exec,
			cfg.SnapshotRepoPath(), cfg.WorkspacePath),
	}

	d.metrics = metrics.NewMetrics()

	sinks := []turn.EventSink{d.metrics.Sink()}
	if cfg.Gateway.Enabled {
		d.gatewayServer = gateway.NewServer(gateway.Config{
			Host:    cfg.Gateway.Host,
			Port:    cfg.Gateway.Port,
			Token:   cfg.Gateway.Token,
			Metrics: d.metrics.Handler(),
		}, func() { d.Interrupt() })
		sinks = append(sinks, d.gatewayServer.Broadcaster())
	}
	d.sink = turn.NewFanoutSink(sinks...)

	d.session = turn.NewSession("sess_"+tracing.NewTraceID(), d.sink)

	if cfg.Snapshot.Enabled {
		scheduler, err := snapshot.NewScheduler(cfg.Snapshot.Schedule, func() {
			d.Snapshot()
		})
		if err != nil {
			return nil, err
		}
		d.scheduler = scheduler
	}

	return d, nil
}

// Start brings up the gateway, snapshot scheduler, and config watcher
func (d *Daemon) Start() error {
	if d.gatewayServer != nil {
		if err := d.gatewayServer.Start(); err != nil {
			return fmt.Errorf("failed to start gateway: %w", err)
		}
	}

	if d.scheduler != nil {
		if err := d.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start snapshot scheduler: %w", err)
		}
	}

	if d.loader != nil {
		watcher, err := config.NewWatcher(d.loader, d.onConfigReload)
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("failed to start config watcher: %w", err)
		}
		d.configWatcher = watcher
	}

	log.Info().
		Str("session_id", d.session.ID()).
		Str("provider", d.client.Provider()).
		Bool("gateway", d.gatewayServer != nil).
		Msg("Daemon started")

	return nil
}

// Run starts the daemon and blocks until SIGINT or SIGTERM
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Info().Str("signal", sig.String()).Msg("Shutting down")
	return d.Stop()
}

// Stop tears everything down in reverse dependency order
func (d *Daemon) Stop() error {
	d.session.Shutdown()

	if d.configWatcher != nil {
		d.configWatcher.Stop()
	}
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	if d.gatewayServer != nil {
		if err := d.gatewayServer.Stop(); err != nil {
			log.Warn().Err(err).Msg("Gateway shutdown failed")
		}
	}
	if err := d.store.Close(); err != nil {
		log.Warn().Err(err).Msg("History store close failed")
	}
	return d.logger.Close()
}

// Session exposes the daemon's session
func (d *Daemon) Session() *turn.Session {
	return d.session
}

// Submit spawns a regular turn for one user message, replacing any active
// turn.
func (d *Daemon) Submit(ctx context.Context, text string) string {
	tc := d.newTurnContext()
	input := d.transcriptWith(ctx, model.UserMessage(text))
	d.recordInput(ctx, model.UserMessage(text))
	d.session.SpawnTask(tc, input, turn.NewRegularTask())
	return tc.SubmissionID
}

// Compact spawns a history compaction turn. The summary the task records
// replaces the stored transcript instead of extending it.
func (d *Daemon) Compact(ctx context.Context) string {
	tc := d.newTurnContext()
	tc.Recorder = &compactRecorder{store: d.store}
	input := d.transcriptWith(ctx)
	d.session.SpawnTask(tc, input, turn.NewCompactTask())
	return tc.SubmissionID
}

// Review spawns a review turn over the current transcript
func (d *Daemon) Review(ctx context.Context, findingsPrompt string) string {
	tc := d.newTurnContext()
	input := d.transcriptWith(ctx, model.UserMessage(findingsPrompt))
	d.recordInput(ctx, model.UserMessage(findingsPrompt))
	d.session.SpawnTask(tc, input, turn.NewReviewTask())
	return tc.SubmissionID
}

// Undo spawns a turn restoring the latest ghost snapshot
func (d *Daemon) Undo() string {
	tc := d.newTurnContext()
	d.session.SpawnTask(tc, nil, turn.NewUndoTask(d.snapshotter))
	return tc.SubmissionID
}

// Snapshot spawns a ghost snapshot turn
func (d *Daemon) Snapshot() string {
	tc := d.newTurnContext()
	d.session.SpawnTask(tc, nil, turn.NewGhostSnapshotTask(d.snapshotter))
	return tc.SubmissionID
}

// Interrupt aborts the active turn
func (d *Daemon) Interrupt() {
	d.session.Interrupt()
}

func (d *Daemon) newTurnContext() *turn.TurnContext {
	return &turn.TurnContext{
		SessionID:    d.session.ID(),
		SubmissionID: tracing.NewSubmissionID(),
		Client:       d.client,
		Router:       d.router,
		Recorder:     d.store,
		Sink:         d.sink,
		Instructions: d.config.Model.Instructions,
		Cwd:          d.config.WorkspacePath,
		RetryOptions: retry.Options{
			BaseDelay:  d.config.Retry.BaseDelay,
			Factor:     d.config.Retry.Factor,
			MaxDelay:   d.config.Retry.MaxDelay,
			MaxElapsed: d.config.Retry.MaxElapsed,
		},
	}
}

// transcriptWith loads the recorded transcript and appends new items. The
// stored prefix is already persisted; new items are persisted by
// recordInput, and the spawned task records only what the turn produces.
func (d *Daemon) transcriptWith(ctx context.Context, items ...model.ResponseItem) []model.ResponseItem {
	stored, err := d.store.Items(ctx, d.session.ID())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load transcript, starting fresh")
		stored = nil
	}
	return append(stored, items...)
}

// recordInput persists user input as soon as it is submitted, whether or not
// the turn it starts survives to completion.
func (d *Daemon) recordInput(ctx context.Context, items ...model.ResponseItem) {
	if err := d.store.Record(ctx, d.session.ID(), items); err != nil {
		log.Warn().Err(err).Msg("Failed to record submitted input")
	}
}

// compactRecorder swaps the whole transcript for the recorded summary
type compactRecorder struct {
	store *history.Store
}

func (r *compactRecorder) Record(ctx context.Context, sessionID string, items []model.ResponseItem) error {
	return r.store.Replace(ctx, sessionID, items)
}

func (d *Daemon) onConfigReload(cfg *config.Config) {
	log.Info().Msg("Configuration reloaded")
	d.config = cfg
}

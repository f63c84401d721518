package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// AutoCloser closes resolved tickets governed by one workflow config.
type AutoCloser interface {
	AutoCloseResolved(ctx context.Context, cfg domain.WorkflowConfig, limit int) (int, error)
}

// AutoCloseConfigSource lists the stored configs that enable auto-close.
type AutoCloseConfigSource interface {
	ListWithAutoClose(ctx context.Context) ([]domain.WorkflowConfig, error)
}

// AutoCloseWorker periodically sweeps resolved tickets into closed.
type AutoCloseWorker struct {
	closer   AutoCloser
	configs  AutoCloseConfigSource
	defaults domain.WorkflowConfig
	batch    int
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
}

// AutoCloseOptions configures an AutoCloseWorker.
type AutoCloseOptions struct {
	Closer   AutoCloser
	Configs  AutoCloseConfigSource
	Defaults domain.WorkflowConfig
	Batch    int
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewAutoCloseWorker builds a worker. It does nothing until Start is called.
func NewAutoCloseWorker(opts AutoCloseOptions) *AutoCloseWorker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := opts.Batch
	if batch <= 0 {
		batch = 200
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &AutoCloseWorker{
		closer:   opts.Closer,
		configs:  opts.Configs,
		defaults: opts.Defaults,
		batch:    batch,
		timeout:  timeout,
		logger:   logger.Named("auto_close"),
	}
}

// Sweep runs one pass: each stored config with auto-close enabled, then the
// defaults for organizations that have no stored config. A failing
// organization is logged and does not stop the pass.
func (w *AutoCloseWorker) Sweep(ctx context.Context) (int, error) {
	var stored []domain.WorkflowConfig
	if w.configs != nil {
		list, err := w.configs.ListWithAutoClose(ctx)
		if err != nil {
			return 0, fmt.Errorf("list auto close configs: %w", err)
		}
		stored = list
	}

	total := 0
	for _, cfg := range stored {
		if cfg.OrganizationID == "" {
			continue
		}
		closed, err := w.closer.AutoCloseResolved(ctx, cfg, w.batch)
		total += closed
		if err != nil {
			w.logger.Error("auto close failed",
				zap.String("organization_id", cfg.OrganizationID),
				zap.Error(err))
		}
	}

	if w.defaults.AutoCloseAfter != nil && *w.defaults.AutoCloseAfter > 0 {
		cfg := w.defaults
		cfg.OrganizationID = ""
		closed, err := w.closer.AutoCloseResolved(ctx, cfg, w.batch)
		total += closed
		if err != nil {
			w.logger.Error("auto close failed for default config", zap.Error(err))
		}
	}
	return total, nil
}

// Start schedules Sweep on a standard five-field cron expression. An empty
// schedule leaves the worker disabled.
func (w *AutoCloseWorker) Start(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		w.logger.Info("auto close disabled (no schedule)")
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return fmt.Errorf("auto close worker already started")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(schedule, w.run); err != nil {
		return fmt.Errorf("invalid auto close schedule %q: %w", schedule, err)
	}
	c.Start()
	w.cron = c
	w.logger.Info("auto close scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (w *AutoCloseWorker) Stop(ctx context.Context) {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (w *AutoCloseWorker) run() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger.Warn("previous auto close sweep still running, skipping")
		return
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	started := time.Now()
	closed, err := w.Sweep(ctx)
	if err != nil {
		w.logger.Error("auto close sweep failed", zap.Error(err))
		return
	}
	w.logger.Info("auto close sweep complete",
		zap.Int("closed", closed),
		zap.Duration("took", time.Since(started)))
}

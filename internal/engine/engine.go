// Package engine drives the evaluation loop: drain the queue, run every
// configured script against every dequeued account, then reconcile the
// aggregated alerts with the persisted results.
package engine

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cdi-alert-engine/internal/config"
	"cdi-alert-engine/internal/domain"
	"cdi-alert-engine/internal/observability"
	"cdi-alert-engine/internal/repository"
	"cdi-alert-engine/internal/sandbox"
	apperrors "cdi-alert-engine/pkg/errors"
)

// Evaluator runs one rule script against one account.
type Evaluator interface {
	Evaluate(ctx context.Context, script sandbox.Script, account *domain.Account) (*domain.Alert, error)
}

// Notifier tells the workflow system an account's alerts changed.
type Notifier interface {
	Notify(ctx context.Context, accountID string) error
}

// Service owns the polling loop.
type Service struct {
	cfg       *config.Config
	queue     repository.Queue
	accounts  repository.Accounts
	results   repository.Results
	evaluator Evaluator
	notifier  Notifier
	scripts   []sandbox.Script
	metrics   *observability.Collector
	logger    *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New builds a Service. notifier may be nil when no workflow endpoint is
// configured; reconciliation is then skipped entirely, writing nothing.
func New(
	cfg *config.Config,
	queue repository.Queue,
	accounts repository.Accounts,
	results repository.Results,
	evaluator Evaluator,
	notifier Notifier,
	metrics *observability.Collector,
	logger *zap.Logger,
) *Service {
	scripts := make([]sandbox.Script, 0, len(cfg.Scripts))
	for _, s := range cfg.Scripts {
		scripts = append(scripts, sandbox.NewScript(s.Path, s.CriteriaGroup))
	}
	return &Service{
		cfg:       cfg,
		queue:     queue,
		accounts:  accounts,
		results:   results,
		evaluator: evaluator,
		notifier:  notifier,
		scripts:   scripts,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Run polls until ctx is cancelled. Each pass drains the queue completely,
// then sleeps for the configured interval.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("engine started",
		zap.Int("scripts", len(s.scripts)),
		zap.Duration("polling_interval", s.cfg.PollingInterval()),
	)

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("engine stopped")
			return nil
		}

		s.runPass(ctx)

		s.sleep(ctx, s.cfg.PollingInterval())
	}
}

// runPass drains the queue, evaluates each account, and reconciles results.
// Failures in one unit never abort the pass; they are logged and counted.
func (s *Service) runPass(ctx context.Context) {
	passID := uuid.NewString()
	logger := s.logger.With(zap.String("pass_id", passID))
	start := s.now()

	accounts := s.drain(ctx, logger)
	if len(accounts) > 0 {
		logger.Info("pass dequeued accounts", zap.Int("count", len(accounts)))
	}

	outcomes := s.evaluateAll(ctx, logger, accounts)

	for _, account := range accounts {
		alerts := outcomes[account.ID]
		if len(alerts) == 0 {
			continue
		}
		s.reconcile(ctx, logger, account.ID, alerts)
	}

	if s.metrics != nil {
		s.metrics.PassesCompleted.Inc()
		s.metrics.PassDuration.Observe(s.now().Sub(start).Seconds())
	}
}

// drain dequeues until the queue reports empty and loads each account.
// Entries for accounts that no longer exist are dropped; they were deleted
// after being queued.
func (s *Service) drain(ctx context.Context, logger *zap.Logger) []*domain.Account {
	var accounts []*domain.Account
	for {
		if ctx.Err() != nil {
			return accounts
		}

		entry, err := s.queue.Dequeue(ctx)
		if err != nil {
			if apperrors.IsTransient(err) {
				logger.Warn("queue unavailable, retrying next pass", zap.Error(err))
			} else {
				logger.Error("dequeue failed", zap.Error(err))
			}
			return accounts
		}
		if entry == nil {
			return accounts
		}

		account, err := s.accounts.FindByID(ctx, entry.ID, s.now(), s.cfg.DVDaysBack, s.cfg.MedDaysBack)
		if err != nil {
			if apperrors.IsNotFound(err) {
				// Deleted after being queued; drop the entry.
				logger.Warn("queued account not found", zap.String("account_id", entry.ID))
			} else {
				logger.Error("account load failed",
					zap.String("account_id", entry.ID),
					zap.Error(err),
				)
			}
			continue
		}

		if s.metrics != nil {
			s.metrics.AccountsEvaluated.Inc()
		}
		accounts = append(accounts, account)
	}
}

// evaluateAll fans one unit of work per (script, account) pair onto a bounded
// group and waits for all of them. A failing script contributes nothing for
// its account; the account's other scripts still report.
func (s *Service) evaluateAll(ctx context.Context, logger *zap.Logger, accounts []*domain.Account) map[string][]*domain.Alert {
	type outcome struct {
		accountID string
		alert     *domain.Alert
	}

	results := make(chan outcome, len(accounts)*len(s.scripts))

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, account := range accounts {
		account := account
		for _, script := range s.scripts {
			script := script
			g.Go(func() error {
				start := s.now()
				alert, err := s.evaluator.Evaluate(gctx, script, account)
				if s.metrics != nil {
					s.metrics.ScriptRuns.WithLabelValues(script.Name).Inc()
					s.metrics.ScriptDuration.Observe(s.now().Sub(start).Seconds())
				}
				if err != nil {
					if s.metrics != nil {
						s.metrics.ScriptFailures.WithLabelValues(script.Name).Inc()
					}
					logger.Error("script failed",
						zap.String("script", script.Name),
						zap.String("account_id", account.ID),
						zap.Error(err),
					)
					return nil
				}
				results <- outcome{accountID: account.ID, alert: alert}
				return nil
			})
		}
	}

	_ = g.Wait()
	close(results)

	outcomes := make(map[string][]*domain.Alert, len(accounts))
	for o := range results {
		outcomes[o.accountID] = append(outcomes[o.accountID], o.alert)
	}
	return outcomes
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

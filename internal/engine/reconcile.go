package engine

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"cdi-alert-engine/internal/domain"
)

// reconcile compares this pass's alerts against the persisted record and,
// when anything differs, rewrites the record and notifies the workflow
// system. A failed notification puts the account back on the queue so the
// next pass retries the whole cycle. Without a configured workflow endpoint
// nothing is written at all.
func (s *Service) reconcile(ctx context.Context, logger *zap.Logger, accountID string, alerts []*domain.Alert) {
	logger = logger.With(zap.String("account_id", accountID))

	if s.notifier == nil {
		logger.Debug("no workflow endpoint configured, skipping reconciliation")
		return
	}

	// Stable persisted order regardless of evaluation scheduling.
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ScriptName < alerts[j].ScriptName })

	changed, err := s.detectChange(ctx, accountID, alerts)
	if err != nil {
		logger.Error("result fetch failed", zap.Error(err))
		return
	}
	if !changed {
		logger.Debug("alerts unchanged")
		return
	}

	if err := s.results.Upsert(ctx, accountID, alerts); err != nil {
		logger.Error("result upsert failed", zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.ResultsUpserted.Inc()
	}
	logger.Info("alerts persisted", zap.Int("alerts", len(alerts)))

	if err := s.notifier.Notify(ctx, accountID); err != nil {
		logger.Error("workflow notification failed, requeueing", zap.Error(err))
		if s.metrics != nil {
			s.metrics.NotificationsFailed.Inc()
		}
		if err := s.queue.Enqueue(ctx, accountID, domain.QueueSourceRequeue); err != nil {
			logger.Error("requeue failed", zap.Error(err))
			return
		}
		if s.metrics != nil {
			s.metrics.Requeues.Inc()
		}
	}
}

// detectChange reports whether any alert differs from what is persisted. A
// missing record, a missing per-script field, or a field that no longer
// parses as an alert all count as changed.
func (s *Service) detectChange(ctx context.Context, accountID string, alerts []*domain.Alert) (bool, error) {
	record, err := s.results.Fetch(ctx, accountID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return true, nil
	}

	for _, alert := range alerts {
		previous, present, parseErr := record.Alert(alert.ScriptName)
		if parseErr != nil || !present {
			return true, nil
		}
		if !alert.Equal(previous) {
			return true, nil
		}
	}
	return false, nil
}

package consumer

import (
	"context"
	"errors"

	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager starts and stops a fixed set of consumers together.
type Manager struct {
	runners []*Runner
	metrics *metrics.Store
	log     *zap.Logger
}

func NewManager(b *broker.Broker, m *metrics.Store, concurrency int, log *zap.Logger, consumers ...Consumer) *Manager {
	runners := make([]*Runner, len(consumers))
	for i, c := range consumers {
		runners[i] = NewRunner(c, b, m, concurrency, log)
	}
	return &Manager{runners: runners, metrics: m, log: log}
}

// StartAll starts every consumer in parallel. If any fails to start the ones
// already running are stopped again.
func (m *Manager) StartAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range m.runners {
		g.Go(func() error {
			return r.Start(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		_ = m.Shutdown(context.WithoutCancel(ctx))
		return err
	}
	m.log.Info("all consumers started", zap.Int("count", len(m.runners)))
	return nil
}

// Shutdown stops every consumer in parallel and waits for in-flight messages
// until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	errs := make([]error, len(m.runners))
	var g errgroup.Group
	for i, r := range m.runners {
		g.Go(func() error {
			if err := r.Stop(ctx); err != nil {
				m.log.Warn("error stopping consumer", zap.String("consumer", r.Name()), zap.Error(err))
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	m.log.Info("all consumers stopped")
	return errors.Join(errs...)
}

func (m *Manager) Status() map[string]State {
	status := make(map[string]State, len(m.runners))
	for _, r := range m.runners {
		status[r.Name()] = r.State()
	}
	return status
}

// SystemMetrics returns the process-wide metrics snapshot.
func (m *Manager) SystemMetrics(ctx context.Context) (*metrics.Snapshot, error) {
	return m.metrics.Snapshot(ctx)
}

package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pulsecrm/delivery/internal/broker"
	"github.com/pulsecrm/delivery/internal/metrics"
	"github.com/pulsecrm/delivery/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 16

// Runner owns the subscription lifecycle of one Consumer. Messages are handled
// concurrently up to a fixed limit; a failing message is logged, counted and
// reported on the error channel without affecting the others.
type Runner struct {
	c           Consumer
	b           *broker.Broker
	metrics     *metrics.Store
	log         *zap.Logger
	concurrency int
	now         func() time.Time

	mu     sync.Mutex
	state  State
	sub    *broker.Subscription
	group  *errgroup.Group
	cancel context.CancelFunc
}

func NewRunner(c Consumer, b *broker.Broker, m *metrics.Store, concurrency int, log *zap.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Runner{
		c:           c,
		b:           b,
		metrics:     m,
		log:         log.With(zap.String("consumer", c.Name())),
		concurrency: concurrency,
		now:         time.Now,
		state:       StateStopped,
	}
}

func (r *Runner) Name() string {
	return r.c.Name()
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start subscribes the consumer to its channels. Starting a runner that is not
// stopped logs a warning and does nothing. Handlers run on a context detached
// from ctx so in-flight messages survive the caller's cancellation until Stop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStopped {
		r.log.Warn("consumer already running", zap.String("state", string(r.state)))
		return nil
	}
	r.state = StateStarting

	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g := &errgroup.Group{}
	g.SetLimit(r.concurrency)

	sub, err := r.b.Subscribe(hctx, r.c.Channels(), func(msg broker.Message) {
		g.Go(func() error {
			if hctx.Err() != nil {
				r.log.Warn("dropping message received before stop", zap.String("channel", msg.Channel))
				return nil
			}
			r.dispatch(hctx, msg)
			return nil
		})
	})
	if err != nil {
		cancel()
		r.state = StateStopped
		return fmt.Errorf("subscribe %s: %w", r.c.Name(), err)
	}

	r.sub, r.group, r.cancel = sub, g, cancel
	r.state = StateRunning
	r.log.Info("consumer started", zap.Strings("channels", r.c.Channels()))
	return nil
}

// Stop unsubscribes and waits for in-flight messages until ctx is done. When
// ctx expires first, handlers still running see their context cancelled and
// messages still waiting for a slot are dropped.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return nil
	}
	r.state = StateStopping
	sub, g, cancel := r.sub, r.group, r.cancel
	r.mu.Unlock()

	// Close waits for the subscription goroutine, which may be parked in g.Go
	// behind a full group, so it runs off the caller's path.
	done := make(chan error, 1)
	go func() {
		cerr := sub.Close()
		_ = g.Wait()
		done <- cerr
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		r.log.Warn("consumer stopped with messages in flight")
	}
	cancel()

	r.mu.Lock()
	r.state = StateStopped
	r.sub, r.group, r.cancel = nil, nil, nil
	r.mu.Unlock()

	r.log.Info("consumer stopped")
	return err
}

func (r *Runner) dispatch(ctx context.Context, msg broker.Message) {
	name, ns := r.c.Name(), r.c.MetricNamespace()
	log := r.log.With(zap.String("channel", msg.Channel))
	start := r.now()

	var fields map[string]any
	if err := json.Unmarshal(msg.Payload, &fields); err != nil {
		log.Error("failed to parse message", zap.Error(err))
		r.metrics.ObserveFailure(ctx, name, ns, "parse_error")
		r.report(ctx, msg, nil, err)
		return
	}

	if err := r.c.Handle(ctx, msg.Channel, msg.Payload); err != nil {
		outcome := "error"
		if errors.Is(err, ErrInvalidPayload) {
			outcome = "invalid"
		}
		log.Error("message processing failed", zap.Error(err))
		r.metrics.ObserveFailure(ctx, name, ns, outcome)
		r.report(ctx, msg, fields, err)
		return
	}

	d := r.now().Sub(start)
	r.metrics.ObserveProcessing(ctx, name, ns, d)
	log.Debug("message processed", zap.Duration("duration", d))
}

// report publishes an ErrorReport for a failed message. fields is nil when the
// payload was not valid JSON. Failures of the error consumer itself are only
// logged, so a broken report cannot loop.
func (r *Runner) report(ctx context.Context, msg broker.Message, fields map[string]any, cause error) {
	for _, ch := range r.c.Channels() {
		if ch == broker.ChannelErrorHandling {
			return
		}
	}

	rep := models.ErrorReport{
		Service:   r.c.Name(),
		Source:    r.c.Name(),
		Channel:   msg.Channel,
		Error:     cause.Error(),
		Timestamp: r.now().UTC().Format(time.RFC3339Nano),
	}
	if fields == nil {
		rep.ParseError = true
		rep.RawMessage = string(msg.Payload)
	} else {
		rep.MessageID = stringField(fields, "messageId")
		rep.CampaignID = stringField(fields, "campaignId")
		rep.OriginalMessage = fields
	}

	if _, err := r.b.Publish(ctx, broker.ChannelErrorHandling, rep); err != nil {
		r.log.Warn("failed to publish error report", zap.Error(err))
	}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

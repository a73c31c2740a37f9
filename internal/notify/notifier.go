package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/tenants"
	"voice-receptionist/pkg/logger"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "receptionist",
	Subsystem: "notify",
	Name:      "deliveries_total",
	Help:      "Post-call notification deliveries by channel and result.",
}, []string{"channel", "result"})

type Options struct {
	Workers      int
	SendTimeout  time.Duration
	DashboardURL string
}

// Notifier runs post-call work off the webhook path: it summarizes the
// transcript, stores the summary and tells the tenant.
type Notifier struct {
	pool     *ants.Pool
	repo     calls.Repository
	tenants  tenants.Directory
	channels []Channel
	opts     Options
	log      *slog.Logger

	wg sync.WaitGroup
}

func NewNotifier(repo calls.Repository, dir tenants.Directory, opts Options, log *slog.Logger, channels ...Channel) (*Notifier, error) {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "notifier")

	pool, err := ants.NewPool(opts.Workers,
		ants.WithPanicHandler(func(p any) {
			log.Error("notification job panicked", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create notify pool: %w", err)
	}

	return &Notifier{
		pool:     pool,
		repo:     repo,
		tenants:  dir,
		channels: channels,
		opts:     opts,
		log:      log,
	}, nil
}

// Notify schedules post-call processing and returns immediately. The job
// keeps ctx values (request id, call sid) but not its cancellation.
func (n *Notifier) Notify(ctx context.Context, call calls.Call) {
	jobCtx := context.WithoutCancel(ctx)

	n.wg.Add(1)
	// Submit blocks while every worker is busy; keep that off the webhook.
	go func() {
		err := n.pool.Submit(func() {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(jobCtx, n.opts.SendTimeout)
			defer cancel()
			if err := n.Process(ctx, call); err != nil {
				logger.From(ctx).Error("post-call processing failed", "call_id", call.ID, "err", err)
			}
		})
		if err != nil {
			n.wg.Done()
			n.log.Error("post-call job rejected", "call_id", call.ID, "err", err)
		}
	}()
}

// Process summarizes one finalized call and dispatches it to every enabled
// channel. Channel failures are logged, not returned.
func (n *Notifier) Process(ctx context.Context, call calls.Call) error {
	log := logger.From(ctx).With("call_id", call.ID, "tenant_id", call.TenantID)

	entries, err := n.repo.ListEntries(ctx, call.ID)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}

	summary := Summarize(entries)
	if err := n.repo.SetSummary(ctx, call.ID, summary); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	call.Summary, call.Intent, call.CallbackRequested = summary.Text, summary.Intent, summary.CallbackRequested

	tenant, err := n.tenants.Get(ctx, call.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}

	msg := Notification{
		Tenant:       tenant,
		Call:         call,
		Summary:      summary,
		Transcript:   calls.FlattenTranscript(entries),
		DashboardURL: n.opts.DashboardURL,
	}

	for _, ch := range n.channels {
		if !ch.Enabled(msg) {
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			notificationsSent.WithLabelValues(ch.Name(), "error").Inc()
			log.Error("notification failed", "channel", ch.Name(), "err", err)
			continue
		}
		notificationsSent.WithLabelValues(ch.Name(), "sent").Inc()
		log.Info("notification sent", "channel", ch.Name())
	}
	return nil
}

// Close waits for scheduled jobs up to ctx's deadline, then releases the pool.
func (n *Notifier) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	n.pool.Release()
	return err
}

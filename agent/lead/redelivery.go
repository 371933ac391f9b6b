package lead

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m3rciful/agentbot/core/logger"
)

// RecordingNotifier keeps leads its inner notifier failed to deliver.
type RecordingNotifier struct {
	next   Notifier
	outbox *Outbox
}

// NewRecordingNotifier wraps next. A nil outbox makes it a pass-through.
func NewRecordingNotifier(next Notifier, outbox *Outbox) *RecordingNotifier {
	return &RecordingNotifier{next: next, outbox: outbox}
}

// Notify returns the inner error unchanged, after saving the lead for redelivery.
func (r *RecordingNotifier) Notify(ctx context.Context, l Lead) error {
	err := r.next.Notify(ctx, l)
	if err == nil || r.outbox == nil {
		return err
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if saveErr := r.outbox.Save(saveCtx, l, err); saveErr != nil {
		logger.Error(ctx, "lead", "outbox.save",
			slog.String("status", "fail"),
			slog.String("lead_id", l.ID.String()),
			slog.String("err", saveErr.Error()),
		)
		return errors.Join(err, saveErr)
	}
	logger.Info(ctx, "lead", "outbox.save",
		slog.String("status", "ok"),
		slog.String("lead_id", l.ID.String()),
	)
	return err
}

// RedeliveryOptions control the retry loop.
type RedeliveryOptions struct {
	Interval    time.Duration
	MaxAttempts int
	Batch       int
}

// Redeliverer retries leads from the outbox.
type Redeliverer struct {
	outbox   *Outbox
	notifier Notifier
	opts     RedeliveryOptions
}

// NewRedeliverer fills zero options with one minute, five attempts and batches of 20.
func NewRedeliverer(outbox *Outbox, notifier Notifier, opts RedeliveryOptions) *Redeliverer {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Batch <= 0 {
		opts.Batch = 20
	}
	return &Redeliverer{outbox: outbox, notifier: notifier, opts: opts}
}

// Run retries pending leads every interval until ctx is done.
func (r *Redeliverer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "lead", "redeliver.pass", slog.String("status", "fail"), slog.String("err", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Flush makes one pass over the outbox and returns how many leads went out.
func (r *Redeliverer) Flush(ctx context.Context) (int, error) {
	pending, err := r.outbox.Pending(ctx, r.opts.Batch, r.opts.MaxAttempts)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if err := r.notifier.Notify(ctx, p.Lead); err != nil {
			logger.Warn(ctx, "lead", "redeliver.attempt",
				slog.String("status", "retry"),
				slog.String("lead_id", p.ID.String()),
				slog.Int("attempt", p.Attempts+1),
				slog.String("err", err.Error()),
			)
			if markErr := r.outbox.MarkFailed(ctx, p.ID, err); markErr != nil {
				return delivered, markErr
			}
			continue
		}
		if err := r.outbox.MarkDelivered(ctx, p.ID); err != nil {
			return delivered, err
		}
		delivered++
		logger.Info(ctx, "lead", "redeliver.attempt",
			slog.String("status", "ok"),
			slog.String("lead_id", p.ID.String()),
			slog.Int("attempt", p.Attempts+1),
		)
	}
	return delivered, nil
}

// Package ledger holds the per-item vote counters.
//
// A Ledger is the only writer of upvote/downvote counters. Every entry is
// created zeroed together with its post or comment and afterwards changes
// only through Increment. The signed score is always derived from the pair.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alphabot-ai/tiredd/internal/errs"
	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
)

var (
	incrementTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiredd_ledger_increments_total",
		Help: "Ledger increments by item kind, direction and result",
	}, []string{"kind", "direction", "result"})

	incrementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tiredd_ledger_increment_duration_seconds",
		Help:    "Ledger increment latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	}, []string{"kind"})
)

// Backend stores counter pairs. Implementations must make Increment atomic
// per item and must only report store.ErrTransient when nothing was applied.
type Backend interface {
	CreateScore(ctx context.Context, ref model.ItemRef) error
	IncrementScore(ctx context.Context, ref model.ItemRef, dir model.Direction) (model.Score, error)
	GetScore(ctx context.Context, ref model.ItemRef) (model.Score, error)
	// GetScores returns the entries that exist for ids; missing ids are absent
	// from the map.
	GetScores(ctx context.Context, kind model.Kind, ids []string) (map[string]model.Score, error)
	DeleteScore(ctx context.Context, ref model.ItemRef) error
}

type Ledger struct {
	backend Backend
	logger  *slog.Logger
}

func New(backend Backend, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{backend: backend, logger: logger.With("component", "ledger")}
}

// Init creates the zeroed entry for ref.
func (l *Ledger) Init(ctx context.Context, ref model.ItemRef) error {
	const op = "ledger.Init"
	if err := checkRef(op, ref); err != nil {
		return err
	}
	err := store.RetryTransient(ctx, func(ctx context.Context) error {
		return l.backend.CreateScore(ctx, ref)
	})
	if err != nil {
		return errs.E(op, store.Classify(err), err)
	}
	return nil
}

// Increment applies one vote and returns the counters right after it.
func (l *Ledger) Increment(ctx context.Context, ref model.ItemRef, dir model.Direction) (model.Score, error) {
	const op = "ledger.Increment"
	if err := checkRef(op, ref); err != nil {
		return model.Score{}, err
	}
	if !dir.Valid() {
		return model.Score{}, errs.Reason(op, errs.InvalidInput, "invalid direction %d", dir)
	}

	start := time.Now()
	var score model.Score
	attempts := 0
	err := store.RetryTransient(ctx, func(ctx context.Context) error {
		attempts++
		s, err := l.backend.IncrementScore(ctx, ref, dir)
		if err != nil {
			return err
		}
		score = s
		return nil
	})
	incrementDuration.WithLabelValues(string(ref.Kind)).Observe(time.Since(start).Seconds())
	if attempts > 1 {
		l.logger.Warn("increment retried", "kind", ref.Kind, "item_id", ref.ID, "error", err)
	}
	if err != nil {
		kind := store.Classify(err)
		incrementTotal.WithLabelValues(string(ref.Kind), dir.String(), kind.String()).Inc()
		return model.Score{}, errs.E(op, kind, err)
	}
	incrementTotal.WithLabelValues(string(ref.Kind), dir.String(), "ok").Inc()
	return score, nil
}

func (l *Ledger) Score(ctx context.Context, ref model.ItemRef) (model.Score, error) {
	const op = "ledger.Score"
	if err := checkRef(op, ref); err != nil {
		return model.Score{}, err
	}
	var score model.Score
	err := store.RetryTransient(ctx, func(ctx context.Context) error {
		s, err := l.backend.GetScore(ctx, ref)
		score = s
		return err
	})
	if err != nil {
		return model.Score{}, errs.E(op, store.Classify(err), err)
	}
	return score, nil
}

// Scores reads the live counters of many items of one kind.
func (l *Ledger) Scores(ctx context.Context, kind model.Kind, ids []string) (map[string]model.Score, error) {
	const op = "ledger.Scores"
	if !kind.Valid() {
		return nil, errs.Reason(op, errs.InvalidInput, "invalid kind %q", kind)
	}
	if len(ids) == 0 {
		return map[string]model.Score{}, nil
	}
	var scores map[string]model.Score
	err := store.RetryTransient(ctx, func(ctx context.Context) error {
		s, err := l.backend.GetScores(ctx, kind, ids)
		scores = s
		return err
	})
	if err != nil {
		return nil, errs.E(op, store.Classify(err), err)
	}
	return scores, nil
}

// Remove drops an entry. It is only used to undo Init when the owning item
// could not be created.
func (l *Ledger) Remove(ctx context.Context, ref model.ItemRef) error {
	const op = "ledger.Remove"
	err := store.RetryTransient(ctx, func(ctx context.Context) error {
		return l.backend.DeleteScore(ctx, ref)
	})
	if err != nil {
		return errs.E(op, store.Classify(err), err)
	}
	return nil
}

func checkRef(op string, ref model.ItemRef) error {
	if !ref.Kind.Valid() {
		return errs.Reason(op, errs.InvalidInput, "invalid kind %q", ref.Kind)
	}
	if ref.ID == "" {
		return errs.Reason(op, errs.NotFound, "empty item id")
	}
	return nil
}

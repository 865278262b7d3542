// Package vote applies votes from authenticated accounts to the ledger.
package vote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alphabot-ai/tiredd/internal/errs"
	"github.com/alphabot-ai/tiredd/internal/ledger"
	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
)

var votesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tiredd_votes_total",
	Help: "Votes by item kind, direction and result",
}, []string{"kind", "direction", "result"})

type Options struct {
	// Dedupe limits every account to one vote per item.
	Dedupe bool
}

type Service struct {
	votes  store.VoteStore
	ledger *ledger.Ledger
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewService(votes store.VoteStore, l *ledger.Ledger, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		votes:  votes,
		ledger: l,
		opts:   opts,
		logger: logger.With("component", "vote"),
		now:    time.Now,
	}
}

// Cast records one vote by accountID and returns the item's counters right
// after it. A failed vote leaves the counters unchanged.
func (s *Service) Cast(ctx context.Context, accountID string, ref model.ItemRef, dir model.Direction) (model.Score, error) {
	const op = "vote.Cast"
	if accountID == "" {
		return model.Score{}, errs.Reason(op, errs.Unauthenticated, "no account")
	}
	if !ref.Kind.Valid() || !dir.Valid() {
		return model.Score{}, errs.Reason(op, errs.InvalidInput, "invalid vote %s/%d", ref.Kind, dir)
	}

	score, err := s.cast(ctx, accountID, ref, dir)
	result := "ok"
	if err != nil {
		result = errs.KindOf(err).String()
	}
	votesTotal.WithLabelValues(string(ref.Kind), dir.String(), result).Inc()
	if err != nil {
		return model.Score{}, errs.E(op, errs.KindOf(err), err)
	}
	s.logger.Debug("vote", "kind", ref.Kind, "item_id", ref.ID, "direction", dir.String(), "account_id", accountID)
	return score, nil
}

func (s *Service) cast(ctx context.Context, accountID string, ref model.ItemRef, dir model.Direction) (model.Score, error) {
	if !s.opts.Dedupe {
		return s.ledger.Increment(ctx, ref, dir)
	}

	v := model.Vote{Item: ref, AccountID: accountID, Direction: dir, CreatedAt: s.now()}
	err := store.RetryTransient(ctx, func(ctx context.Context) error {
		return s.votes.CreateVote(ctx, &v)
	})
	if errors.Is(err, store.ErrDuplicateVote) {
		return model.Score{}, errs.Reason("vote.record", errs.AlreadyVoted, "account already voted on %s %s", ref.Kind, ref.ID)
	}
	if err != nil {
		return model.Score{}, errs.E("vote.record", store.Classify(err), err)
	}

	score, err := s.ledger.Increment(ctx, ref, dir)
	if err != nil {
		if delErr := s.votes.DeleteVote(context.WithoutCancel(ctx), ref, accountID); delErr != nil {
			s.logger.Error("remove vote record after failed increment", "kind", ref.Kind, "item_id", ref.ID, "error", delErr)
		}
		return model.Score{}, err
	}
	return score, nil
}

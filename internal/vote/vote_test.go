package vote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/neilotoole/slogt"
	"golang.org/x/sync/errgroup"

	"github.com/alphabot-ai/tiredd/internal/errs"
	"github.com/alphabot-ai/tiredd/internal/ledger"
	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store/memory"
)

var post = model.ItemRef{Kind: model.KindPost, ID: "p1"}

func newTestService(t *testing.T, dedupe bool) (*Service, *ledger.Ledger, *memory.Store) {
	t.Helper()
	st := memory.New()
	l := ledger.New(ledger.NewMemory(), slogt.New(t))
	if err := l.Init(context.Background(), post); err != nil {
		t.Fatalf("init: %v", err)
	}
	return NewService(st, l, Options{Dedupe: dedupe}, slogt.New(t)), l, st
}

func TestCastDedupe(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()

	score, err := svc.Cast(ctx, "alice", post, model.Up)
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if score != (model.Score{Upvotes: 1}) {
		t.Fatalf("unexpected score %+v", score)
	}

	_, err = svc.Cast(ctx, "alice", post, model.Down)
	if !errors.Is(err, errs.ErrAlreadyVoted) {
		t.Fatalf("expected AlreadyVoted, got %v", err)
	}

	score, err = svc.Cast(ctx, "bob", post, model.Down)
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if score.Value() != 0 {
		t.Fatalf("expected score 0, got %d", score.Value())
	}
}

func TestCastWithoutDedupe(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Cast(ctx, "alice", post, model.Up); err != nil {
			t.Fatalf("cast %d: %v", i, err)
		}
	}
	score, _ := svc.ledger.Score(ctx, post)
	if score.Upvotes != 3 {
		t.Fatalf("expected 3 upvotes, got %d", score.Upvotes)
	}
}

func TestCastUnknownItemLeavesNoRecord(t *testing.T) {
	svc, _, st := newTestService(t, true)
	ctx := context.Background()
	missing := model.ItemRef{Kind: model.KindComment, ID: "nope"}

	if _, err := svc.Cast(ctx, "alice", missing, model.Up); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	// The vote record was rolled back, so recording it again succeeds.
	if err := st.CreateVote(ctx, &model.Vote{Item: missing, AccountID: "alice", Direction: model.Up}); err != nil {
		t.Fatalf("expected no leftover vote record, got %v", err)
	}
}

func TestCastRejects(t *testing.T) {
	svc, l, _ := newTestService(t, true)
	ctx := context.Background()

	if _, err := svc.Cast(ctx, "", post, model.Up); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if _, err := svc.Cast(ctx, "alice", post, model.Direction(0)); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	score, _ := l.Score(ctx, post)
	if score != (model.Score{}) {
		t.Fatalf("rejected votes must not count, got %+v", score)
	}
}

func TestConcurrentDistinctVoters(t *testing.T) {
	svc, l, _ := newTestService(t, true)
	ctx := context.Background()

	const n = 200
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := svc.Cast(ctx, fmt.Sprintf("acc-%d", i), post, model.Up)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("cast: %v", err)
	}
	score, _ := l.Score(ctx, post)
	if score.Upvotes != n {
		t.Fatalf("expected %d upvotes, got %d", n, score.Upvotes)
	}
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
)

func TestScoreKey(t *testing.T) {
	if got := scoreKey(model.KindComment, "abc"); got != "tiredd:score:comment:abc" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		name    string
		vals    []any
		want    model.Score
		wantErr error
	}{
		{name: "Strings", vals: []any{"5", "2"}, want: model.Score{Upvotes: 5, Downvotes: 2}},
		{name: "Ints", vals: []any{int64(1), int64(0)}, want: model.Score{Upvotes: 1}},
		{name: "Missing", vals: []any{nil, nil}, wantErr: store.ErrNotFound},
		{name: "Short", vals: []any{"1"}, wantErr: store.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScore(tt.vals)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("score mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseScoreRejectsGarbage(t *testing.T) {
	if _, err := parseScore([]any{"x", "1"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestClassifyDialErrorsAsTransient(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	if err := classify(fmt.Errorf("wrapped: %w", dial)); !errors.Is(err, store.ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
	read := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")}
	if err := classify(read); errors.Is(err, store.ErrTransient) {
		t.Fatalf("read errors may have been applied and must not be transient")
	}
}

func TestRetryWatch(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := retryWatch(ctx, func() error {
		calls++
		if calls < 3 {
			return redis.TxFailedErr
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on the third attempt, got %v after %d calls", err, calls)
	}

	calls = 0
	err = retryWatch(ctx, func() error {
		calls++
		return redis.TxFailedErr
	})
	if !errors.Is(err, store.ErrTransient) || calls != watchAttempts {
		t.Fatalf("expected transient after %d attempts, got %v after %d", watchAttempts, err, calls)
	}

	calls = 0
	boom := errors.New("boom")
	if err := retryWatch(ctx, func() error { calls++; return boom }); !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("other errors must not be retried, got %v after %d", err, calls)
	}
}

package postgres

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/alphabot-ai/tiredd/internal/ledger"
	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
)

var _ ledger.Backend = (*Postgres)(nil)

func TestPostRoundTrip(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := model.Post{
		ID:        "0b7f6c8e-9f0e-4f57-8f7a-1f1b0b8f3f11",
		AuthorID:  "5d3a1e2c-4b6f-4d7e-9a8b-0c1d2e3f4a5b",
		Sub:       "tech",
		Title:     "hello",
		URL:       "https://example.com",
		CreatedAt: created,
	}
	row := newPost(&in)
	row.CommentCount = 3
	row.Author = &account{Username: "ann"}

	want := in
	want.AuthorName = "ann"
	want.CommentCount = 3
	if diff := cmp.Diff(want, row.ModelPost()); diff != "" {
		t.Fatalf("post mismatch (-want +got):\n%s", diff)
	}
}

func TestCommentKeepsParent(t *testing.T) {
	parent := "p-1"
	in := model.Comment{ID: "c", PostID: "p", ParentID: &parent, AuthorID: "a", Content: "x"}
	got := newComment(&in).ModelComment()
	if got.ParentID == nil || *got.ParentID != parent {
		t.Fatalf("expected parent %q, got %v", parent, got.ParentID)
	}
	if got.AuthorName != "" {
		t.Fatalf("expected empty author name without relation, got %q", got.AuthorName)
	}
}

func TestScoreModel(t *testing.T) {
	got := score{Upvotes: 4, Downvotes: 6}.ModelScore()
	if got.Value() != -2 {
		t.Fatalf("expected -2, got %d", got.Value())
	}
}

func TestClassify(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
	if !errors.Is(classify(dial), store.ErrTransient) {
		t.Fatalf("dial errors must be transient")
	}
	other := errors.New("syntax error")
	if classify(other) != other {
		t.Fatalf("unexpected rewrite of %v", other)
	}
	if isUniqueViolation(other) {
		t.Fatalf("plain errors are not unique violations")
	}
}

package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neilotoole/slogt"

	"github.com/alphabot-ai/tiredd/internal/auth"
	"github.com/alphabot-ai/tiredd/internal/content"
	"github.com/alphabot-ai/tiredd/internal/errs"
	"github.com/alphabot-ai/tiredd/internal/feed"
	"github.com/alphabot-ai/tiredd/internal/ledger"
	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store/memory"
	"github.com/alphabot-ai/tiredd/internal/store/sqlite"
	"github.com/alphabot-ai/tiredd/internal/vote"
)

func testOptions() Options {
	return Options{
		Auth: auth.Options{SessionTTL: time.Hour, ChallengeTTL: time.Minute, AutoRegister: true},
		Vote: vote.Options{Dedupe: true},
		Feed: feed.Options{ScanLimit: 1000, DefaultLimit: 100},
	}
}

func newMemoryApp(t *testing.T) *App {
	t.Helper()
	return New(memory.New(), ledger.New(ledger.NewMemory(), slogt.New(t)), testOptions(), slogt.New(t))
}

func newSQLiteApp(t *testing.T) *App {
	t.Helper()
	st, err := sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, ledger.New(st, slogt.New(t)), testOptions(), slogt.New(t))
}

func has(posts []model.Post, id string) bool {
	for _, p := range posts {
		if p.ID == id {
			return true
		}
	}
	return false
}

// runScenario walks the post / vote / comment flow end to end.
func runScenario(t *testing.T, a *App) {
	ctx := context.Background()

	alice, _, err := a.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("login alice: %v", err)
	}
	bob, _, err := a.Login(ctx, "bob", "pw")
	if err != nil {
		t.Fatalf("login bob: %v", err)
	}

	p, err := a.SubmitPost(ctx, alice.Token, content.NewPost{Sub: "tech", Title: "P"})
	if err != nil {
		t.Fatalf("submit post: %v", err)
	}
	if p.Score.Value() != 0 || p.AuthorName != "alice" {
		t.Fatalf("unexpected post %+v", p)
	}

	fresh, _ := a.ListPosts(ctx, feed.New("tech"))
	hot, _ := a.ListPosts(ctx, feed.Hot("tech"))
	if !has(fresh, p.ID) || has(hot, p.ID) {
		t.Fatalf("new post should be in new only")
	}

	for _, tok := range []string{alice.Token, bob.Token} {
		if _, err := a.Vote(ctx, tok, p.Ref(), model.Up); err != nil {
			t.Fatalf("upvote: %v", err)
		}
	}
	fresh, _ = a.ListPosts(ctx, feed.New("tech"))
	hot, _ = a.ListPosts(ctx, feed.Hot("tech"))
	if has(fresh, p.ID) || !has(hot, p.ID) {
		t.Fatalf("post with score 2 should be in hot only")
	}

	c1, err := a.SubmitComment(ctx, bob.Token, content.NewComment{PostID: p.ID, Content: "C1"})
	if err != nil {
		t.Fatalf("comment c1: %v", err)
	}
	if _, err := a.SubmitComment(ctx, alice.Token, content.NewComment{PostID: p.ID, ParentID: &c1.ID, Content: "C2"}); err != nil {
		t.Fatalf("comment c2: %v", err)
	}
	comments, err := a.ListComments(ctx, p.ID)
	if err != nil || len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d (%v)", len(comments), err)
	}
	tree, err := a.CommentTree(ctx, p.ID)
	if err != nil || len(tree) != 1 || len(tree[0].Children) != 1 {
		t.Fatalf("unexpected tree %+v (%v)", tree, err)
	}
	got, err := a.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if got.CommentCount != 2 || got.Score.Value() != 2 {
		t.Fatalf("unexpected post after scenario %+v", got)
	}
}

func TestScenarioMemory(t *testing.T) {
	runScenario(t, newMemoryApp(t))
}

func TestScenarioSQLite(t *testing.T) {
	runScenario(t, newSQLiteApp(t))
}

func TestMutationsRequireSession(t *testing.T) {
	a := newMemoryApp(t)
	ctx := context.Background()

	sess, _, _ := a.Login(ctx, "alice", "pw")
	p, _ := a.SubmitPost(ctx, sess.Token, content.NewPost{Sub: "tech", Title: "P"})
	if err := a.Logout(ctx, sess.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}

	for _, tok := range []string{"", "unknown", sess.Token} {
		if _, err := a.Vote(ctx, tok, p.Ref(), model.Up); !errors.Is(err, errs.ErrUnauthenticated) {
			t.Fatalf("vote with %q: expected Unauthenticated, got %v", tok, err)
		}
		if _, err := a.SubmitPost(ctx, tok, content.NewPost{Sub: "tech", Title: "x"}); !errors.Is(err, errs.ErrUnauthenticated) {
			t.Fatalf("post with %q: expected Unauthenticated, got %v", tok, err)
		}
		if _, err := a.SubmitComment(ctx, tok, content.NewComment{PostID: p.ID, Content: "x"}); !errors.Is(err, errs.ErrUnauthenticated) {
			t.Fatalf("comment with %q: expected Unauthenticated, got %v", tok, err)
		}
	}
	got, _ := a.GetPost(ctx, p.ID)
	if got.Score != (model.Score{}) || got.CommentCount != 0 {
		t.Fatalf("rejected calls changed state: %+v", got)
	}
}

func TestVoteUnknownItem(t *testing.T) {
	a := newMemoryApp(t)
	ctx := context.Background()
	sess, _, _ := a.Login(ctx, "alice", "pw")

	for _, ref := range []model.ItemRef{
		{Kind: model.KindPost, ID: "missing"},
		{Kind: model.KindComment, ID: ""},
	} {
		if _, err := a.Vote(ctx, sess.Token, ref, model.Up); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("vote on %+v: expected NotFound, got %v", ref, err)
		}
	}
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/alphabot-ai/tiredd/internal/errs"
	"github.com/alphabot-ai/tiredd/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateVote = errors.New("duplicate vote")
	ErrDuplicateName = errors.New("duplicate name")
	ErrDuplicateKey  = errors.New("duplicate key")
	// ErrTransient marks a failure where the store guarantees nothing was
	// written, so the operation may be retried.
	ErrTransient = errors.New("transient store failure")
)

type PostListOpts struct {
	// Sub restricts the listing to one sub-community. Empty means all.
	Sub string
	// Limit caps the number of posts returned, newest first. Zero means no cap.
	Limit int
	// Offset skips that many of the newest posts.
	Offset int
}

type Store interface {
	ContentStore
	IdentityStore
	VoteStore
	Close() error
}

type ContentStore interface {
	PostStore
	CommentStore
}

type PostStore interface {
	CreatePost(ctx context.Context, post *model.Post) error
	GetPost(ctx context.Context, id string) (model.Post, error)
	// ListPosts returns posts ordered by creation time, newest first.
	ListPosts(ctx context.Context, opts PostListOpts) ([]model.Post, error)
}

type CommentStore interface {
	// CreateComment inserts the comment and bumps the owning post's comment
	// count in one step. It returns ErrNotFound when the post does not exist.
	CreateComment(ctx context.Context, comment *model.Comment) error
	GetComment(ctx context.Context, id string) (model.Comment, error)
	// ListCommentsByPost returns comments in creation order.
	ListCommentsByPost(ctx context.Context, postID string) ([]model.Comment, error)
}

type IdentityStore interface {
	AccountStore
	SessionStore
	KeyStore
}

type AccountStore interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, id string) (model.Account, error)
	GetAccountByName(ctx context.Context, username string) (model.Account, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, session model.Session) error
	GetSession(ctx context.Context, token string) (model.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type KeyStore interface {
	AddAccountKey(ctx context.Context, key *model.AccountKey) error
	FindAccountKey(ctx context.Context, alg, publicKey string) (model.AccountKey, error)
	CreateChallenge(ctx context.Context, c model.Challenge) error
	// ConsumeChallenge returns the challenge and removes it.
	ConsumeChallenge(ctx context.Context, challenge string) (model.Challenge, error)
}

type VoteStore interface {
	// CreateVote returns ErrDuplicateVote when the account already voted on the item.
	CreateVote(ctx context.Context, vote *model.Vote) error
	DeleteVote(ctx context.Context, item model.ItemRef, accountID string) error
}

// Classify maps a storage error onto the core failure taxonomy.
func Classify(err error) errs.Kind {
	if k := errs.KindOf(err); k != errs.Internal {
		return k
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return errs.NotFound
	case errors.Is(err, ErrTransient):
		return errs.Transient
	case errors.Is(err, ErrDuplicateVote):
		return errs.AlreadyVoted
	case errors.Is(err, ErrDuplicateName), errors.Is(err, ErrDuplicateKey):
		return errs.InvalidInput
	}
	return errs.Internal
}

// RetryTransient runs fn and runs it once more if the first attempt failed
// with ErrTransient.
func RetryTransient(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !errors.Is(err, ErrTransient) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return err
	}
	return fn(ctx)
}

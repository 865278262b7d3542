// Package app is the token-threaded entry point to the core. Every method
// that changes state takes the caller's session token and resolves it before
// doing anything else.
package app

import (
	"context"
	"log/slog"

	"github.com/alphabot-ai/tiredd/internal/auth"
	"github.com/alphabot-ai/tiredd/internal/content"
	"github.com/alphabot-ai/tiredd/internal/errs"
	"github.com/alphabot-ai/tiredd/internal/feed"
	"github.com/alphabot-ai/tiredd/internal/ledger"
	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
	"github.com/alphabot-ai/tiredd/internal/vote"
)

type Options struct {
	Auth auth.Options
	Vote vote.Options
	Feed feed.Options
}

type App struct {
	auth     *auth.Service
	content  *content.Service
	feed     *feed.Partitioner
	comments *feed.Assembler
	votes    *vote.Service
}

func New(st store.Store, l *ledger.Ledger, opts Options, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	c := content.NewService(st, l, logger)
	return &App{
		auth:     auth.NewService(st, opts.Auth, logger),
		content:  c,
		feed:     feed.NewPartitioner(c, l, opts.Feed, logger),
		comments: feed.NewAssembler(c, l, logger),
		votes:    vote.NewService(st, l, opts.Vote, logger),
	}
}

func (a *App) Login(ctx context.Context, username, password string) (model.Session, model.Account, error) {
	return a.auth.Login(ctx, username, password)
}

func (a *App) Logout(ctx context.Context, token string) error {
	return a.auth.Logout(ctx, token)
}

func (a *App) ResolveSession(ctx context.Context, token string) (auth.Identity, error) {
	return a.auth.Resolve(ctx, token)
}

// PurgeSessions deletes expired sessions.
func (a *App) PurgeSessions(ctx context.Context) (int64, error) {
	return a.auth.PurgeExpired(ctx)
}

func (a *App) CreateChallenge(ctx context.Context, alg string) (model.Challenge, error) {
	return a.auth.CreateChallenge(ctx, alg)
}

// AddKey attaches a key to the account behind token.
func (a *App) AddKey(ctx context.Context, token, alg, publicKey, challenge, signature string) (model.AccountKey, error) {
	id, err := a.auth.Resolve(ctx, token)
	if err != nil {
		return model.AccountKey{}, err
	}
	return a.auth.AddKey(ctx, id.Account.ID, alg, publicKey, challenge, signature)
}

func (a *App) LoginWithKey(ctx context.Context, alg, publicKey, challenge, signature string) (model.Session, model.Account, error) {
	return a.auth.LoginWithKey(ctx, alg, publicKey, challenge, signature)
}

func (a *App) SubmitPost(ctx context.Context, token string, in content.NewPost) (model.Post, error) {
	id, err := a.auth.Resolve(ctx, token)
	if err != nil {
		return model.Post{}, err
	}
	return a.content.CreatePost(ctx, id.Account, in)
}

func (a *App) GetPost(ctx context.Context, postID string) (model.Post, error) {
	return a.content.GetPost(ctx, postID)
}

func (a *App) ListPosts(ctx context.Context, q feed.Query) ([]model.Post, error) {
	return a.feed.ListPosts(ctx, q)
}

func (a *App) SubmitComment(ctx context.Context, token string, in content.NewComment) (model.Comment, error) {
	id, err := a.auth.Resolve(ctx, token)
	if err != nil {
		return model.Comment{}, err
	}
	return a.content.CreateComment(ctx, id.Account, in)
}

func (a *App) ListComments(ctx context.Context, postID string) ([]model.Comment, error) {
	return a.comments.CommentsForPost(ctx, postID)
}

func (a *App) CommentTree(ctx context.Context, postID string) ([]model.CommentNode, error) {
	comments, err := a.comments.CommentsForPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	return feed.BuildTree(comments), nil
}

// Vote applies one vote by the account behind token.
func (a *App) Vote(ctx context.Context, token string, ref model.ItemRef, dir model.Direction) (model.Score, error) {
	id, err := a.auth.Resolve(ctx, token)
	if err != nil {
		return model.Score{}, err
	}
	if ref.ID == "" {
		return model.Score{}, errs.Reason("app.Vote", errs.NotFound, "no item id")
	}
	return a.votes.Cast(ctx, id.Account.ID, ref, dir)
}

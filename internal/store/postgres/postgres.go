// Package postgres provides a Store and ledger backend in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
)

// SQLSTATE codes.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

var _ store.Store = (*Postgres)(nil)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// CreateSchema creates any missing tables and indexes.
func (pg *Postgres) CreateSchema(ctx context.Context) error {
	models := []any{
		(*account)(nil),
		(*session)(nil),
		(*accountKey)(nil),
		(*challenge)(nil),
		(*post)(nil),
		(*comment)(nil),
		(*vote)(nil),
		(*score)(nil),
	}
	return pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, m := range models {
			if _, err := tx.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("create table %T: %w", m, err)
			}
		}
		indexes := []*bun.CreateIndexQuery{
			tx.NewCreateIndex().Model((*post)(nil)).Index("posts_sub_created_at_idx").Column("sub", "created_at"),
			tx.NewCreateIndex().Model((*post)(nil)).Index("posts_created_at_idx").Column("created_at"),
			tx.NewCreateIndex().Model((*comment)(nil)).Index("comments_post_id_seq_idx").Column("post_id", "seq"),
			tx.NewCreateIndex().Model((*session)(nil)).Index("sessions_expires_at_idx").Column("expires_at"),
		}
		for _, q := range indexes {
			if _, err := q.IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("create index: %w", err)
			}
		}
		return nil
	})
}

func (pg *Postgres) CreatePost(ctx context.Context, p *model.Post) error {
	if _, err := pg.bun.NewInsert().Model(newPost(p)).Exec(ctx); err != nil {
		return fmt.Errorf("insert post: %w", classify(err))
	}
	return nil
}

func (pg *Postgres) GetPost(ctx context.Context, id string) (model.Post, error) {
	var p post
	err := pg.bun.NewSelect().
		Model(&p).
		Relation("Author").
		Where("post.id = ?", id).
		Scan(ctx)
	if err != nil {
		return model.Post{}, notFound(err, "select post")
	}
	return p.ModelPost(), nil
}

// ListPosts returns posts newest first, optionally restricted to one sub.
func (pg *Postgres) ListPosts(ctx context.Context, opts store.PostListOpts) ([]model.Post, error) {
	var posts []post
	q := pg.bun.NewSelect().
		Model(&posts).
		Relation("Author").
		Order("post.created_at DESC", "post.id")
	if opts.Sub != "" {
		q = q.Where("post.sub = ?", opts.Sub)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", classify(err))
	}
	out := make([]model.Post, len(posts))
	for i, p := range posts {
		out[i] = p.ModelPost()
	}
	return out, nil
}

func (pg *Postgres) CreateComment(ctx context.Context, c *model.Comment) error {
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*post)(nil)).
			Set("comment_count = comment_count + 1").
			Where("id = ?", c.PostID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		_, err = tx.NewInsert().Model(newComment(c)).Exec(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("insert comment: %w", classify(err))
	}
	return nil
}

func (pg *Postgres) GetComment(ctx context.Context, id string) (model.Comment, error) {
	var c comment
	err := pg.bun.NewSelect().
		Model(&c).
		Relation("Author").
		Where("comment.id = ?", id).
		Scan(ctx)
	if err != nil {
		return model.Comment{}, notFound(err, "select comment")
	}
	return c.ModelComment(), nil
}

func (pg *Postgres) ListCommentsByPost(ctx context.Context, postID string) ([]model.Comment, error) {
	var comments []comment
	err := pg.bun.NewSelect().
		Model(&comments).
		Relation("Author").
		Where("comment.post_id = ?", postID).
		Order("comment.seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", classify(err))
	}
	out := make([]model.Comment, len(comments))
	for i, c := range comments {
		out[i] = c.ModelComment()
	}
	return out, nil
}

func (pg *Postgres) CreateAccount(ctx context.Context, a *model.Account) error {
	row := &account{ID: a.ID, Username: a.Username, PasswordHash: a.PasswordHash, CreatedAt: a.CreatedAt}
	if _, err := pg.bun.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateName
		}
		return fmt.Errorf("insert account: %w", classify(err))
	}
	return nil
}

func (pg *Postgres) GetAccount(ctx context.Context, id string) (model.Account, error) {
	var a account
	if err := pg.bun.NewSelect().Model(&a).Where("id = ?", id).Scan(ctx); err != nil {
		return model.Account{}, notFound(err, "select account")
	}
	return a.ModelAccount(), nil
}

func (pg *Postgres) GetAccountByName(ctx context.Context, username string) (model.Account, error) {
	var a account
	if err := pg.bun.NewSelect().Model(&a).Where("username = ?", username).Scan(ctx); err != nil {
		return model.Account{}, notFound(err, "select account")
	}
	return a.ModelAccount(), nil
}

func (pg *Postgres) CreateSession(ctx context.Context, s model.Session) error {
	row := &session{Token: s.Token, AccountID: s.AccountID, CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt}
	if _, err := pg.bun.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("insert session: %w", classify(err))
	}
	return nil
}

func (pg *Postgres) GetSession(ctx context.Context, token string) (model.Session, error) {
	var s session
	if err := pg.bun.NewSelect().Model(&s).Where("token = ?", token).Scan(ctx); err != nil {
		return model.Session{}, notFound(err, "select session")
	}
	return s.ModelSession(), nil
}

func (pg *Postgres) DeleteSession(ctx context.Context, token string) error {
	if _, err := pg.bun.NewDelete().Model((*session)(nil)).Where("token = ?", token).Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", classify(err))
	}
	return nil
}

func (pg *Postgres) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := pg.bun.NewDelete().Model((*session)(nil)).Where("expires_at <= ?", now).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", classify(err))
	}
	return res.RowsAffected()
}

func (pg *Postgres) AddAccountKey(ctx context.Context, k *model.AccountKey) error {
	row := &accountKey{ID: k.ID, AccountID: k.AccountID, Alg: k.Alg, PublicKey: k.PublicKey, CreatedAt: k.CreatedAt}
	if _, err := pg.bun.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert key: %w", classify(err))
	}
	return nil
}

func (pg *Postgres) FindAccountKey(ctx context.Context, alg, publicKey string) (model.AccountKey, error) {
	var k accountKey
	err := pg.bun.NewSelect().
		Model(&k).
		Where("alg = ?", alg).
		Where("public_key = ?", publicKey).
		Scan(ctx)
	if err != nil {
		return model.AccountKey{}, notFound(err, "select key")
	}
	return k.ModelKey(), nil
}

func (pg *Postgres) CreateChallenge(ctx context.Context, c model.Challenge) error {
	row := &challenge{Challenge: c.Challenge, Alg: c.Alg, ExpiresAt: c.ExpiresAt}
	if _, err := pg.bun.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("insert challenge: %w", classify(err))
	}
	return nil
}

func (pg *Postgres) ConsumeChallenge(ctx context.Context, value string) (model.Challenge, error) {
	var c challenge
	err := pg.bun.NewDelete().
		Model(&c).
		Where("challenge = ?", value).
		Returning("*").
		Scan(ctx)
	if err != nil {
		return model.Challenge{}, notFound(err, "delete challenge")
	}
	return model.Challenge{Challenge: c.Challenge, Alg: c.Alg, ExpiresAt: c.ExpiresAt}, nil
}

func (pg *Postgres) CreateVote(ctx context.Context, v *model.Vote) error {
	row := &vote{
		Kind:      string(v.Item.Kind),
		ItemID:    v.Item.ID,
		AccountID: v.AccountID,
		Direction: int(v.Direction),
		CreatedAt: v.CreatedAt,
	}
	if _, err := pg.bun.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateVote
		}
		return fmt.Errorf("insert vote: %w", classify(err))
	}
	return nil
}

func (pg *Postgres) DeleteVote(ctx context.Context, item model.ItemRef, accountID string) error {
	_, err := pg.bun.NewDelete().
		Model((*vote)(nil)).
		Where("kind = ?", string(item.Kind)).
		Where("item_id = ?", item.ID).
		Where("account_id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete vote: %w", classify(err))
	}
	return nil
}

func (pg *Postgres) CreateScore(ctx context.Context, ref model.ItemRef) error {
	row := &score{Kind: string(ref.Kind), ItemID: ref.ID}
	_, err := pg.bun.NewInsert().
		Model(row).
		On("CONFLICT (kind, item_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert score: %w", classify(err))
	}
	return nil
}

// IncrementScore bumps one counter in a single UPDATE, so the row lock makes
// concurrent increments on the same item serialise.
func (pg *Postgres) IncrementScore(ctx context.Context, ref model.ItemRef, dir model.Direction) (model.Score, error) {
	column := "upvotes"
	if dir == model.Down {
		column = "downvotes"
	}
	var s score
	err := pg.bun.NewUpdate().
		Model(&s).
		Set("? = ? + 1", bun.Ident(column), bun.Ident(column)).
		Where("kind = ?", string(ref.Kind)).
		Where("item_id = ?", ref.ID).
		Returning("upvotes, downvotes").
		Scan(ctx, &s.Upvotes, &s.Downvotes)
	if err != nil {
		return model.Score{}, notFound(err, "increment score")
	}
	return s.ModelScore(), nil
}

func (pg *Postgres) GetScore(ctx context.Context, ref model.ItemRef) (model.Score, error) {
	var s score
	err := pg.bun.NewSelect().
		Model(&s).
		Where("kind = ?", string(ref.Kind)).
		Where("item_id = ?", ref.ID).
		Scan(ctx)
	if err != nil {
		return model.Score{}, notFound(err, "select score")
	}
	return s.ModelScore(), nil
}

func (pg *Postgres) GetScores(ctx context.Context, kind model.Kind, ids []string) (map[string]model.Score, error) {
	out := make(map[string]model.Score, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []score
	err := pg.bun.NewSelect().
		Model(&rows).
		Where("kind = ?", string(kind)).
		Where("item_id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", classify(err))
	}
	for _, r := range rows {
		out[r.ItemID] = r.ModelScore()
	}
	return out, nil
}

func (pg *Postgres) DeleteScore(ctx context.Context, ref model.ItemRef) error {
	_, err := pg.bun.NewDelete().
		Model((*score)(nil)).
		Where("kind = ?", string(ref.Kind)).
		Where("item_id = ?", ref.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete score: %w", classify(err))
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, classify(err))
}

func sqlState(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return sqlState(err) == codeUniqueViolation
}

// classify marks failures where Postgres rolled the statement back, or where
// the connection was never established, as store.ErrTransient.
func classify(err error) error {
	switch sqlState(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	return err
}

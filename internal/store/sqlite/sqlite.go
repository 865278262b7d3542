// Package sqlite is the single-node Store and ledger backend on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"

	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
)

// SQLite result codes that mean the statement did not run.
const (
	codeBusy   = 5
	codeLocked = 6
)

// scoreBatch caps the number of ids bound into one IN clause.
const scoreBatch = 500

var _ store.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// PRAGMAs and in-memory databases are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: Initial schema
	`
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash BLOB,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	FOREIGN KEY(account_id) REFERENCES accounts(id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

CREATE TABLE IF NOT EXISTS account_keys (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	alg TEXT NOT NULL,
	public_key TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(account_id) REFERENCES accounts(id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_account_keys_unique ON account_keys(alg, public_key);

CREATE TABLE IF NOT EXISTS auth_challenges (
	challenge TEXT PRIMARY KEY,
	alg TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	id TEXT PRIMARY KEY,
	author_id TEXT NOT NULL,
	sub TEXT NOT NULL,
	title TEXT NOT NULL,
	url TEXT,
	content TEXT,
	comment_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_posts_sub_created_at ON posts(sub, created_at DESC);

CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	post_id TEXT NOT NULL,
	parent_id TEXT,
	author_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	FOREIGN KEY(post_id) REFERENCES posts(id)
);
CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments(post_id, seq);

CREATE TABLE IF NOT EXISTS votes (
	kind TEXT NOT NULL,
	item_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	direction INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (kind, item_id, account_id)
);

CREATE TABLE IF NOT EXISTS scores (
	kind TEXT NOT NULL,
	item_id TEXT NOT NULL,
	upvotes INTEGER NOT NULL DEFAULT 0,
	downvotes INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (kind, item_id)
);
`,
	// Future migrations go here:
	// Migration 2: `ALTER TABLE ...`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

const postColumns = `p.id, p.author_id, a.username, p.sub, p.title, p.url, p.content, p.comment_count, p.created_at`

func (s *Store) CreatePost(ctx context.Context, post *model.Post) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO posts (id, author_id, sub, title, url, content, comment_count, created_at)
VALUES (?, ?, ?, ?, ?, ?, 0, ?)
`, post.ID, post.AuthorID, post.Sub, post.Title, nullIfEmpty(post.URL), nullIfEmpty(post.Content), post.CreatedAt.UnixNano())
	return classify(err)
}

func (s *Store) GetPost(ctx context.Context, id string) (model.Post, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+postColumns+`
FROM posts p
LEFT JOIN accounts a ON a.id = p.author_id
WHERE p.id = ?
`, id)
	p, err := scanPost(row)
	return p, classify(err)
}

func (s *Store) ListPosts(ctx context.Context, opts store.PostListOpts) ([]model.Post, error) {
	query := `
SELECT ` + postColumns + `
FROM posts p
LEFT JOIN accounts a ON a.id = p.author_id`
	var args []any
	if opts.Sub != "" {
		query += ` WHERE p.sub = ?`
		args = append(args, opts.Sub)
	}
	query += ` ORDER BY p.created_at DESC, p.id`
	switch {
	case opts.Limit > 0:
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	case opts.Offset > 0:
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	posts := make([]model.Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *Store) CreateComment(ctx context.Context, comment *model.Comment) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE posts SET comment_count = comment_count + 1 WHERE id = ?`, comment.PostID)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO comments (id, post_id, parent_id, author_id, content, created_at, seq)
VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM comments WHERE post_id = ?))
`, comment.ID, comment.PostID, nullableString(comment.ParentID), comment.AuthorID, comment.Content, comment.CreatedAt.UnixNano(), comment.PostID)
	if err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

const commentColumns = `c.id, c.post_id, c.parent_id, c.author_id, a.username, c.content, c.created_at`

func (s *Store) GetComment(ctx context.Context, id string) (model.Comment, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+commentColumns+`
FROM comments c
LEFT JOIN accounts a ON a.id = c.author_id
WHERE c.id = ?
`, id)
	c, err := scanComment(row)
	return c, classify(err)
}

func (s *Store) ListCommentsByPost(ctx context.Context, postID string) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+commentColumns+`
FROM comments c
LEFT JOIN accounts a ON a.id = c.author_id
WHERE c.post_id = ?
ORDER BY c.seq ASC
`, postID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	comments := make([]model.Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *Store) CreateAccount(ctx context.Context, account *model.Account) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO accounts (id, username, password_hash, created_at)
VALUES (?, ?, ?, ?)
`, account.ID, account.Username, account.PasswordHash, account.CreatedAt.UnixNano())
	if isUniqueViolation(err) {
		return store.ErrDuplicateName
	}
	return classify(err)
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, username, password_hash, created_at FROM accounts WHERE id = ?
`, id)
	a, err := scanAccount(row)
	return a, classify(err)
}

func (s *Store) GetAccountByName(ctx context.Context, username string) (model.Account, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, username, password_hash, created_at FROM accounts WHERE username = ?
`, username)
	a, err := scanAccount(row)
	return a, classify(err)
}

func (s *Store) CreateSession(ctx context.Context, session model.Session) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (token, account_id, created_at, expires_at)
VALUES (?, ?, ?, ?)
`, session.Token, session.AccountID, session.CreatedAt.UnixNano(), session.ExpiresAt.UnixNano())
	return classify(err)
}

func (s *Store) GetSession(ctx context.Context, token string) (model.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT token, account_id, created_at, expires_at FROM sessions WHERE token = ?
`, token)
	var sess model.Session
	var created, expires int64
	if err := row.Scan(&sess.Token, &sess.AccountID, &created, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, store.ErrNotFound
		}
		return model.Session{}, classify(err)
	}
	sess.CreatedAt = time.Unix(0, created)
	sess.ExpiresAt = time.Unix(0, expires)
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return classify(err)
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}

func (s *Store) AddAccountKey(ctx context.Context, key *model.AccountKey) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO account_keys (id, account_id, alg, public_key, created_at)
VALUES (?, ?, ?, ?, ?)
`, key.ID, key.AccountID, key.Alg, key.PublicKey, key.CreatedAt.UnixNano())
	if isUniqueViolation(err) {
		return store.ErrDuplicateKey
	}
	return classify(err)
}

func (s *Store) FindAccountKey(ctx context.Context, alg, publicKey string) (model.AccountKey, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, account_id, alg, public_key, created_at
FROM account_keys
WHERE alg = ? AND public_key = ?
`, alg, publicKey)
	var k model.AccountKey
	var created int64
	if err := row.Scan(&k.ID, &k.AccountID, &k.Alg, &k.PublicKey, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AccountKey{}, store.ErrNotFound
		}
		return model.AccountKey{}, classify(err)
	}
	k.CreatedAt = time.Unix(0, created)
	return k, nil
}

func (s *Store) CreateChallenge(ctx context.Context, c model.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO auth_challenges (challenge, alg, expires_at, created_at)
VALUES (?, ?, ?, ?)
`, c.Challenge, c.Alg, c.ExpiresAt.UnixNano(), time.Now().UnixNano())
	return classify(err)
}

func (s *Store) ConsumeChallenge(ctx context.Context, challenge string) (model.Challenge, error) {
	row := s.db.QueryRowContext(ctx, `
DELETE FROM auth_challenges
WHERE challenge = ?
RETURNING challenge, alg, expires_at
`, challenge)
	var c model.Challenge
	var expires int64
	if err := row.Scan(&c.Challenge, &c.Alg, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Challenge{}, store.ErrNotFound
		}
		return model.Challenge{}, classify(err)
	}
	c.ExpiresAt = time.Unix(0, expires)
	return c, nil
}

func (s *Store) CreateVote(ctx context.Context, vote *model.Vote) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO votes (kind, item_id, account_id, direction, created_at)
VALUES (?, ?, ?, ?, ?)
`, string(vote.Item.Kind), vote.Item.ID, vote.AccountID, int(vote.Direction), vote.CreatedAt.UnixNano())
	if isUniqueViolation(err) {
		return store.ErrDuplicateVote
	}
	return classify(err)
}

func (s *Store) DeleteVote(ctx context.Context, item model.ItemRef, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM votes WHERE kind = ? AND item_id = ? AND account_id = ?
`, string(item.Kind), item.ID, accountID)
	return classify(err)
}

// Ledger backend. Scores live in their own table so the counters are only
// ever touched by the statements below.

func (s *Store) CreateScore(ctx context.Context, ref model.ItemRef) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scores (kind, item_id, upvotes, downvotes) VALUES (?, ?, 0, 0)
ON CONFLICT (kind, item_id) DO NOTHING
`, string(ref.Kind), ref.ID)
	return classify(err)
}

func (s *Store) IncrementScore(ctx context.Context, ref model.ItemRef, dir model.Direction) (model.Score, error) {
	column := "upvotes"
	if dir == model.Down {
		column = "downvotes"
	}
	row := s.db.QueryRowContext(ctx, `
UPDATE scores SET `+column+` = `+column+` + 1
WHERE kind = ? AND item_id = ?
RETURNING upvotes, downvotes
`, string(ref.Kind), ref.ID)
	var score model.Score
	if err := row.Scan(&score.Upvotes, &score.Downvotes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Score{}, store.ErrNotFound
		}
		return model.Score{}, classify(err)
	}
	return score, nil
}

func (s *Store) GetScore(ctx context.Context, ref model.ItemRef) (model.Score, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT upvotes, downvotes FROM scores WHERE kind = ? AND item_id = ?
`, string(ref.Kind), ref.ID)
	var score model.Score
	if err := row.Scan(&score.Upvotes, &score.Downvotes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Score{}, store.ErrNotFound
		}
		return model.Score{}, classify(err)
	}
	return score, nil
}

func (s *Store) GetScores(ctx context.Context, kind model.Kind, ids []string) (map[string]model.Score, error) {
	out := make(map[string]model.Score, len(ids))
	for start := 0; start < len(ids); start += scoreBatch {
		end := min(start+scoreBatch, len(ids))
		if err := s.loadScores(ctx, kind, ids[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadScores(ctx context.Context, kind model.Kind, ids []string, out map[string]model.Score) error {
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(kind))
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx, `
SELECT item_id, upvotes, downvotes FROM scores
WHERE kind = ? AND item_id IN (`+placeholders+`)
`, args...)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var score model.Score
		if err := rows.Scan(&id, &score.Upvotes, &score.Downvotes); err != nil {
			return err
		}
		out[id] = score
	}
	return rows.Err()
}

func (s *Store) DeleteScore(ctx context.Context, ref model.ItemRef) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scores WHERE kind = ? AND item_id = ?`, string(ref.Kind), ref.ID)
	return classify(err)
}

type scanner interface{ Scan(dest ...any) error }

func scanPost(row scanner) (model.Post, error) {
	var p model.Post
	var author, url, content sql.NullString
	var created int64
	if err := row.Scan(&p.ID, &p.AuthorID, &author, &p.Sub, &p.Title, &url, &content, &p.CommentCount, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Post{}, store.ErrNotFound
		}
		return model.Post{}, err
	}
	p.AuthorName = author.String
	p.URL = url.String
	p.Content = content.String
	p.CreatedAt = time.Unix(0, created)
	return p, nil
}

func scanComment(row scanner) (model.Comment, error) {
	var c model.Comment
	var parent, author sql.NullString
	var created int64
	if err := row.Scan(&c.ID, &c.PostID, &parent, &c.AuthorID, &author, &c.Content, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Comment{}, store.ErrNotFound
		}
		return model.Comment{}, err
	}
	if parent.Valid {
		id := parent.String
		c.ParentID = &id
	}
	c.AuthorName = author.String
	c.CreatedAt = time.Unix(0, created)
	return c, nil
}

func scanAccount(row scanner) (model.Account, error) {
	var a model.Account
	var created int64
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, store.ErrNotFound
		}
		return model.Account{}, err
	}
	a.CreatedAt = time.Unix(0, created)
	return a, nil
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

// classify turns lock contention into store.ErrTransient. A busy or locked
// statement was rejected before it changed anything.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case codeBusy, codeLocked:
			return fmt.Errorf("%w: %v", store.ErrTransient, err)
		}
	}
	return err
}

package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/alphabot-ai/tiredd/internal/model"
)

type account struct {
	bun.BaseModel `bun:"table:accounts,alias:account"`

	ID           string    `bun:",pk,type:uuid"`
	Username     string    `bun:",notnull,unique"`
	PasswordHash []byte    `bun:",type:bytea"`
	CreatedAt    time.Time `bun:",notnull"`
}

type session struct {
	bun.BaseModel `bun:"table:sessions,alias:session"`

	Token     string    `bun:",pk"`
	AccountID string    `bun:",notnull,type:uuid"`
	CreatedAt time.Time `bun:",notnull"`
	ExpiresAt time.Time `bun:",notnull"`
}

type accountKey struct {
	bun.BaseModel `bun:"table:account_keys,alias:account_key"`

	ID        string    `bun:",pk,type:uuid"`
	AccountID string    `bun:",notnull,type:uuid"`
	Alg       string    `bun:",notnull,unique:alg_public_key"`
	PublicKey string    `bun:",notnull,unique:alg_public_key"`
	CreatedAt time.Time `bun:",notnull"`
}

type challenge struct {
	bun.BaseModel `bun:"table:auth_challenges,alias:challenge"`

	Challenge string    `bun:",pk"`
	Alg       string    `bun:",notnull"`
	ExpiresAt time.Time `bun:",notnull"`
}

// A post represents a post in the database. Its score lives in the scores
// table and is joined in by the feed.
type post struct {
	bun.BaseModel `bun:"table:posts,alias:post"`

	ID           string    `bun:",pk,type:uuid"`
	AuthorID     string    `bun:",notnull,type:uuid"`
	Sub          string    `bun:",notnull"`
	Title        string    `bun:",notnull"`
	URL          string    `bun:"url,nullzero"`
	Content      string    `bun:",nullzero"`
	CommentCount int       `bun:",notnull,default:0"`
	CreatedAt    time.Time `bun:",notnull"`
	Author       *account  `bun:"rel:belongs-to,join:author_id=id"`
}

type comment struct {
	bun.BaseModel `bun:"table:comments,alias:comment"`

	ID        string    `bun:",pk,type:uuid"`
	PostID    string    `bun:",notnull,type:uuid"`
	ParentID  *string   `bun:",type:uuid"`
	AuthorID  string    `bun:",notnull,type:uuid"`
	Content   string    `bun:",notnull"`
	CreatedAt time.Time `bun:",notnull"`
	Seq       int64     `bun:",type:bigserial,nullzero"`
	Author    *account  `bun:"rel:belongs-to,join:author_id=id"`
}

type vote struct {
	bun.BaseModel `bun:"table:votes,alias:vote"`

	Kind      string    `bun:",pk"`
	ItemID    string    `bun:",pk"`
	AccountID string    `bun:",pk"`
	Direction int       `bun:",notnull"`
	CreatedAt time.Time `bun:",notnull"`
}

type score struct {
	bun.BaseModel `bun:"table:scores,alias:score"`

	Kind      string `bun:",pk"`
	ItemID    string `bun:",pk"`
	Upvotes   int64  `bun:",notnull,default:0"`
	Downvotes int64  `bun:",notnull,default:0"`
}

func newPost(p *model.Post) *post {
	return &post{
		ID:        p.ID,
		AuthorID:  p.AuthorID,
		Sub:       p.Sub,
		Title:     p.Title,
		URL:       p.URL,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
	}
}

func (p post) ModelPost() model.Post {
	out := model.Post{
		ID:           p.ID,
		AuthorID:     p.AuthorID,
		Sub:          p.Sub,
		Title:        p.Title,
		URL:          p.URL,
		Content:      p.Content,
		CommentCount: p.CommentCount,
		CreatedAt:    p.CreatedAt,
	}
	if p.Author != nil {
		out.AuthorName = p.Author.Username
	}
	return out
}

func newComment(c *model.Comment) *comment {
	return &comment{
		ID:        c.ID,
		PostID:    c.PostID,
		ParentID:  c.ParentID,
		AuthorID:  c.AuthorID,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	}
}

func (c comment) ModelComment() model.Comment {
	out := model.Comment{
		ID:        c.ID,
		PostID:    c.PostID,
		ParentID:  c.ParentID,
		AuthorID:  c.AuthorID,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	}
	if c.Author != nil {
		out.AuthorName = c.Author.Username
	}
	return out
}

func (a account) ModelAccount() model.Account {
	return model.Account{ID: a.ID, Username: a.Username, PasswordHash: a.PasswordHash, CreatedAt: a.CreatedAt}
}

func (s session) ModelSession() model.Session {
	return model.Session{Token: s.Token, AccountID: s.AccountID, CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt}
}

func (k accountKey) ModelKey() model.AccountKey {
	return model.AccountKey{ID: k.ID, AccountID: k.AccountID, Alg: k.Alg, PublicKey: k.PublicKey, CreatedAt: k.CreatedAt}
}

func (s score) ModelScore() model.Score {
	return model.Score{Upvotes: s.Upvotes, Downvotes: s.Downvotes}
}

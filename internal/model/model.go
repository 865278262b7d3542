package model

import "time"

// Kind identifies which table a votable item lives in.
type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
)

func (k Kind) Valid() bool {
	return k == KindPost || k == KindComment
}

// Direction of a vote.
type Direction int

const (
	Up   Direction = 1
	Down Direction = -1
)

func (d Direction) Valid() bool {
	return d == Up || d == Down
}

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "invalid"
}

// ItemRef points at the score entry of a post or comment.
type ItemRef struct {
	Kind Kind
	ID   string
}

// Score is the counter pair held by the ledger for one item.
type Score struct {
	Upvotes   int64
	Downvotes int64
}

// Value is the signed score. It is always derived, never stored.
func (s Score) Value() int64 {
	return s.Upvotes - s.Downvotes
}

type Account struct {
	ID           string
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

type Session struct {
	Token     string
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type Post struct {
	ID           string
	AuthorID     string
	AuthorName   string
	Sub          string
	Title        string
	URL          string
	Content      string
	CreatedAt    time.Time
	CommentCount int
	Score        Score
}

func (p Post) Ref() ItemRef {
	return ItemRef{Kind: KindPost, ID: p.ID}
}

type Comment struct {
	ID         string
	PostID     string
	ParentID   *string
	AuthorID   string
	AuthorName string
	Content    string
	CreatedAt  time.Time
	Score      Score
	// Orphan is set on read when ParentID names a comment that is not part
	// of the post's thread. Such comments are presented as top level.
	Orphan bool
}

func (c Comment) Ref() ItemRef {
	return ItemRef{Kind: KindComment, ID: c.ID}
}

// TopLevel reports whether the comment should be rendered as a thread root.
func (c Comment) TopLevel() bool {
	return c.ParentID == nil || c.Orphan
}

type CommentNode struct {
	Comment  Comment
	Children []CommentNode
}

// Vote records that an account voted on an item.
type Vote struct {
	Item      ItemRef
	AccountID string
	Direction Direction
	CreatedAt time.Time
}

type AccountKey struct {
	ID        string
	AccountID string
	Alg       string
	PublicKey string
	CreatedAt time.Time
}

type Challenge struct {
	Challenge string
	Alg       string
	ExpiresAt time.Time
}

package httpapp

import (
	"time"

	"github.com/alphabot-ai/tiredd/internal/model"
)

// Wire shapes. Scores are flattened so clients never compute them.

type errorView struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

type SessionView struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Expires   time.Time `json:"expires"`
}

type AccountView struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Created  time.Time `json:"created"`
}

type ScoreView struct {
	Upvotes   int64 `json:"upvotes"`
	Downvotes int64 `json:"downvotes"`
	Score     int64 `json:"score"`
}

type PostView struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	Sub          string    `json:"sub"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Content      string    `json:"content"`
	Created      time.Time `json:"created"`
	CommentCount int       `json:"commentCount"`
	ScoreView
}

type CommentView struct {
	ID       string    `json:"id"`
	PostID   string    `json:"postId"`
	Parent   *string   `json:"parent"`
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	Content  string    `json:"content"`
	Created  time.Time `json:"created"`
	Orphan   bool      `json:"orphan,omitempty"`
	ScoreView
}

type CommentNodeView struct {
	CommentView
	Children []CommentNodeView `json:"children"`
}

type KeyView struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Alg       string    `json:"alg"`
	PublicKey string    `json:"publicKey"`
	Created   time.Time `json:"created"`
}

type ChallengeView struct {
	Challenge string    `json:"challenge"`
	Alg       string    `json:"alg"`
	Expires   time.Time `json:"expires"`
}

func sessionView(s model.Session) SessionView {
	return SessionView{ID: s.Token, AccountID: s.AccountID, Expires: s.ExpiresAt}
}

func accountView(a model.Account) AccountView {
	return AccountView{ID: a.ID, Username: a.Username, Created: a.CreatedAt}
}

func scoreView(s model.Score) ScoreView {
	return ScoreView{Upvotes: s.Upvotes, Downvotes: s.Downvotes, Score: s.Value()}
}

func postView(p model.Post) PostView {
	return PostView{
		ID:           p.ID,
		UserID:       p.AuthorID,
		UserName:     p.AuthorName,
		Sub:          p.Sub,
		Title:        p.Title,
		URL:          p.URL,
		Content:      p.Content,
		Created:      p.CreatedAt,
		CommentCount: p.CommentCount,
		ScoreView:    scoreView(p.Score),
	}
}

func postViews(posts []model.Post) []PostView {
	out := make([]PostView, 0, len(posts))
	for _, p := range posts {
		out = append(out, postView(p))
	}
	return out
}

func commentView(c model.Comment) CommentView {
	return CommentView{
		ID:        c.ID,
		PostID:    c.PostID,
		Parent:    c.ParentID,
		UserID:    c.AuthorID,
		UserName:  c.AuthorName,
		Content:   c.Content,
		Created:   c.CreatedAt,
		Orphan:    c.Orphan,
		ScoreView: scoreView(c.Score),
	}
}

func commentViews(comments []model.Comment) []CommentView {
	out := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		out = append(out, commentView(c))
	}
	return out
}

func treeView(nodes []model.CommentNode) []CommentNodeView {
	out := make([]CommentNodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, CommentNodeView{CommentView: commentView(n.Comment), Children: treeView(n.Children)})
	}
	return out
}

func keyView(k model.AccountKey) KeyView {
	return KeyView{ID: k.ID, AccountID: k.AccountID, Alg: k.Alg, PublicKey: k.PublicKey, Created: k.CreatedAt}
}

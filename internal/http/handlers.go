package httpapp

import (
	"net/http"
	"strings"

	"github.com/alphabot-ai/tiredd/internal/content"
	"github.com/alphabot-ai/tiredd/internal/feed"
	"github.com/alphabot-ai/tiredd/internal/model"
)

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "login", s.cfg.RateLimits.LoginPerMinute) {
		return
	}
	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	sess, account, err := s.app.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": sessionView(sess),
		"account": accountView(account),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.app.Logout(r.Context(), sessionToken(r, req.SessionID)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleReadSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.app.ResolveSession(r.Context(), sessionToken(r, req.SessionID))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": sessionView(id.Session),
		"account": accountView(id.Account),
	})
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "post", s.cfg.RateLimits.PostPerMinute) {
		return
	}
	var req struct {
		Post struct {
			Sub     string `json:"sub"`
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"post"`
		SessionID string `json:"sessionId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	post, err := s.app.SubmitPost(r.Context(), sessionToken(r, req.SessionID), content.NewPost{
		Sub:     strings.TrimSpace(req.Post.Sub),
		Title:   strings.TrimSpace(req.Post.Title),
		URL:     strings.TrimSpace(req.Post.URL),
		Content: req.Post.Content,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": postView(post)})
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sub   string `json:"sub"`
		Mode  string `json:"mode" validate:"omitempty,oneof=hot new"`
		Min   *int64 `json:"min"`
		Max   *int64 `json:"max"`
		Order string `json:"order" validate:"omitempty,oneof=score created"`
		Limit int    `json:"limit" validate:"gte=0"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	var q feed.Query
	switch req.Mode {
	case "hot":
		q = feed.Hot(req.Sub)
	case "new":
		q = feed.New(req.Sub)
	default:
		q = feed.Query{Sub: req.Sub, Min: req.Min, Max: req.Max, Order: feed.Order(req.Order)}
		// The browser client sends max 0 for "no upper bound".
		if q.Max != nil && *q.Max <= 0 {
			q.Max = nil
		}
		if q.Order == "" && q.Max == nil && q.Min != nil && *q.Min >= feed.HotThreshold {
			q.Order = feed.OrderScore
		}
	}
	q.Limit = req.Limit

	posts, err := s.app.ListPosts(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": postViews(posts)})
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	post, err := s.app.GetPost(r.Context(), strings.TrimSpace(req.ID))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": postView(post)})
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "comment", s.cfg.RateLimits.CommentPerMinute) {
		return
	}
	var req struct {
		Comment struct {
			PostID  string  `json:"postId"`
			Parent  *string `json:"parent"`
			Content string  `json:"content"`
		} `json:"comment"`
		SessionID string `json:"sessionId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	comment, err := s.app.SubmitComment(r.Context(), sessionToken(r, req.SessionID), content.NewComment{
		PostID:   strings.TrimSpace(req.Comment.PostID),
		ParentID: req.Comment.Parent,
		Content:  req.Comment.Content,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comment": commentView(comment)})
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PostID string `json:"postId" validate:"required"`
		Tree   bool   `json:"tree"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Tree {
		tree, err := s.app.CommentTree(r.Context(), req.PostID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tree": treeView(tree)})
		return
	}
	comments, err := s.app.ListComments(r.Context(), req.PostID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": commentViews(comments)})
}

func (s *Server) voteHandler(kind model.Kind, dir model.Direction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allowRateLimit(w, r, "vote", s.cfg.RateLimits.VotePerMinute) {
			return
		}
		var req struct {
			ID        string `json:"id"`
			SessionID string `json:"sessionId"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		ref := model.ItemRef{Kind: kind, ID: strings.TrimSpace(req.ID)}
		score, err := s.app.Vote(r.Context(), sessionToken(r, req.SessionID), ref, dir)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"score": scoreView(score)})
	}
}

func (s *Server) handleAuthChallenge(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "login", s.cfg.RateLimits.LoginPerMinute) {
		return
	}
	var req struct {
		Alg string `json:"alg" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	ch, err := s.app.CreateChallenge(r.Context(), strings.TrimSpace(req.Alg))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChallengeView{Challenge: ch.Challenge, Alg: ch.Alg, Expires: ch.ExpiresAt})
}

type signedChallenge struct {
	Alg       string `json:"alg" validate:"required"`
	PublicKey string `json:"publicKey" validate:"required"`
	Challenge string `json:"challenge" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

func (s *Server) handleAddKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		signedChallenge
		SessionID string `json:"sessionId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	key, err := s.app.AddKey(r.Context(), sessionToken(r, req.SessionID),
		strings.TrimSpace(req.Alg), strings.TrimSpace(req.PublicKey),
		strings.TrimSpace(req.Challenge), strings.TrimSpace(req.Signature))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": keyView(key)})
}

func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "login", s.cfg.RateLimits.LoginPerMinute) {
		return
	}
	var req signedChallenge
	if !s.decode(w, r, &req) {
		return
	}
	sess, account, err := s.app.LoginWithKey(r.Context(),
		strings.TrimSpace(req.Alg), strings.TrimSpace(req.PublicKey),
		strings.TrimSpace(req.Challenge), strings.TrimSpace(req.Signature))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": sessionView(sess),
		"account": accountView(account),
	})
}

// Package content creates and reads posts and comments. Every item it creates
// gets its zeroed ledger entry before the item itself becomes visible.
package content

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alphabot-ai/tiredd/internal/errs"
	"github.com/alphabot-ai/tiredd/internal/ledger"
	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
)

// AllSubs is the sub filter value meaning every sub-community. It cannot be
// used as a sub name.
const AllSubs = "all"

var createdTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tiredd_content_created_total",
	Help: "Posts and comments created",
}, []string{"kind"})

type NewPost struct {
	Sub     string `validate:"required,max=50,ne=all"`
	Title   string `validate:"max=200"`
	URL     string `validate:"omitempty,max=200,url"`
	Content string `validate:"max=3000"`
}

type NewComment struct {
	PostID string `validate:"required"`
	// ParentID is nil for a top level comment.
	ParentID *string
	Content  string `validate:"required,max=3000"`
}

type Service struct {
	store    store.ContentStore
	ledger   *ledger.Ledger
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(st store.ContentStore, l *ledger.Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		ledger:   l,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "content"),
		now:      time.Now,
	}
}

func (s *Service) CreatePost(ctx context.Context, author model.Account, in NewPost) (model.Post, error) {
	const op = "content.CreatePost"
	in.Sub = strings.TrimSpace(in.Sub)
	in.Title = strings.TrimSpace(in.Title)
	in.URL = strings.TrimSpace(in.URL)
	if err := s.checkPost(in); err != nil {
		return model.Post{}, errs.E(op, errs.InvalidContent, err)
	}

	post := model.Post{
		ID:         uuid.NewString(),
		AuthorID:   author.ID,
		AuthorName: author.Username,
		Sub:        in.Sub,
		Title:      in.Title,
		URL:        in.URL,
		Content:    in.Content,
		CreatedAt:  s.now(),
	}
	if err := s.insert(ctx, post.Ref(), func(ctx context.Context) error {
		return s.store.CreatePost(ctx, &post)
	}); err != nil {
		return model.Post{}, errs.E(op, errs.KindOf(err), err)
	}
	createdTotal.WithLabelValues(string(model.KindPost)).Inc()
	s.logger.Info("post created", "post_id", post.ID, "sub", post.Sub, "account_id", author.ID)
	return post, nil
}

func (s *Service) checkPost(in NewPost) error {
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	if in.Title == "" && in.URL == "" && strings.TrimSpace(in.Content) == "" {
		return errors.New("post needs a title, url or content")
	}
	if in.URL != "" {
		u, err := url.Parse(in.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("url must be an absolute http(s) url")
		}
	}
	return nil
}

func (s *Service) CreateComment(ctx context.Context, author model.Account, in NewComment) (model.Comment, error) {
	const op = "content.CreateComment"
	if in.ParentID != nil && *in.ParentID == "" {
		in.ParentID = nil
	}
	if strings.TrimSpace(in.Content) == "" {
		in.Content = ""
	}
	if in.PostID == "" {
		return model.Comment{}, errs.Reason(op, errs.NotFound, "no post id")
	}
	if err := s.validate.Struct(in); err != nil {
		return model.Comment{}, errs.E(op, errs.InvalidContent, err)
	}

	if _, err := s.store.GetPost(ctx, in.PostID); err != nil {
		return model.Comment{}, errs.E(op, store.Classify(err), err)
	}
	if in.ParentID != nil {
		parent, err := s.store.GetComment(ctx, *in.ParentID)
		if errors.Is(err, store.ErrNotFound) {
			return model.Comment{}, errs.Reason(op, errs.InvalidParent, "parent %s does not exist", *in.ParentID)
		}
		if err != nil {
			return model.Comment{}, errs.E(op, store.Classify(err), err)
		}
		if parent.PostID != in.PostID {
			return model.Comment{}, errs.Reason(op, errs.InvalidParent, "parent %s belongs to another post", parent.ID)
		}
	}

	comment := model.Comment{
		ID:         uuid.NewString(),
		PostID:     in.PostID,
		ParentID:   in.ParentID,
		AuthorID:   author.ID,
		AuthorName: author.Username,
		Content:    in.Content,
		CreatedAt:  s.now(),
	}
	if err := s.insert(ctx, comment.Ref(), func(ctx context.Context) error {
		return s.store.CreateComment(ctx, &comment)
	}); err != nil {
		return model.Comment{}, errs.E(op, errs.KindOf(err), err)
	}
	createdTotal.WithLabelValues(string(model.KindComment)).Inc()
	s.logger.Info("comment created", "comment_id", comment.ID, "post_id", comment.PostID, "account_id", author.ID)
	return comment, nil
}

// insert creates the ledger entry for ref, then runs create. If create fails
// the entry is removed again, so no entry outlives a failed insert and no item
// is ever visible without one.
func (s *Service) insert(ctx context.Context, ref model.ItemRef, create func(context.Context) error) error {
	if err := s.ledger.Init(ctx, ref); err != nil {
		return err
	}
	err := store.RetryTransient(ctx, create)
	if err == nil {
		return nil
	}
	if rmErr := s.ledger.Remove(context.WithoutCancel(ctx), ref); rmErr != nil {
		s.logger.Error("remove score entry after failed insert", "kind", ref.Kind, "item_id", ref.ID, "error", rmErr)
	}
	return errs.E("content.insert", store.Classify(err), err)
}

// GetPost returns the post with its live score.
func (s *Service) GetPost(ctx context.Context, id string) (model.Post, error) {
	const op = "content.GetPost"
	if id == "" {
		return model.Post{}, errs.Reason(op, errs.NotFound, "no post id")
	}
	var post model.Post
	err := store.RetryTransient(ctx, func(ctx context.Context) (err error) {
		post, err = s.store.GetPost(ctx, id)
		return err
	})
	if err != nil {
		return model.Post{}, errs.E(op, store.Classify(err), err)
	}
	score, err := s.ledger.Score(ctx, post.Ref())
	if err != nil {
		return model.Post{}, errs.E(op, errs.KindOf(err), err)
	}
	post.Score = score
	return post, nil
}

// ListCommentsForPost returns the stored comments of a post in creation order,
// without scores.
func (s *Service) ListCommentsForPost(ctx context.Context, postID string) ([]model.Comment, error) {
	const op = "content.ListCommentsForPost"
	if postID == "" {
		return nil, errs.Reason(op, errs.NotFound, "no post id")
	}
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, errs.E(op, store.Classify(err), err)
	}
	var comments []model.Comment
	err := store.RetryTransient(ctx, func(ctx context.Context) (err error) {
		comments, err = s.store.ListCommentsByPost(ctx, postID)
		return err
	})
	if err != nil {
		return nil, errs.E(op, store.Classify(err), err)
	}
	return comments, nil
}

// ListPosts returns stored posts newest first, without scores.
func (s *Service) ListPosts(ctx context.Context, opts store.PostListOpts) ([]model.Post, error) {
	if opts.Sub == AllSubs {
		opts.Sub = ""
	}
	var posts []model.Post
	err := store.RetryTransient(ctx, func(ctx context.Context) (err error) {
		posts, err = s.store.ListPosts(ctx, opts)
		return err
	})
	if err != nil {
		return nil, errs.E("content.ListPosts", store.Classify(err), err)
	}
	return posts, nil
}

package feed

import (
	"context"
	"log/slog"

	"github.com/alphabot-ai/tiredd/internal/errs"
	"github.com/alphabot-ai/tiredd/internal/ledger"
	"github.com/alphabot-ai/tiredd/internal/model"
)

type CommentSource interface {
	ListCommentsForPost(ctx context.Context, postID string) ([]model.Comment, error)
}

// Assembler reads a post's comments with live scores.
type Assembler struct {
	comments CommentSource
	ledger   *ledger.Ledger
	logger   *slog.Logger
}

func NewAssembler(comments CommentSource, l *ledger.Ledger, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{comments: comments, ledger: l, logger: logger.With("component", "comments")}
}

// CommentsForPost returns the comments of postID in creation order. A comment
// whose parent is not among them is flagged Orphan.
func (a *Assembler) CommentsForPost(ctx context.Context, postID string) ([]model.Comment, error) {
	const op = "feed.CommentsForPost"
	comments, err := a.comments.ListCommentsForPost(ctx, postID)
	if err != nil {
		return nil, errs.E(op, errs.KindOf(err), err)
	}

	ids := make([]string, len(comments))
	known := make(map[string]bool, len(comments))
	for i, c := range comments {
		ids[i] = c.ID
		known[c.ID] = true
	}
	scores, err := a.ledger.Scores(ctx, model.KindComment, ids)
	if err != nil {
		return nil, errs.E(op, errs.KindOf(err), err)
	}

	out := make([]model.Comment, 0, len(comments))
	for _, c := range comments {
		score, ok := scores[c.ID]
		if !ok {
			a.logger.Warn("comment without score entry", "comment_id", c.ID)
			continue
		}
		c.Score = score
		c.Orphan = c.ParentID != nil && !known[*c.ParentID]
		out = append(out, c)
	}
	return out, nil
}

// BuildTree nests comments under their parents. Roots and siblings keep the
// order they have in comments; orphans become roots.
func BuildTree(comments []model.Comment) []model.CommentNode {
	present := make(map[string]bool, len(comments))
	for _, c := range comments {
		present[c.ID] = true
	}
	byParent := make(map[string][]model.Comment)
	roots := make([]model.Comment, 0)
	for _, c := range comments {
		if c.TopLevel() || !present[*c.ParentID] {
			roots = append(roots, c)
			continue
		}
		byParent[*c.ParentID] = append(byParent[*c.ParentID], c)
	}
	var build func(parent model.Comment) model.CommentNode
	build = func(parent model.Comment) model.CommentNode {
		node := model.CommentNode{Comment: parent}
		for _, child := range byParent[parent.ID] {
			node.Children = append(node.Children, build(child))
		}
		return node
	}
	nodes := make([]model.CommentNode, 0, len(roots))
	for _, root := range roots {
		nodes = append(nodes, build(root))
	}
	return nodes
}

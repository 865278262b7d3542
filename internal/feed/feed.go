// Package feed builds the ranked post views and comment listings. Scores are
// always joined from the ledger at read time, so a post moves between the hot
// and new views as soon as its votes change.
package feed

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alphabot-ai/tiredd/internal/errs"
	"github.com/alphabot-ai/tiredd/internal/ledger"
	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
)

const (
	// HotThreshold is the lowest score shown in the hot view.
	HotThreshold int64 = 2
	// NewFloor is the lowest score shown in the new view.
	NewFloor int64 = -20
)

type Order string

const (
	// OrderScore sorts by score, highest first, then newest first.
	OrderScore Order = "score"
	// OrderCreated sorts newest first.
	OrderCreated Order = "created"
)

func (o Order) Valid() bool {
	return o == OrderScore || o == OrderCreated
}

var feedDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "tiredd_feed_duration_seconds",
	Help:    "Feed read latency in seconds",
	Buckets: prometheus.DefBuckets,
}, []string{"order"})

// Query selects posts whose live score lies in [Min, Max]. A nil bound is
// open.
type Query struct {
	// Sub is an exact sub name; empty or "all" means every sub.
	Sub   string
	Min   *int64
	Max   *int64
	Order Order
	// Limit caps the result; zero means the partitioner default.
	Limit int
}

// Hot is the preset for the hot view: score at or above HotThreshold,
// ranked by score.
func Hot(sub string) Query {
	return Query{Sub: sub, Min: bound(HotThreshold), Order: OrderScore}
}

// New is the preset for the new view: scores from NewFloor up to just below
// HotThreshold, newest first.
func New(sub string) Query {
	return Query{Sub: sub, Min: bound(NewFloor), Max: bound(HotThreshold - 1), Order: OrderCreated}
}

func bound(v int64) *int64 {
	return &v
}

// Contains reports whether score passes the query's score filter.
func (q Query) Contains(score int64) bool {
	if q.Min != nil && score < *q.Min {
		return false
	}
	if q.Max != nil && score > *q.Max {
		return false
	}
	return true
}

type PostSource interface {
	ListPosts(ctx context.Context, opts store.PostListOpts) ([]model.Post, error)
}

type Options struct {
	// ScanLimit is how many posts are read from the store per batch. Zero
	// reads them all at once.
	ScanLimit int
	// DefaultLimit caps results when a query sets no limit.
	DefaultLimit int
}

type Partitioner struct {
	posts  PostSource
	ledger *ledger.Ledger
	opts   Options
	logger *slog.Logger
}

func NewPartitioner(posts PostSource, l *ledger.Ledger, opts Options, logger *slog.Logger) *Partitioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Partitioner{
		posts:  posts,
		ledger: l,
		opts:   opts,
		logger: logger.With("component", "feed"),
	}
}

// ListPosts returns the posts matching q with their live scores. No match is
// an empty slice, not an error.
func (p *Partitioner) ListPosts(ctx context.Context, q Query) ([]model.Post, error) {
	const op = "feed.ListPosts"
	if q.Order == "" {
		q.Order = OrderCreated
	}
	if !q.Order.Valid() {
		return nil, errs.Reason(op, errs.InvalidInput, "unknown order %q", q.Order)
	}
	if q.Limit < 0 {
		return nil, errs.Reason(op, errs.InvalidInput, "negative limit")
	}
	start := time.Now()
	defer func() {
		feedDuration.WithLabelValues(string(q.Order)).Observe(time.Since(start).Seconds())
	}()

	if q.Min != nil && q.Max != nil && *q.Min > *q.Max {
		return []model.Post{}, nil
	}

	limit := q.Limit
	if limit == 0 {
		limit = p.opts.DefaultLimit
	}

	// Posts are read newest first in batches of ScanLimit. Score order has to
	// see every candidate; creation order can stop once the page is full.
	out := make([]model.Post, 0)
	seen := make(map[string]bool)
	for offset := 0; ; {
		batch, err := p.posts.ListPosts(ctx, store.PostListOpts{Sub: q.Sub, Limit: p.opts.ScanLimit, Offset: offset})
		if err != nil {
			return nil, errs.E(op, errs.KindOf(err), err)
		}
		matched, err := p.join(ctx, q, batch, seen)
		if err != nil {
			return nil, errs.E(op, errs.KindOf(err), err)
		}
		out = append(out, matched...)

		if p.opts.ScanLimit <= 0 || len(batch) < p.opts.ScanLimit {
			break
		}
		if q.Order == OrderCreated && limit > 0 && len(out) >= limit {
			break
		}
		offset += len(batch)
	}
	sortPosts(out, q.Order)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// join attaches live scores to batch and keeps the posts inside q's range.
// Posts already in seen are skipped, since newer inserts shift later batches.
func (p *Partitioner) join(ctx context.Context, q Query, batch []model.Post, seen map[string]bool) ([]model.Post, error) {
	ids := make([]string, 0, len(batch))
	for _, post := range batch {
		if !seen[post.ID] {
			ids = append(ids, post.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	scores, err := p.ledger.Scores(ctx, model.KindPost, ids)
	if err != nil {
		return nil, err
	}

	var out []model.Post
	for _, post := range batch {
		if seen[post.ID] {
			continue
		}
		seen[post.ID] = true
		score, ok := scores[post.ID]
		if !ok {
			p.logger.Warn("post without score entry", "post_id", post.ID)
			continue
		}
		if !q.Contains(score.Value()) {
			continue
		}
		post.Score = score
		out = append(out, post)
	}
	return out, nil
}

func sortPosts(posts []model.Post, order Order) {
	sort.SliceStable(posts, func(i, j int) bool {
		a, b := posts[i], posts[j]
		if order == OrderScore {
			if av, bv := a.Score.Value(), b.Score.Value(); av != bv {
				return av > bv
			}
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/alphabot-ai/tiredd/internal/client"
	"github.com/alphabot-ai/tiredd/internal/errs"
)

var users = []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace", "heidi"}

var posts = []struct {
	sub, title, url, text string
}{
	{"tech", "Show tiredd: a small link aggregator", "https://example.com/tiredd", ""},
	{"tech", "Why vote counters belong in their own store", "https://example.com/counters", ""},
	{"tech", "Ask tiredd: favourite concurrency bug?", "", "Mine was a lost update on a score column."},
	{"news", "City council approves new bike lanes", "https://example.com/bikes", ""},
	{"news", "Local bakery wins national award", "https://example.com/bakery", ""},
	{"go", "Go 1.24 release notes", "https://go.dev/doc/go1.24", ""},
	{"go", "errgroup patterns in production", "https://example.com/errgroup", ""},
	{"go", "", "", "Is anyone still vendoring dependencies?"},
	{"music", "Album of the year discussion", "", "What made your list this year?"},
	{"music", "Vinyl sales keep climbing", "https://example.com/vinyl", ""},
}

var comments = []string{
	"Great post, thanks for sharing.",
	"I disagree with the premise here.",
	"Has anyone benchmarked this?",
	"This reminds me of the early days of the web.",
	"Interesting take. I wonder how it scales.",
	"Can you share more details?",
	"Upvoted for visibility.",
	"Not sure I agree, but appreciate the perspective.",
}

type options struct {
	password    string
	concurrency int
	seed        int64
}

type result struct {
	posts    int
	comments int
	votes    int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8090", "tiredd server URL")
	password := flag.String("password", "seed-password", "password for the seeded accounts")
	concurrency := flag.Int("concurrency", 8, "concurrent vote requests")
	randSeed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	res, err := seed(context.Background(), *baseURL, options{password: *password, concurrency: *concurrency, seed: *randSeed}, logger)
	if err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded %d posts, %d comments, %d votes at %s\n", res.posts, res.comments, res.votes, *baseURL)
}

func seed(ctx context.Context, baseURL string, opts options, logger *slog.Logger) (result, error) {
	var res result
	rng := rand.New(rand.NewSource(opts.seed))

	clients := make([]*client.Client, len(users))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range users {
		g.Go(func() error {
			c := client.New(baseURL)
			if _, err := c.Login(gctx, name, opts.password); err != nil {
				return fmt.Errorf("login %s: %w", name, err)
			}
			clients[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	logger.Info("logged in", "accounts", len(clients))

	type item struct {
		kind, id string
	}
	var items []item
	for _, p := range posts {
		author := rng.Intn(len(clients))
		post, err := clients[author].CreatePost(ctx, client.NewPost{Sub: p.sub, Title: p.title, URL: p.url, Content: p.text})
		if err != nil {
			return res, fmt.Errorf("post %q: %w", p.title, err)
		}
		res.posts++
		items = append(items, item{"post", post.ID})

		var thread []string
		for i := rng.Intn(4); i > 0; i-- {
			var parent *string
			if len(thread) > 0 && rng.Intn(2) == 0 {
				parent = &thread[rng.Intn(len(thread))]
			}
			c, err := clients[rng.Intn(len(clients))].CreateComment(ctx, post.ID, parent, comments[rng.Intn(len(comments))])
			if err != nil {
				return res, fmt.Errorf("comment on %s: %w", post.ID, err)
			}
			res.comments++
			thread = append(thread, c.ID)
			items = append(items, item{"comment", c.ID})
		}
	}

	// Every account votes on a random subset of items at once; duplicates are
	// expected to be refused and are not counted.
	var votes atomic.Int64
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for _, c := range clients {
		for _, it := range items {
			if rng.Intn(3) == 0 {
				continue
			}
			up := rng.Intn(4) != 0
			g.Go(func() error {
				_, err := c.Vote(gctx, it.kind, it.id, up)
				switch {
				case err == nil:
					votes.Add(1)
				case errors.Is(err, errs.ErrAlreadyVoted), client.IsRateLimited(err):
					logger.Debug("vote skipped", "kind", it.kind, "id", it.id, "error", err)
				default:
					return fmt.Errorf("vote on %s %s: %w", it.kind, it.id, err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	res.votes = votes.Load()
	logger.Info("seeded", "posts", res.posts, "comments", res.comments, "votes", res.votes)
	return res, nil
}

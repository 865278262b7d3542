package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/spf13/viper"

	"github.com/alphabot-ai/tiredd/internal/app"
	"github.com/alphabot-ai/tiredd/internal/auth"
	"github.com/alphabot-ai/tiredd/internal/config"
	"github.com/alphabot-ai/tiredd/internal/feed"
	httpapp "github.com/alphabot-ai/tiredd/internal/http"
	"github.com/alphabot-ai/tiredd/internal/ledger"
	"github.com/alphabot-ai/tiredd/internal/rate"
	"github.com/alphabot-ai/tiredd/internal/store/memory"
	"github.com/alphabot-ai/tiredd/internal/vote"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slogt.New(t)
	a := app.New(memory.New(), ledger.New(ledger.NewMemory(), logger), app.Options{
		Auth: auth.Options{SessionTTL: time.Hour, ChallengeTTL: time.Minute, AutoRegister: true},
		Vote: vote.Options{Dedupe: true},
		Feed: feed.Options{ScanLimit: 1000, DefaultLimit: 100},
	}, logger)
	srv := httptest.NewServer(httpapp.NewServer(a, rate.NewMemory(), config.Config{CORSOrigin: "*"}, logger))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("tiredd %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

var postedID = regexp.MustCompile(`Posted to \w+: (\S+)`)

func TestCLIFlow(t *testing.T) {
	srv := newTestAPI(t)
	t.Setenv("TIREDD_CLI_CONFIG", filepath.Join(t.TempDir(), "config.json"))

	if out := run(t, "login", "--url", srv.URL, "--user", "alice", "--password", "pw"); !strings.Contains(out, "Logged in as alice") {
		t.Fatalf("unexpected login output %q", out)
	}
	if out := run(t, "whoami"); !strings.Contains(out, "Account: alice") {
		t.Fatalf("unexpected whoami output %q", out)
	}

	out := run(t, "post", "--sub", "go", "--title", "Hello", "--url", "https://example.com")
	m := postedID.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no post id in %q", out)
	}
	postID := m[1]

	if out := run(t, "vote", "--post", postID); !strings.Contains(out, "Score 1") {
		t.Fatalf("unexpected vote output %q", out)
	}
	run(t, "comment", "--post", postID, "--text", "first")

	if out := run(t, "read", "--mode", "new", "--sub", "go"); !strings.Contains(out, "Hello") {
		t.Fatalf("post missing from new feed: %q", out)
	}
	out = run(t, "read", "--post", postID)
	if !strings.Contains(out, "alice: first") || !strings.Contains(out, "1 pts | 1 comments") {
		t.Fatalf("unexpected post view %q", out)
	}

	run(t, "key")
	run(t, "logout")
	if out := run(t, "login", "--key"); !strings.Contains(out, "Logged in as alice") {
		t.Fatalf("key login failed: %q", out)
	}
}

func TestOpenBackends(t *testing.T) {
	v := viper.New()
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	logger := slogt.New(t)
	ctx := context.Background()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("memory backends: %v", err)
	}
	if _, ok := b.ledger.(*ledger.Memory); !ok {
		t.Fatalf("memory store should use the memory ledger, got %T", b.ledger)
	}
	b.Close()

	cfg.Store = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "tiredd.db")
	b, err = openBackends(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("sqlite backends: %v", err)
	}
	if any(b.ledger) != any(b.store) {
		t.Fatalf("ledger=store should reuse the sqlite store")
	}
	b.Close()

	cfg.Ledger = "etcd"
	if _, err := openBackends(ctx, cfg, logger); err == nil {
		t.Fatalf("expected error for unknown ledger")
	}
}

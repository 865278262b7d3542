package client

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alphabot-ai/tiredd/internal/errs"
)

func TestCredentialsSign(t *testing.T) {
	creds, err := GenerateCredentials()
	if err != nil {
		t.Fatalf("generate credentials: %v", err)
	}
	sig := creds.Sign("test message")
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	pub, _ := base64.StdEncoding.DecodeString(creds.PublicKey)
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte("test message"), raw) {
		t.Fatalf("signature does not verify")
	}
}

func TestCredentialsFromKeys(t *testing.T) {
	orig, err := GenerateCredentials()
	if err != nil {
		t.Fatalf("generate credentials: %v", err)
	}
	privB64 := base64.StdEncoding.EncodeToString(orig.PrivateKey)
	restored, err := CredentialsFromKeys(orig.PublicKey, privB64)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Sign("m") != orig.Sign("m") {
		t.Fatalf("restored credentials sign differently")
	}
	if _, err := CredentialsFromKeys(orig.PublicKey, "c2hvcnQ="); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestLoginStoresToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"session": map[string]any{"id": "tok", "accountId": "a1", "expires": exp},
				"account": map[string]any{"id": "a1", "username": "alice"},
			})
		case "/upvotePost":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated", "kind": "unauthenticated"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"score": map[string]int{"upvotes": 1, "downvotes": 0, "score": 1}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()
	if _, err := c.Vote(ctx, "post", "p1", true); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("expected Unauthenticated before login, got %v", err)
	}
	acc, err := c.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if acc.Username != "alice" || c.Token != "tok" || !c.TokenExp.Equal(exp) {
		t.Fatalf("unexpected login state %+v %q %v", acc, c.Token, c.TokenExp)
	}
	if !c.IsAuthenticated() {
		t.Fatalf("expected authenticated client")
	}
	score, err := c.Vote(ctx, "post", "p1", true)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if score.Score != 1 || score.Upvotes != 1 {
		t.Fatalf("unexpected score %+v", score)
	}
}

func TestDecodeError(t *testing.T) {
	err := decodeError(http.StatusConflict, []byte(`{"error":"already voted","kind":"already_voted","detail":"vote.Cast"}`))
	if !errors.Is(err, errs.ErrAlreadyVoted) {
		t.Fatalf("expected AlreadyVoted, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Message != "already voted: vote.Cast" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}

	err = decodeError(http.StatusBadGateway, []byte("upstream down"))
	if errs.KindOf(err) != errs.Internal || err.Error() != "api error (502): upstream down" {
		t.Fatalf("unexpected plain error %v", err)
	}
	if !IsRateLimited(decodeError(http.StatusTooManyRequests, []byte(`{"error":"rate limit exceeded"}`))) {
		t.Fatalf("expected rate limited")
	}
}

func TestVoteUnknownKind(t *testing.T) {
	if _, err := New("http://unused").Vote(context.Background(), "story", "1", true); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

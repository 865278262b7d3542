package auth

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/neilotoole/slogt"

	"github.com/alphabot-ai/tiredd/internal/errs"
	"github.com/alphabot-ai/tiredd/internal/store/memory"
)

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.SessionTTL == 0 {
		opts.SessionTTL = time.Hour
	}
	if opts.ChallengeTTL == 0 {
		opts.ChallengeTTL = time.Minute
	}
	return NewService(memory.New(), opts, slogt.New(t))
}

func TestLoginAutoRegistersAndResolves(t *testing.T) {
	svc := newTestService(t, Options{AutoRegister: true})
	ctx := context.Background()

	sess, account, err := svc.Login(ctx, "ann", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.Token == "" || sess.AccountID != account.ID {
		t.Fatalf("unexpected session %+v for account %+v", sess, account)
	}
	if string(account.PasswordHash) == "hunter2" {
		t.Fatalf("password stored in clear")
	}

	id, err := svc.Resolve(ctx, sess.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Account.Username != "ann" {
		t.Fatalf("expected ann, got %q", id.Account.Username)
	}

	again, _, err := svc.Login(ctx, "ann", "hunter2")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if again.AccountID != account.ID || again.Token == sess.Token {
		t.Fatalf("expected a fresh session for the same account, got %+v", again)
	}

	if _, _, err := svc.Login(ctx, "ann", "wrong"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("expected InvalidCredentials, got %v", err)
	}
}

func TestLoginWithoutAutoRegister(t *testing.T) {
	svc := newTestService(t, Options{})
	if _, _, err := svc.Login(context.Background(), "bob", "pw"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("expected InvalidCredentials, got %v", err)
	}
}

func TestResolveRejects(t *testing.T) {
	svc := newTestService(t, Options{AutoRegister: true, SessionTTL: time.Minute})
	ctx := context.Background()

	sess, _, err := svc.Login(ctx, "ann", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	tests := []struct {
		name  string
		token string
		now   time.Time
	}{
		{name: "Empty", token: "", now: time.Now()},
		{name: "Unknown", token: "nope", now: time.Now()},
		{name: "Expired", token: sess.Token, now: sess.ExpiresAt.Add(time.Second)},
		{name: "ExactlyAtExpiry", token: sess.Token, now: sess.ExpiresAt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc.now = func() time.Time { return tt.now }
			defer func() { svc.now = time.Now }()
			if _, err := svc.Resolve(ctx, tt.token); !errors.Is(err, errs.ErrUnauthenticated) {
				t.Fatalf("expected Unauthenticated, got %v", err)
			}
		})
	}
}

func TestLogoutAndPurge(t *testing.T) {
	svc := newTestService(t, Options{AutoRegister: true, SessionTTL: time.Minute})
	ctx := context.Background()

	first, _, _ := svc.Login(ctx, "ann", "pw")
	second, _, _ := svc.Login(ctx, "ann", "pw")

	if err := svc.Logout(ctx, first.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Resolve(ctx, first.Token); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("expected Unauthenticated after logout, got %v", err)
	}

	svc.now = func() time.Time { return second.ExpiresAt.Add(time.Second) }
	n, err := svc.PurgeExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged session, got %d (%v)", n, err)
	}
}

func TestEd25519KeyLogin(t *testing.T) {
	svc := newTestService(t, Options{AutoRegister: true})
	ctx := context.Background()

	_, account, err := svc.Login(ctx, "bot", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubStr := base64.RawStdEncoding.EncodeToString(pub)
	sign := func(c string) string {
		return base64.RawStdEncoding.EncodeToString(ed25519.Sign(priv, []byte(c)))
	}

	// Unknown keys cannot log in.
	c, err := svc.CreateChallenge(ctx, "ed25519")
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if _, _, err := svc.LoginWithKey(ctx, "ed25519", pubStr, c.Challenge, sign(c.Challenge)); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("expected InvalidCredentials for unknown key, got %v", err)
	}

	c, _ = svc.CreateChallenge(ctx, "ED25519")
	if _, err := svc.AddKey(ctx, account.ID, "ed25519", pubStr, c.Challenge, sign(c.Challenge)); err != nil {
		t.Fatalf("add key: %v", err)
	}

	c, _ = svc.CreateChallenge(ctx, "ed25519")
	sess, got, err := svc.LoginWithKey(ctx, "ed25519", pubStr, c.Challenge, sign(c.Challenge))
	if err != nil {
		t.Fatalf("key login: %v", err)
	}
	if got.ID != account.ID || sess.AccountID != account.ID {
		t.Fatalf("expected account %s, got %s", account.ID, got.ID)
	}

	// Challenges are single use.
	if _, _, err := svc.LoginWithKey(ctx, "ed25519", pubStr, c.Challenge, sign(c.Challenge)); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("expected reused challenge to fail, got %v", err)
	}
}

func TestKeyLoginRejects(t *testing.T) {
	svc := newTestService(t, Options{AutoRegister: true})
	ctx := context.Background()
	pub, priv, _ := ed25519.GenerateKey(nil)
	pubStr := base64.StdEncoding.EncodeToString(pub)

	t.Run("AlgMismatch", func(t *testing.T) {
		c, _ := svc.CreateChallenge(ctx, "secp256k1")
		sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(c.Challenge)))
		if _, _, err := svc.LoginWithKey(ctx, "ed25519", pubStr, c.Challenge, sig); !errors.Is(err, errs.ErrInvalidCredentials) {
			t.Fatalf("expected InvalidCredentials, got %v", err)
		}
	})
	t.Run("Expired", func(t *testing.T) {
		c, _ := svc.CreateChallenge(ctx, "ed25519")
		svc.now = func() time.Time { return c.ExpiresAt.Add(time.Second) }
		defer func() { svc.now = time.Now }()
		sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(c.Challenge)))
		if _, _, err := svc.LoginWithKey(ctx, "ed25519", pubStr, c.Challenge, sig); !errors.Is(err, errs.ErrInvalidCredentials) {
			t.Fatalf("expected InvalidCredentials, got %v", err)
		}
	})
	t.Run("UnsupportedAlg", func(t *testing.T) {
		if _, err := svc.CreateChallenge(ctx, "dsa"); !errors.Is(err, errs.ErrInvalidInput) {
			t.Fatalf("expected InvalidInput, got %v", err)
		}
	})
}

func TestVerifySecp256k1(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := "challenge-value"
	compact := ecdsa.SignCompact(priv, ethereumPersonalHash([]byte(msg)), false)
	// SignCompact returns v||r||s; wallets send r||s||v.
	sig := append(append([]byte{}, compact[1:]...), compact[0])
	pub := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	if err := VerifySignature("secp256k1", "0x"+pub, msg, "0x"+hex.EncodeToString(sig)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifySignature("secp256k1", pub, "other", hex.EncodeToString(sig)); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pub := base64.StdEncoding.EncodeToString(der)
	msg := "challenge-value"
	h := sha256.Sum256([]byte(msg))

	pss, _ := rsa.SignPSS(rand.Reader, key, crypto.SHA256, h[:], nil)
	if err := VerifySignature("rsa-pss", pub, msg, base64.StdEncoding.EncodeToString(pss)); err != nil {
		t.Fatalf("verify pss: %v", err)
	}
	pkcs, _ := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, h[:])
	if err := VerifySignature("rsa-sha256", pub, msg, base64.StdEncoding.EncodeToString(pkcs)); err != nil {
		t.Fatalf("verify pkcs1: %v", err)
	}
	if err := VerifySignature("rsa-sha256", pub, msg, base64.StdEncoding.EncodeToString(pss)); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

// Package auth resolves session tokens to accounts and issues sessions.
//
// Sessions come from password login, which registers unknown usernames when
// auto-registration is on, or from signing a one-time challenge with a key
// previously attached to the account.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/alphabot-ai/tiredd/internal/errs"
	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
)

const tokenBytes = 32

type Options struct {
	SessionTTL   time.Duration
	ChallengeTTL time.Duration
	AutoRegister bool
}

type Service struct {
	store  store.IdentityStore
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// Identity is what a valid session token resolves to.
type Identity struct {
	Account model.Account
	Session model.Session
}

func NewService(st store.IdentityStore, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		opts:   opts,
		logger: logger.With("component", "auth"),
		now:    time.Now,
	}
}

// Resolve maps a session token to its account. It never writes.
func (s *Service) Resolve(ctx context.Context, token string) (Identity, error) {
	const op = "auth.Resolve"
	if token == "" {
		return Identity{}, errs.Reason(op, errs.Unauthenticated, "no session token")
	}
	var sess model.Session
	err := store.RetryTransient(ctx, func(ctx context.Context) (err error) {
		sess, err = s.store.GetSession(ctx, token)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return Identity{}, errs.Reason(op, errs.Unauthenticated, "unknown session")
	}
	if err != nil {
		return Identity{}, errs.E(op, store.Classify(err), err)
	}
	if sess.Expired(s.now()) {
		return Identity{}, errs.Reason(op, errs.Unauthenticated, "session expired")
	}

	var account model.Account
	err = store.RetryTransient(ctx, func(ctx context.Context) (err error) {
		account, err = s.store.GetAccount(ctx, sess.AccountID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return Identity{}, errs.Reason(op, errs.Unauthenticated, "session account missing")
	}
	if err != nil {
		return Identity{}, errs.E(op, store.Classify(err), err)
	}
	return Identity{Account: account, Session: sess}, nil
}

// Login checks a username and password and opens a session. Unknown
// usernames are registered on the spot when AutoRegister is set.
func (s *Service) Login(ctx context.Context, username, password string) (model.Session, model.Account, error) {
	const op = "auth.Login"
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return model.Session{}, model.Account{}, errs.Reason(op, errs.InvalidCredentials, "username and password are required")
	}

	account, err := s.store.GetAccountByName(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound) && s.opts.AutoRegister:
		account, err = s.register(ctx, username, password)
		if err != nil {
			return model.Session{}, model.Account{}, err
		}
	case errors.Is(err, store.ErrNotFound):
		return model.Session{}, model.Account{}, errs.Reason(op, errs.InvalidCredentials, "unknown user")
	case err != nil:
		return model.Session{}, model.Account{}, errs.E(op, store.Classify(err), err)
	default:
		if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)); err != nil {
			return model.Session{}, model.Account{}, errs.Reason(op, errs.InvalidCredentials, "wrong password")
		}
	}

	sess, err := s.openSession(ctx, account.ID)
	if err != nil {
		return model.Session{}, model.Account{}, errs.E(op, errs.KindOf(err), err)
	}
	s.logger.Info("login", "account_id", account.ID)
	return sess, account, nil
}

func (s *Service) register(ctx context.Context, username, password string) (model.Account, error) {
	const op = "auth.register"
	if len(username) > 50 {
		return model.Account{}, errs.Reason(op, errs.InvalidInput, "username too long")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return model.Account{}, errs.E(op, errs.InvalidInput, err)
	}
	if err != nil {
		return model.Account{}, errs.E(op, errs.Internal, err)
	}
	account := model.Account{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	err = s.store.CreateAccount(ctx, &account)
	if errors.Is(err, store.ErrDuplicateName) {
		// Lost a registration race; the other request's password wins.
		return model.Account{}, errs.Reason(op, errs.InvalidCredentials, "username taken")
	}
	if err != nil {
		return model.Account{}, errs.E(op, store.Classify(err), err)
	}
	s.logger.Info("account registered", "account_id", account.ID)
	return account, nil
}

func (s *Service) openSession(ctx context.Context, accountID string) (model.Session, error) {
	token, err := randomToken(tokenBytes)
	if err != nil {
		return model.Session{}, errs.E("auth.openSession", errs.Internal, err)
	}
	now := s.now()
	sess := model.Session{
		Token:     token,
		AccountID: accountID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.SessionTTL),
	}
	err = store.RetryTransient(ctx, func(ctx context.Context) error {
		return s.store.CreateSession(ctx, sess)
	})
	if err != nil {
		return model.Session{}, errs.E("auth.openSession", store.Classify(err), err)
	}
	return sess, nil
}

// Logout deletes the session. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	const op = "auth.Logout"
	if token == "" {
		return errs.Reason(op, errs.Unauthenticated, "no session token")
	}
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return errs.E(op, store.Classify(err), err)
	}
	return nil
}

// PurgeExpired deletes sessions past their expiry and returns how many.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, errs.E("auth.PurgeExpired", store.Classify(err), err)
	}
	return n, nil
}

func (s *Service) CreateChallenge(ctx context.Context, alg string) (model.Challenge, error) {
	const op = "auth.CreateChallenge"
	alg, ok := NormalizeAlg(alg)
	if !ok {
		return model.Challenge{}, errs.Reason(op, errs.InvalidInput, "unsupported alg %q", alg)
	}
	challenge, err := randomToken(tokenBytes)
	if err != nil {
		return model.Challenge{}, errs.E(op, errs.Internal, err)
	}
	c := model.Challenge{
		Challenge: challenge,
		Alg:       alg,
		ExpiresAt: s.now().Add(s.opts.ChallengeTTL),
	}
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return model.Challenge{}, errs.E(op, store.Classify(err), err)
	}
	return c, nil
}

// AddKey attaches a public key to accountID after checking the signed
// challenge.
func (s *Service) AddKey(ctx context.Context, accountID, alg, publicKey, challenge, signature string) (model.AccountKey, error) {
	const op = "auth.AddKey"
	alg, err := s.checkChallenge(ctx, op, alg, publicKey, challenge, signature)
	if err != nil {
		return model.AccountKey{}, err
	}
	key := model.AccountKey{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Alg:       alg,
		PublicKey: strings.TrimSpace(publicKey),
		CreatedAt: s.now(),
	}
	if err := s.store.AddAccountKey(ctx, &key); err != nil {
		return model.AccountKey{}, errs.E(op, store.Classify(err), err)
	}
	s.logger.Info("key added", "account_id", accountID, "alg", alg)
	return key, nil
}

// LoginWithKey opens a session for the account owning publicKey.
func (s *Service) LoginWithKey(ctx context.Context, alg, publicKey, challenge, signature string) (model.Session, model.Account, error) {
	const op = "auth.LoginWithKey"
	alg, err := s.checkChallenge(ctx, op, alg, publicKey, challenge, signature)
	if err != nil {
		return model.Session{}, model.Account{}, err
	}
	key, err := s.store.FindAccountKey(ctx, alg, strings.TrimSpace(publicKey))
	if errors.Is(err, store.ErrNotFound) {
		return model.Session{}, model.Account{}, errs.Reason(op, errs.InvalidCredentials, "unknown key")
	}
	if err != nil {
		return model.Session{}, model.Account{}, errs.E(op, store.Classify(err), err)
	}
	account, err := s.store.GetAccount(ctx, key.AccountID)
	if err != nil {
		return model.Session{}, model.Account{}, errs.E(op, store.Classify(err), err)
	}
	sess, err := s.openSession(ctx, account.ID)
	if err != nil {
		return model.Session{}, model.Account{}, errs.E(op, errs.KindOf(err), err)
	}
	s.logger.Info("key login", "account_id", account.ID, "alg", alg)
	return sess, account, nil
}

// checkChallenge consumes the challenge and verifies the signature over it.
// A challenge is gone after one attempt whether or not it succeeds.
func (s *Service) checkChallenge(ctx context.Context, op, alg, publicKey, challenge, signature string) (string, error) {
	alg, ok := NormalizeAlg(alg)
	if !ok {
		return "", errs.Reason(op, errs.InvalidInput, "unsupported alg %q", alg)
	}
	c, err := s.store.ConsumeChallenge(ctx, challenge)
	if errors.Is(err, store.ErrNotFound) {
		return "", errs.Reason(op, errs.InvalidCredentials, "unknown challenge")
	}
	if err != nil {
		return "", errs.E(op, store.Classify(err), err)
	}
	if s.now().After(c.ExpiresAt) {
		return "", errs.Reason(op, errs.InvalidCredentials, "challenge expired")
	}
	if c.Alg != alg {
		return "", errs.Reason(op, errs.InvalidCredentials, "challenge alg mismatch")
	}
	if err := VerifySignature(alg, publicKey, challenge, signature); err != nil {
		return "", errs.E(op, errs.InvalidCredentials, err)
	}
	return alg, nil
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

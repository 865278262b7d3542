// Package client provides a Go client for the tiredd API.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alphabot-ai/tiredd/internal/errs"
)

// Client is a tiredd API client. Token is sent with every request once set.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
	TokenExp   time.Time
}

// Credentials hold an ed25519 keypair used for key login.
type Credentials struct {
	PublicKey  string
	PrivateKey ed25519.PrivateKey
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func GenerateCredentials() (*Credentials, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Credentials{
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: priv,
	}, nil
}

// CredentialsFromKeys restores credentials from base64 keys.
func CredentialsFromKeys(pubKeyB64, privKeyB64 string) (*Credentials, error) {
	privBytes, err := base64.StdEncoding.DecodeString(privKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(privBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes", ed25519.PrivateKeySize)
	}
	return &Credentials{PublicKey: pubKeyB64, PrivateKey: ed25519.PrivateKey(privBytes)}, nil
}

func (creds *Credentials) Sign(message string) string {
	sig := ed25519.Sign(creds.PrivateKey, []byte(message))
	return base64.StdEncoding.EncodeToString(sig)
}

// APIError is a non-2xx response. It unwraps to the matching errs sentinel
// kind, so errors.Is(err, errs.ErrAlreadyVoted) works across the wire.
type APIError struct {
	Status  int
	Kind    errs.Kind
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return &errs.Error{Kind: e.Kind}
}

type Session struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Expires   time.Time `json:"expires"`
}

type Account struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Created  time.Time `json:"created"`
}

type Score struct {
	Upvotes   int64 `json:"upvotes"`
	Downvotes int64 `json:"downvotes"`
	Score     int64 `json:"score"`
}

type Post struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	Sub          string    `json:"sub"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Content      string    `json:"content"`
	Created      time.Time `json:"created"`
	CommentCount int       `json:"commentCount"`
	Score
}

type Comment struct {
	ID       string    `json:"id"`
	PostID   string    `json:"postId"`
	Parent   *string   `json:"parent"`
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	Content  string    `json:"content"`
	Created  time.Time `json:"created"`
	Orphan   bool      `json:"orphan"`
	Score
}

type CommentNode struct {
	Comment
	Children []CommentNode `json:"children"`
}

type NewPost struct {
	Sub     string `json:"sub"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`
}

// PostQuery selects a feed. Mode "hot" or "new" picks a preset and
// overrides Min, Max and Order.
type PostQuery struct {
	Sub   string `json:"sub,omitempty"`
	Mode  string `json:"mode,omitempty"`
	Min   *int64 `json:"min,omitempty"`
	Max   *int64 `json:"max,omitempty"`
	Order string `json:"order,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type authResponse struct {
	Session Session `json:"session"`
	Account Account `json:"account"`
}

func (c *Client) Login(ctx context.Context, username, password string) (Account, error) {
	var out authResponse
	err := c.do(ctx, "/login", map[string]string{"username": username, "password": password}, &out)
	if err != nil {
		return Account{}, err
	}
	c.Token = out.Session.ID
	c.TokenExp = out.Session.Expires
	return out.Account, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, "/logout", map[string]string{}, nil); err != nil {
		return err
	}
	c.Token = ""
	c.TokenExp = time.Time{}
	return nil
}

// ReadSession returns the session and account behind the client's token.
func (c *Client) ReadSession(ctx context.Context) (Session, Account, error) {
	var out authResponse
	if err := c.do(ctx, "/readSession", map[string]string{}, &out); err != nil {
		return Session{}, Account{}, err
	}
	return out.Session, out.Account, nil
}

func (c *Client) IsAuthenticated() bool {
	return c.Token != "" && time.Now().Before(c.TokenExp)
}

func (c *Client) CreatePost(ctx context.Context, in NewPost) (Post, error) {
	var out struct {
		Post Post `json:"post"`
	}
	err := c.do(ctx, "/post", map[string]any{"post": in}, &out)
	return out.Post, err
}

func (c *Client) ListPosts(ctx context.Context, q PostQuery) ([]Post, error) {
	var out struct {
		Records []Post `json:"records"`
	}
	err := c.do(ctx, "/posts", q, &out)
	return out.Records, err
}

func (c *Client) GetPost(ctx context.Context, id string) (Post, error) {
	var out struct {
		Post Post `json:"post"`
	}
	err := c.do(ctx, "/getPost", map[string]string{"id": id}, &out)
	return out.Post, err
}

func (c *Client) CreateComment(ctx context.Context, postID string, parent *string, text string) (Comment, error) {
	var out struct {
		Comment Comment `json:"comment"`
	}
	body := map[string]any{"comment": map[string]any{"postId": postID, "parent": parent, "content": text}}
	err := c.do(ctx, "/comment", body, &out)
	return out.Comment, err
}

func (c *Client) Comments(ctx context.Context, postID string) ([]Comment, error) {
	var out struct {
		Records []Comment `json:"records"`
	}
	err := c.do(ctx, "/comments", map[string]any{"postId": postID}, &out)
	return out.Records, err
}

func (c *Client) CommentTree(ctx context.Context, postID string) ([]CommentNode, error) {
	var out struct {
		Tree []CommentNode `json:"tree"`
	}
	err := c.do(ctx, "/comments", map[string]any{"postId": postID, "tree": true}, &out)
	return out.Tree, err
}

// Vote casts one vote. kind is "post" or "comment".
func (c *Client) Vote(ctx context.Context, kind, id string, up bool) (Score, error) {
	var path string
	switch kind {
	case "post":
		path = "/downvotePost"
		if up {
			path = "/upvotePost"
		}
	case "comment":
		path = "/downvoteComment"
		if up {
			path = "/upvoteComment"
		}
	default:
		return Score{}, fmt.Errorf("unknown item kind %q", kind)
	}
	var out struct {
		Score Score `json:"score"`
	}
	err := c.do(ctx, path, map[string]string{"id": id}, &out)
	return out.Score, err
}

func (c *Client) GetChallenge(ctx context.Context, alg string) (string, error) {
	var out struct {
		Challenge string `json:"challenge"`
	}
	err := c.do(ctx, "/auth/challenge", map[string]string{"alg": alg}, &out)
	return out.Challenge, err
}

func (c *Client) signed(ctx context.Context, creds *Credentials) (map[string]string, error) {
	challenge, err := c.GetChallenge(ctx, "ed25519")
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return map[string]string{
		"alg":       "ed25519",
		"publicKey": creds.PublicKey,
		"challenge": challenge,
		"signature": creds.Sign(challenge),
	}, nil
}

// AddKey attaches creds to the logged in account.
func (c *Client) AddKey(ctx context.Context, creds *Credentials) error {
	body, err := c.signed(ctx, creds)
	if err != nil {
		return err
	}
	return c.do(ctx, "/auth/key", body, nil)
}

// LoginWithKey opens a session for the account that owns creds.
func (c *Client) LoginWithKey(ctx context.Context, creds *Credentials) (Account, error) {
	body, err := c.signed(ctx, creds)
	if err != nil {
		return Account{}, err
	}
	var out authResponse
	if err := c.do(ctx, "/auth/verify", body, &out); err != nil {
		return Account{}, err
	}
	c.Token = out.Session.ID
	c.TokenExp = out.Session.Expires
	return out.Account, nil
}

func (c *Client) do(ctx context.Context, path string, in, out any) error {
	bodyBytes, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func decodeError(status int, body []byte) error {
	var e struct {
		Error  string `json:"error"`
		Kind   string `json:"kind"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return &APIError{Status: status, Kind: errs.Internal, Message: string(bytes.TrimSpace(body))}
	}
	msg := e.Error
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return &APIError{Status: status, Kind: errs.ParseCode(e.Kind), Message: msg}
}

// IsRateLimited reports whether err is a 429 response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

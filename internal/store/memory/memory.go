// Package memory implements store.Store in process memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	posts          map[string]model.Post
	postOrder      []string // creation order
	comments       map[string]model.Comment
	commentsByPost map[string][]string

	accounts       map[string]model.Account
	accountsByName map[string]string
	sessions       map[string]model.Session
	keys           map[keyID]model.AccountKey
	challenges     map[string]model.Challenge

	votes map[voteID]model.Vote
}

type keyID struct{ alg, publicKey string }

type voteID struct {
	item      model.ItemRef
	accountID string
}

func New() *Store {
	return &Store{
		posts:          make(map[string]model.Post),
		comments:       make(map[string]model.Comment),
		commentsByPost: make(map[string][]string),
		accounts:       make(map[string]model.Account),
		accountsByName: make(map[string]string),
		sessions:       make(map[string]model.Session),
		keys:           make(map[keyID]model.AccountKey),
		challenges:     make(map[string]model.Challenge),
		votes:          make(map[voteID]model.Vote),
	}
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) CreatePost(_ context.Context, post *model.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *post
	p.Score = model.Score{}
	s.posts[p.ID] = p
	s.postOrder = append(s.postOrder, p.ID)
	return nil
}

func (s *Store) GetPost(_ context.Context, id string) (model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	if !ok {
		return model.Post{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListPosts(_ context.Context, opts store.PostListOpts) ([]model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	posts := make([]model.Post, 0)
	for i := len(s.postOrder) - 1; i >= 0; i-- {
		p := s.posts[s.postOrder[i]]
		if opts.Sub != "" && p.Sub != opts.Sub {
			continue
		}
		posts = append(posts, p)
	}
	// Insertion order normally matches CreatedAt; sort to honour the contract
	// when callers supply their own timestamps.
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	if opts.Offset >= len(posts) {
		return []model.Post{}, nil
	}
	posts = posts[opts.Offset:]
	if opts.Limit > 0 && len(posts) > opts.Limit {
		posts = posts[:opts.Limit]
	}
	return posts, nil
}

func (s *Store) CreateComment(_ context.Context, comment *model.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[comment.PostID]
	if !ok {
		return store.ErrNotFound
	}
	c := *comment
	c.Score = model.Score{}
	c.Orphan = false
	if c.ParentID != nil {
		pid := *c.ParentID
		c.ParentID = &pid
	}
	s.comments[c.ID] = c
	s.commentsByPost[c.PostID] = append(s.commentsByPost[c.PostID], c.ID)
	post.CommentCount++
	s.posts[post.ID] = post
	return nil
}

func (s *Store) GetComment(_ context.Context, id string) (model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	if !ok {
		return model.Comment{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListCommentsByPost(_ context.Context, postID string) ([]model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.commentsByPost[postID]
	out := make([]model.Comment, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.comments[id])
	}
	return out, nil
}

func (s *Store) CreateAccount(_ context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.accountsByName[account.Username]; taken {
		return store.ErrDuplicateName
	}
	s.accounts[account.ID] = *account
	s.accountsByName[account.Username] = account.ID
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return model.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) GetAccountByName(_ context.Context, username string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.accountsByName[username]
	if !ok {
		return model.Account{}, store.ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *Store) CreateSession(_ context.Context, session model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Token] = session
	return nil
}

func (s *Store) GetSession(_ context.Context, token string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return model.Session{}, store.ErrNotFound
	}
	return sess, nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}

func (s *Store) AddAccountKey(_ context.Context, key *model.AccountKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := keyID{key.Alg, key.PublicKey}
	if _, exists := s.keys[id]; exists {
		return store.ErrDuplicateKey
	}
	s.keys[id] = *key
	return nil
}

func (s *Store) FindAccountKey(_ context.Context, alg, publicKey string) (model.AccountKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[keyID{alg, publicKey}]
	if !ok {
		return model.AccountKey{}, store.ErrNotFound
	}
	return k, nil
}

func (s *Store) CreateChallenge(_ context.Context, c model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.Challenge] = c
	return nil
}

func (s *Store) ConsumeChallenge(_ context.Context, challenge string) (model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[challenge]
	if !ok {
		return model.Challenge{}, store.ErrNotFound
	}
	delete(s.challenges, challenge)
	return c, nil
}

func (s *Store) CreateVote(_ context.Context, vote *model.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := voteID{vote.Item, vote.AccountID}
	if _, exists := s.votes[id]; exists {
		return store.ErrDuplicateVote
	}
	s.votes[id] = *vote
	return nil
}

func (s *Store) DeleteVote(_ context.Context, item model.ItemRef, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.votes, voteID{item, accountID})
	return nil
}

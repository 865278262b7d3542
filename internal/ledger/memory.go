package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/alphabot-ai/tiredd/internal/model"
	"github.com/alphabot-ai/tiredd/internal/store"
)

// ErrCounterOverflow is returned when a counter would exceed 2^32-1.
var ErrCounterOverflow = errors.New("vote counter overflow")

const counterMask = 1<<32 - 1

// Memory is an in-process Backend. Each entry packs both counters into one
// word (upvotes in the high half) and updates it with a compare-and-swap
// loop, so votes on one item never lose updates and votes on different
// items never contend.
type Memory struct {
	entries sync.Map // itemKey -> *counter
}

type itemKey struct {
	kind model.Kind
	id   string
}

type counter struct {
	word atomic.Uint64
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) CreateScore(_ context.Context, ref model.ItemRef) error {
	m.entries.LoadOrStore(itemKey{ref.Kind, ref.ID}, &counter{})
	return nil
}

func (m *Memory) IncrementScore(_ context.Context, ref model.ItemRef, dir model.Direction) (model.Score, error) {
	v, ok := m.entries.Load(itemKey{ref.Kind, ref.ID})
	if !ok {
		return model.Score{}, store.ErrNotFound
	}
	c := v.(*counter)
	for {
		old := c.word.Load()
		up, down := unpack(old)
		switch dir {
		case model.Up:
			if up == counterMask {
				return model.Score{}, ErrCounterOverflow
			}
			up++
		case model.Down:
			if down == counterMask {
				return model.Score{}, ErrCounterOverflow
			}
			down++
		}
		if c.word.CompareAndSwap(old, pack(up, down)) {
			return model.Score{Upvotes: int64(up), Downvotes: int64(down)}, nil
		}
	}
}

func (m *Memory) GetScore(_ context.Context, ref model.ItemRef) (model.Score, error) {
	v, ok := m.entries.Load(itemKey{ref.Kind, ref.ID})
	if !ok {
		return model.Score{}, store.ErrNotFound
	}
	return v.(*counter).load(), nil
}

func (m *Memory) GetScores(_ context.Context, kind model.Kind, ids []string) (map[string]model.Score, error) {
	out := make(map[string]model.Score, len(ids))
	for _, id := range ids {
		if v, ok := m.entries.Load(itemKey{kind, id}); ok {
			out[id] = v.(*counter).load()
		}
	}
	return out, nil
}

func (m *Memory) DeleteScore(_ context.Context, ref model.ItemRef) error {
	m.entries.Delete(itemKey{ref.Kind, ref.ID})
	return nil
}

func (c *counter) load() model.Score {
	up, down := unpack(c.word.Load())
	return model.Score{Upvotes: int64(up), Downvotes: int64(down)}
}

func pack(up, down uint64) uint64 {
	return up<<32 | down&counterMask
}

func unpack(word uint64) (up, down uint64) {
	return word >> 32, word & counterMask
}

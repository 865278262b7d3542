package rate

import (
	"testing"
	"time"
)

func TestAllowBurstThenWait(t *testing.T) {
	m := NewMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if ok, _ := m.Allow("vote:1.2.3.4", 3); !ok {
			t.Fatalf("request %d should pass", i)
		}
	}
	ok, wait := m.Allow("vote:1.2.3.4", 3)
	if ok {
		t.Fatalf("fourth request should be limited")
	}
	if wait <= 0 || wait > 20*time.Second {
		t.Fatalf("unexpected wait %v", wait)
	}

	if ok, _ := m.Allow("vote:5.6.7.8", 3); !ok {
		t.Fatalf("other keys have their own bucket")
	}

	now = now.Add(20 * time.Second)
	if ok, _ := m.Allow("vote:1.2.3.4", 3); !ok {
		t.Fatalf("bucket should refill one token every 20s")
	}
}

func TestZeroLimitDisables(t *testing.T) {
	m := NewMemory()
	for i := 0; i < 100; i++ {
		if ok, _ := m.Allow("k", 0); !ok {
			t.Fatalf("limit 0 should not block")
		}
	}
}

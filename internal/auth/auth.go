// Package auth decides which Telegram chats may open sessions.
package auth

import (
	"slices"
	"sync"
)

// Allowlist admits a fixed set of chat ids. An empty allowlist admits every
// chat.
type Allowlist struct {
	mu  sync.RWMutex
	ids map[int64]struct{}
}

func NewAllowlist(initial []int64) *Allowlist {
	a := &Allowlist{ids: make(map[int64]struct{}, len(initial))}
	for _, id := range initial {
		a.ids[id] = struct{}{}
	}
	return a
}

func (a *Allowlist) IsAllowed(chatID int64) bool {
	if a == nil {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.ids) == 0 {
		return true
	}
	_, ok := a.ids[chatID]
	return ok
}

// Open reports whether every chat is admitted.
func (a *Allowlist) Open() bool {
	if a == nil {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.ids) == 0
}

// List returns the admitted ids in ascending order.
func (a *Allowlist) List() []int64 {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	out := make([]int64, 0, len(a.ids))
	for id := range a.ids {
		out = append(out, id)
	}
	a.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Package presence tracks which users are online. An online_users
// frame is an authoritative snapshot that fully replaces the set; a
// user_status frame patches one user and inserts unknown usernames,
// since a user can come online before any snapshot arrives.
package presence

import (
	"log/slog"
	"sync"

	"github.com/haasonsaas/chatsync/internal/observability"
	"github.com/haasonsaas/chatsync/pkg/models"
)

// Tracker maintains the presence set.
type Tracker struct {
	logger   *slog.Logger
	onChange func(map[string]models.PresenceStatus)

	mu       sync.Mutex
	statuses map[string]models.PresenceStatus
}

// NewTracker creates a tracker. onChange, if non-nil, receives a copy
// of the full set after every mutation.
func NewTracker(logger *slog.Logger, onChange func(map[string]models.PresenceStatus)) *Tracker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Tracker{
		logger:   logger.With("component", "presence"),
		onChange: onChange,
		statuses: make(map[string]models.PresenceStatus),
	}
}

// ReplaceAll installs an authoritative snapshot: the listed users are
// online and everything previously known is discarded.
func (t *Tracker) ReplaceAll(users []string) {
	next := make(map[string]models.PresenceStatus, len(users))
	for _, u := range users {
		if u == "" {
			continue
		}
		next[u] = models.StatusOnline
	}

	t.mu.Lock()
	t.statuses = next
	t.mu.Unlock()

	t.logger.Debug("presence snapshot replaced", "online", len(next))
	t.notify()
}

// Patch updates a single user's status, inserting unknown usernames.
func (t *Tracker) Patch(username string, status models.PresenceStatus) {
	if username == "" {
		return
	}

	t.mu.Lock()
	if status == models.StatusOffline {
		delete(t.statuses, username)
	} else {
		t.statuses[username] = status
	}
	t.mu.Unlock()

	t.notify()
}

// IsOnline reports whether a user is currently online.
func (t *Tracker) IsOnline(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statuses[username] == models.StatusOnline
}

// Snapshot returns a copy of the presence set.
func (t *Tracker) Snapshot() map[string]models.PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]models.PresenceStatus, len(t.statuses))
	for k, v := range t.statuses {
		out[k] = v
	}
	return out
}

func (t *Tracker) notify() {
	if t.onChange == nil {
		return
	}
	t.onChange(t.Snapshot())
}

// Package friends maintains the friend list, the pending friend-request
// queues, and a debounced user search. REST state is authoritative;
// routed friend_request / friend_accepted frames only trigger reloads
// and counter deltas.
package friends

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/chatsync/internal/observability"
	"github.com/haasonsaas/chatsync/internal/protocol"
	"github.com/haasonsaas/chatsync/pkg/models"
)

const defaultSearchDebounce = 300 * time.Millisecond

// API is the slice of the REST client this store consumes.
type API interface {
	Friends(ctx context.Context) ([]models.User, error)
	FriendRequests(ctx context.Context) ([]models.FriendRequest, error)
	CreateFriendRequest(ctx context.Context, toUser string) (models.FriendRequest, error)
	UpdateFriendRequest(ctx context.Context, id string, status models.RequestStatus) (models.FriendRequest, error)
	SearchUsers(ctx context.Context, query string) ([]models.User, error)
}

// Sender emits best-effort echo frames over the transport link.
type Sender interface {
	Send(f protocol.Frame) bool
}

// Preloader receives batches of usernames for avatar resolution.
type Preloader interface {
	Resolve(ctx context.Context, usernames []string)
}

// Snapshot is the store state handed to subscribers.
type Snapshot struct {
	Friends       []models.User
	Requests      []models.FriendRequest
	PendingCount  int
	SearchQuery   string
	SearchResults []models.User
}

// Options configures a Store beyond its collaborators.
type Options struct {
	// Self is the local username; incoming pending requests are the
	// ones addressed to it.
	Self string
	// SearchDebounce is the quiet period after the last keystroke
	// before a search fires. Defaults to 300ms.
	SearchDebounce time.Duration
	// OnChange receives a snapshot after every state mutation.
	OnChange func(Snapshot)
	// OnError surfaces asynchronous failures (debounced search) that
	// have no caller to return to.
	OnError func(error)
}

// Store is the friend-graph state machine.
type Store struct {
	api     API
	link    Sender
	avatars Preloader
	logger  *slog.Logger
	opts    Options

	mu           sync.Mutex
	friends      []models.User
	requests     []models.FriendRequest
	pendingCount int

	searchSeq     uint64
	searchTimer   *time.Timer
	searchQuery   string
	searchResults []models.User
}

// NewStore creates a store. link and avatars may be nil.
func NewStore(api API, link Sender, avatars Preloader, logger *slog.Logger, opts Options) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = defaultSearchDebounce
	}
	return &Store{
		api:     api,
		link:    link,
		avatars: avatars,
		logger:  logger.With("component", "friends"),
		opts:    opts,
	}
}

// LoadFriends fetches the confirmed friend list.
func (s *Store) LoadFriends(ctx context.Context) error {
	list, err := s.api.Friends(ctx)
	if err != nil {
		return fmt.Errorf("load friends: %w", err)
	}

	s.mu.Lock()
	s.friends = list
	s.mu.Unlock()

	s.preload(ctx, usernamesOf(list))
	s.notify()
	return nil
}

// LoadFriendRequests fetches the request queues. The pending counter is
// recomputed from the authoritative list here; the +1/-n deltas applied
// by frame and respond handlers only bridge the gap between reloads, so
// the counter cannot drift under rapid concurrent accept/reject.
func (s *Store) LoadFriendRequests(ctx context.Context) error {
	list, err := s.api.FriendRequests(ctx)
	if err != nil {
		return fmt.Errorf("load friend requests: %w", err)
	}

	pending := 0
	var names []string
	for _, r := range list {
		if r.Status == models.RequestPending && r.ToUser == s.opts.Self {
			pending++
		}
		names = append(names, r.FromUser)
	}

	s.mu.Lock()
	s.requests = list
	s.pendingCount = pending
	s.mu.Unlock()

	s.preload(ctx, names)
	s.notify()
	return nil
}

// SendFriendRequest creates a request via REST and echoes it to peers.
// A duplicate request to an already-pending or already-friend target
// comes back as a validation-class error for the UI to surface; it is
// never retried here.
func (s *Store) SendFriendRequest(ctx context.Context, toUser string) (models.FriendRequest, error) {
	req, err := s.api.CreateFriendRequest(ctx, toUser)
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("send friend request: %w", err)
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	s.notify()

	if s.link != nil {
		s.link.Send(protocol.MustNew(protocol.KindFriendRequest, protocol.FriendRequestData{
			ID:       req.ID,
			FromUser: req.FromUser,
			ToUser:   req.ToUser,
		}))
	}
	return req, nil
}

// RespondToFriendRequest resolves one pending request. The pending
// counter decrements by exactly the number of requests resolved in this
// action (one), never a blanket reset, since other unresolved requests
// may remain. Accepting also reloads the friend list.
func (s *Store) RespondToFriendRequest(ctx context.Context, id string, accept bool) error {
	status := models.RequestRejected
	if accept {
		status = models.RequestAccepted
	}

	updated, err := s.api.UpdateFriendRequest(ctx, id, status)
	if err != nil {
		return fmt.Errorf("respond to friend request %s: %w", id, err)
	}

	s.mu.Lock()
	resolved := 0
	for i, r := range s.requests {
		if r.ID == id && r.Status == models.RequestPending {
			s.requests[i] = updated
			if r.ToUser == s.opts.Self {
				resolved++
			}
		}
	}
	s.pendingCount -= resolved
	if s.pendingCount < 0 {
		s.pendingCount = 0
	}
	s.mu.Unlock()
	s.notify()

	if accept {
		if err := s.LoadFriends(ctx); err != nil {
			s.logger.Warn("friend list reload failed", "error", err)
		}
	}
	return nil
}

// SearchUsers schedules a debounced user search. Each call supersedes
// any pending or in-flight one: the winner is decided by sequence
// identity at resolution time, so a slow response for an abandoned
// query can never overwrite results of a newer one. An empty query
// clears results immediately.
func (s *Store) SearchUsers(ctx context.Context, query string) {
	s.mu.Lock()
	s.searchSeq++
	seq := s.searchSeq
	if s.searchTimer != nil {
		s.searchTimer.Stop()
		s.searchTimer = nil
	}
	if query == "" {
		s.searchQuery = ""
		s.searchResults = nil
		s.mu.Unlock()
		s.notify()
		return
	}
	s.searchTimer = time.AfterFunc(s.opts.SearchDebounce, func() {
		s.runSearch(ctx, seq, query)
	})
	s.mu.Unlock()
}

func (s *Store) runSearch(ctx context.Context, seq uint64, query string) {
	s.mu.Lock()
	if seq != s.searchSeq {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	results, err := s.api.SearchUsers(ctx, query)

	s.mu.Lock()
	if seq != s.searchSeq {
		// Superseded while the request was in flight.
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("user search failed", "query", query, "error", err)
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		return
	}
	s.searchQuery = query
	s.searchResults = results
	s.mu.Unlock()
	s.notify()
}

// HandleFriendRequestEvent reacts to a routed friend_request frame: the
// pending counter bumps by one for immediate feedback and the request
// queue is re-pulled from REST.
func (s *Store) HandleFriendRequestEvent(ctx context.Context, ev protocol.FriendRequestData) {
	s.mu.Lock()
	if ev.ToUser == "" || ev.ToUser == s.opts.Self {
		s.pendingCount++
	}
	s.mu.Unlock()
	s.notify()

	if err := s.LoadFriendRequests(ctx); err != nil {
		s.logger.Warn("friend request reload failed", "error", err)
	}
}

// HandleFriendAcceptedEvent reacts to a routed friend_accepted frame.
// Acceptance is not a pending item needing attention, so only the
// friend list reloads; the counter is untouched.
func (s *Store) HandleFriendAcceptedEvent(ctx context.Context, _ protocol.FriendAcceptedData) {
	if err := s.LoadFriends(ctx); err != nil {
		s.logger.Warn("friend list reload failed", "error", err)
	}
}

// PendingCount returns the unread friend-request counter.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCount
}

// Snapshot returns a copy of the store state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	friends := make([]models.User, len(s.friends))
	copy(friends, s.friends)
	requests := make([]models.FriendRequest, len(s.requests))
	copy(requests, s.requests)
	results := make([]models.User, len(s.searchResults))
	copy(results, s.searchResults)
	return Snapshot{
		Friends:       friends,
		Requests:      requests,
		PendingCount:  s.pendingCount,
		SearchQuery:   s.searchQuery,
		SearchResults: results,
	}
}

// Close cancels any pending debounce timer.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchSeq++
	if s.searchTimer != nil {
		s.searchTimer.Stop()
		s.searchTimer = nil
	}
}

func (s *Store) preload(ctx context.Context, names []string) {
	if s.avatars == nil || len(names) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(names))
	var dedup []string
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		dedup = append(dedup, n)
	}
	if len(dedup) > 0 {
		s.avatars.Resolve(ctx, dedup)
	}
}

func (s *Store) notify() {
	if s.opts.OnChange == nil {
		return
	}
	s.opts.OnChange(s.Snapshot())
}

func usernamesOf(users []models.User) []string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return names
}

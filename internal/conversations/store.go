// Package conversations maintains the conversation list, per-
// conversation unread counters, and the message buffer of the focused
// conversation. REST is the source of truth; pushed message frames are
// invalidation signals only. Writes follow confirm-then-notify: the
// REST call must succeed before the local update and the best-effort
// echo frame, so peers never observe a message the sender failed to
// persist.
package conversations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/chatsync/internal/cache"
	"github.com/haasonsaas/chatsync/internal/observability"
	"github.com/haasonsaas/chatsync/internal/protocol"
	"github.com/haasonsaas/chatsync/pkg/models"
)

// API is the slice of the REST client this store consumes.
type API interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, participants []string) (models.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, conversationID, content string, msgType models.MessageType) (models.Message, error)
}

// Sender emits best-effort echo frames over the transport link.
type Sender interface {
	Send(f protocol.Frame) bool
}

// Preloader receives batches of usernames for avatar resolution.
type Preloader interface {
	Resolve(ctx context.Context, usernames []string)
}

// Snapshot is the store state handed to subscribers. Unread counters
// are overlaid onto the conversation list.
type Snapshot struct {
	Conversations []models.Conversation
	Focused       string
	Messages      []models.Message
}

// Store is the conversation state machine.
type Store struct {
	api      API
	link     Sender
	avatars  Preloader
	logger   *slog.Logger
	onChange func(Snapshot)
	dedupe   *cache.DedupeCache

	mu            sync.Mutex
	conversations []models.Conversation
	unread        map[string]int
	focused       string
	messages      []models.Message
}

// NewStore creates a store. link and avatars may be nil (echoes and
// preloads become no-ops); onChange, if non-nil, receives a snapshot
// after every state mutation.
func NewStore(api API, link Sender, avatars Preloader, logger *slog.Logger, onChange func(Snapshot)) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{
		api:      api,
		link:     link,
		avatars:  avatars,
		logger:   logger.With("component", "conversations"),
		onChange: onChange,
		dedupe:   cache.NewDedupeCache(5*time.Minute, 2048),
		unread:   make(map[string]int),
	}
}

// LoadConversations fetches the conversation list and replaces the
// local copy. Every distinct participant is submitted to the avatar
// cache in one deduplicated batch.
func (s *Store) LoadConversations(ctx context.Context) error {
	convs, err := s.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	s.mu.Lock()
	s.conversations = convs
	s.mu.Unlock()

	s.preloadParticipants(ctx, convs)
	s.notify()
	return nil
}

// LoadMessages fetches the message buffer for a conversation. The
// result is discarded if focus moved elsewhere while the request was in
// flight, so a stale load can never overwrite the newer conversation's
// buffer.
func (s *Store) LoadMessages(ctx context.Context, conversationID string) error {
	msgs, err := s.api.Messages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load messages %s: %w", conversationID, err)
	}

	s.mu.Lock()
	if s.focused != conversationID {
		s.mu.Unlock()
		s.logger.Debug("discarding stale message load", "conversation", conversationID)
		return nil
	}
	s.messages = msgs
	s.mu.Unlock()

	s.preloadSenders(ctx, msgs)
	s.notify()
	return nil
}

// StartConversation explicitly creates a conversation and refreshes the
// list.
func (s *Store) StartConversation(ctx context.Context, participants []string) (models.Conversation, error) {
	conv, err := s.api.CreateConversation(ctx, participants)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("start conversation: %w", err)
	}
	if err := s.LoadConversations(ctx); err != nil {
		s.logger.Warn("conversation list refresh failed", "error", err)
	}
	return conv, nil
}

// SendMessage persists a message via REST, applies the local update,
// refreshes the conversation summaries, and finally echoes the
// persisted message to connected peers. The echo reuses the
// server-assigned id and is best-effort; REST success is a strict
// precondition for it.
func (s *Store) SendMessage(ctx context.Context, conversationID, content string, msgType models.MessageType) (models.Message, error) {
	msg, err := s.api.CreateMessage(ctx, conversationID, content, msgType)
	if err != nil {
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}

	// The echoed copy of our own message must not bump unread or force
	// a redundant reload when it comes back around.
	s.dedupe.Check(cache.MessageKey(msg.ConversationID, msg.ID))

	s.mu.Lock()
	if s.focused == conversationID {
		s.appendLocked(msg)
	}
	s.mu.Unlock()
	s.notify()

	if err := s.LoadConversations(ctx); err != nil {
		s.logger.Warn("conversation list refresh failed", "error", err)
	}

	if s.link != nil {
		s.link.Send(protocol.MustNew(protocol.KindMessage, protocol.MessageData{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			Content:        msg.Content,
			Type:           string(msg.Type),
		}))
	}
	return msg, nil
}

// Focus marks a conversation as the one on screen: its unread counter
// resets to exactly zero and its messages are (re)loaded. Passing the
// already-focused id is a cheap refresh; passing "" clears focus.
func (s *Store) Focus(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.focused = conversationID
	if conversationID != "" {
		delete(s.unread, conversationID)
	} else {
		s.messages = nil
	}
	s.mu.Unlock()
	s.notify()

	if conversationID == "" {
		return nil
	}
	return s.LoadMessages(ctx, conversationID)
}

// HandleMessageEvent reacts to a routed message frame. For the focused
// conversation the frame is an invalidation signal and the buffer is
// re-pulled; frame content is never trusted as message truth since it
// may be partial or precede persistence. For any other conversation the
// unread counter increments by one in a single merge update.
func (s *Store) HandleMessageEvent(ctx context.Context, ev protocol.MessageData) {
	if s.dedupe.Check(cache.MessageKey(ev.ConversationID, ev.ID)) {
		s.logger.Debug("duplicate message frame ignored", "message", ev.ID)
		return
	}

	s.mu.Lock()
	focused := s.focused == ev.ConversationID
	if !focused {
		s.unread[ev.ConversationID]++
	}
	s.mu.Unlock()

	if !focused {
		s.notify()
		return
	}
	if err := s.LoadMessages(ctx, ev.ConversationID); err != nil {
		s.logger.Warn("message reload failed", "conversation", ev.ConversationID, "error", err)
	}
}

// Unread returns the unread counter for a conversation.
func (s *Store) Unread(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[conversationID]
}

// Snapshot returns a copy of the store state with unread counters
// overlaid on the conversation summaries.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	convs := make([]models.Conversation, len(s.conversations))
	copy(convs, s.conversations)
	for i := range convs {
		convs[i].UnreadCount = s.unread[convs[i].ID]
	}
	msgs := make([]models.Message, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		Conversations: convs,
		Focused:       s.focused,
		Messages:      msgs,
	}
}

// appendLocked adds a message to the focused buffer, idempotent against
// a duplicate id (a pushed frame can race the REST create that made
// it).
func (s *Store) appendLocked(msg models.Message) {
	for _, existing := range s.messages {
		if existing.ID == msg.ID {
			return
		}
	}
	s.messages = append(s.messages, msg)
}

func (s *Store) preloadParticipants(ctx context.Context, convs []models.Conversation) {
	if s.avatars == nil {
		return
	}
	seen := make(map[string]struct{})
	var names []string
	for _, c := range convs {
		for _, p := range c.Participants {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			names = append(names, p)
		}
	}
	if len(names) > 0 {
		s.avatars.Resolve(ctx, names)
	}
}

func (s *Store) preloadSenders(ctx context.Context, msgs []models.Message) {
	if s.avatars == nil {
		return
	}
	seen := make(map[string]struct{})
	var names []string
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		names = append(names, m.SenderID)
	}
	if len(names) > 0 {
		s.avatars.Resolve(ctx, names)
	}
}

func (s *Store) notify() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.Snapshot())
}

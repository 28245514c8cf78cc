// Package chat is the composition root of the sync engine. A
// Controller owns exactly one transport link and its frame router,
// wires the presence tracker, conversation store, friend-graph store,
// and the shared avatar cache together, and exposes the single surface
// the UI layer consumes. Opening another chat surface reuses the
// controller; it never creates a second socket.
package chat

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/haasonsaas/chatsync/internal/avatars"
	"github.com/haasonsaas/chatsync/internal/backoff"
	"github.com/haasonsaas/chatsync/internal/config"
	"github.com/haasonsaas/chatsync/internal/conversations"
	"github.com/haasonsaas/chatsync/internal/friends"
	"github.com/haasonsaas/chatsync/internal/observability"
	"github.com/haasonsaas/chatsync/internal/presence"
	"github.com/haasonsaas/chatsync/internal/protocol"
	"github.com/haasonsaas/chatsync/internal/rest"
	"github.com/haasonsaas/chatsync/internal/router"
	"github.com/haasonsaas/chatsync/internal/transport"
	"github.com/haasonsaas/chatsync/pkg/models"
)

// restTimeout bounds REST calls triggered by pushed frames, which have
// no interactive caller to cancel them.
const restTimeout = 15 * time.Second

// Events are the subscription callbacks the UI layer registers. All
// callbacks are optional and fire off the UI's goroutine.
type Events struct {
	OnConversations func(conversations.Snapshot)
	OnFriends       func(friends.Snapshot)
	OnPresence      func(map[string]models.PresenceStatus)
	OnAvatars       func(map[string]*string)
	OnLinkStatus    func(transport.Status)
	OnError         func(error)
}

// Options carries the injectable collaborators. Zero values select the
// production implementations.
type Options struct {
	// Dialer overrides the websocket dialer (tests).
	Dialer transport.Dialer
	// HTTPClient overrides the REST transport; the environment attaches
	// the ambient session credential to it.
	HTTPClient *http.Client
	// Logger defaults to a no-op logger.
	Logger *slog.Logger
	// Metrics may be nil to run unmetered.
	Metrics *observability.Metrics
	// Events are the UI subscriptions.
	Events Events
}

// Controller is the engine instance behind one chat surface.
type Controller struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	events  Events

	link          *transport.Link
	router        *router.Router
	presence      *presence.Tracker
	conversations *conversations.Store
	friends       *friends.Store
	avatars       *avatars.Cache

	mu      sync.Mutex
	enabled bool
}

// New wires a controller from configuration.
func New(cfg config.Config, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	c := &Controller{
		cfg:     cfg,
		logger:  logger.With("component", "chat"),
		metrics: opts.Metrics,
		events:  opts.Events,
	}

	api := rest.NewClient(cfg.Server.APIBaseURL, opts.HTTPClient, logger, opts.Metrics)

	c.avatars = avatars.NewCache(api, logger, opts.Events.OnAvatars)
	c.presence = presence.NewTracker(logger, opts.Events.OnPresence)

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &transport.WebsocketDialer{}
	}
	c.link = transport.NewLink(
		transport.Config{
			URL:               cfg.Server.WebsocketURL,
			DialTimeout:       cfg.Transport.DialTimeout,
			HeartbeatInterval: cfg.Transport.HeartbeatInterval,
			MaxAttempts:       cfg.Transport.Reconnect.MaxAttempts,
			Backoff: backoff.Policy{
				Initial: cfg.Transport.Reconnect.InitialDelay,
				Floor:   cfg.Transport.Reconnect.MinDelay,
				Max:     cfg.Transport.Reconnect.MaxDelay,
				Factor:  cfg.Transport.Reconnect.Factor,
				Jitter:  cfg.Transport.Reconnect.Jitter,
			},
		},
		dialer,
		transport.Handlers{
			OnOpen:        c.onOpen,
			OnFrame:       c.onFrame,
			OnClose:       c.onClose,
			OnStateChange: opts.Events.OnLinkStatus,
		},
		logger,
		opts.Metrics,
	)

	c.conversations = conversations.NewStore(api, c.link, c.avatars, logger, opts.Events.OnConversations)
	c.friends = friends.NewStore(api, c.link, c.avatars, logger, friends.Options{
		Self:           cfg.Server.UserID,
		SearchDebounce: cfg.Search.Debounce,
		OnChange:       opts.Events.OnFriends,
		OnError:        opts.Events.OnError,
	})

	c.router = router.New(c, logger, opts.Metrics)
	return c
}

// SetEnabled gates the link on chat-surface visibility. Enabling while
// already enabled is a no-op, so a second surface opening reuses the
// live link.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	if c.enabled == enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = enabled
	c.mu.Unlock()

	if enabled {
		c.link.Connect()
		return
	}
	c.friends.Close()
	c.link.Disconnect()
}

// Conversations exposes the conversation store to the UI.
func (c *Controller) Conversations() *conversations.Store { return c.conversations }

// Friends exposes the friend-graph store to the UI.
func (c *Controller) Friends() *friends.Store { return c.friends }

// Presence exposes the presence tracker to the UI.
func (c *Controller) Presence() *presence.Tracker { return c.presence }

// Avatars exposes the shared avatar cache to the UI.
func (c *Controller) Avatars() *avatars.Cache { return c.avatars }

// LinkStatus returns the transport snapshot for the connection
// indicator.
func (c *Controller) LinkStatus() transport.Status { return c.link.Status() }

// onOpen announces the local user on every (re)open. State loads wait
// for the backend's connection_confirmed frame.
func (c *Controller) onOpen() {
	c.link.Send(protocol.MustNew(protocol.KindUserConnect, protocol.UserConnectData{
		UserID: c.cfg.Server.UserID,
	}))
}

func (c *Controller) onFrame(raw []byte) {
	c.router.Route(raw)
}

func (c *Controller) onClose(err error) {
	if err == nil {
		return
	}
	c.logger.Debug("link closed", "error", err)
	if c.events.OnError != nil && transport.IsTerminal(err) {
		c.events.OnError(err)
	}
}

// background runs fn with a bounded context off the transport read
// loop, so a slow REST call cannot stall frame delivery.
func (c *Controller) background(fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// HandleMessage implements router.Handler.
func (c *Controller) HandleMessage(ev protocol.MessageData) {
	c.background(func(ctx context.Context) {
		c.conversations.HandleMessageEvent(ctx, ev)
	})
}

// HandleFriendRequest implements router.Handler.
func (c *Controller) HandleFriendRequest(ev protocol.FriendRequestData) {
	c.background(func(ctx context.Context) {
		c.friends.HandleFriendRequestEvent(ctx, ev)
	})
}

// HandleFriendAccepted implements router.Handler.
func (c *Controller) HandleFriendAccepted(ev protocol.FriendAcceptedData) {
	c.background(func(ctx context.Context) {
		c.friends.HandleFriendAcceptedEvent(ctx, ev)
	})
}

// HandleUserStatus implements router.Handler.
func (c *Controller) HandleUserStatus(ev protocol.UserStatusData) {
	status := models.PresenceStatus(ev.Status)
	if status != models.StatusOnline && status != models.StatusOffline {
		c.logger.Debug("ignoring unknown presence status", "status", ev.Status)
		return
	}
	c.presence.Patch(ev.UserID, status)
}

// HandleOnlineUsers implements router.Handler.
func (c *Controller) HandleOnlineUsers(ev protocol.OnlineUsersData) {
	c.presence.ReplaceAll(ev.Users)
}

// HandleConnectionConfirmed implements router.Handler: the backend has
// registered the identity announcement, so the initial state loads
// fire. Loads from different stores carry no cross-store ordering
// guarantee and may resolve in any order.
func (c *Controller) HandleConnectionConfirmed() {
	c.background(func(ctx context.Context) {
		if err := c.conversations.LoadConversations(ctx); err != nil {
			c.surface(err)
		}
	})
	c.background(func(ctx context.Context) {
		if err := c.friends.LoadFriends(ctx); err != nil {
			c.surface(err)
		}
	})
	c.background(func(ctx context.Context) {
		if err := c.friends.LoadFriendRequests(ctx); err != nil {
			c.surface(err)
		}
	})
}

func (c *Controller) surface(err error) {
	c.logger.Warn("initial load failed", "error", err)
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
}

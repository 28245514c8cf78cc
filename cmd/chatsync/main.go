// Package main provides the chatsync CLI: a headless instance of the
// presence and conversation synchronization engine, used for soak
// testing a backend and for diagnosing connection behavior outside the
// UI.
//
// Start an engine against a backend:
//
//	chatsync run --config chatsync.yaml
//
// The run command connects the transport link, announces the configured
// user, and logs every state change the engine observes until
// interrupted.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chatsync/internal/chat"
	"github.com/haasonsaas/chatsync/internal/config"
	"github.com/haasonsaas/chatsync/internal/conversations"
	"github.com/haasonsaas/chatsync/internal/friends"
	"github.com/haasonsaas/chatsync/internal/observability"
	"github.com/haasonsaas/chatsync/internal/transport"
	"github.com/haasonsaas/chatsync/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := &cobra.Command{
		Use:          "chatsync",
		Short:        "Real-time presence and conversation sync engine",
		SilenceUsage: true,
	}

	var configPath string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a headless engine instance until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "chatsync.yaml", "path to configuration file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chatsync %s (%s)\n", version, commit)
		},
	}

	root.AddCommand(runCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	controller := chat.New(cfg, chat.Options{
		Logger:  logger,
		Metrics: metrics,
		Events: chat.Events{
			OnLinkStatus: func(st transport.Status) {
				logger.Info("link status",
					"state", string(st.State),
					"attempt", st.Attempt,
					"exhausted", st.Exhausted)
			},
			OnConversations: func(snap conversations.Snapshot) {
				logger.Info("conversations updated", "count", len(snap.Conversations))
			},
			OnFriends: func(snap friends.Snapshot) {
				logger.Info("friend graph updated",
					"friends", len(snap.Friends),
					"pending_requests", snap.PendingCount)
			},
			OnPresence: func(set map[string]models.PresenceStatus) {
				logger.Info("presence updated", "online", len(set))
			},
			OnAvatars: func(batch map[string]*string) {
				if data, err := json.Marshal(keysOf(batch)); err == nil {
					logger.Debug("avatars resolved", "usernames", string(data))
				}
			},
			OnError: func(err error) {
				logger.Error("engine error", "error", err)
			},
		},
	})

	controller.SetEnabled(true)
	defer controller.SetEnabled(false)

	logger.Info("engine running", "user", cfg.Server.UserID, "backend", cfg.Server.WebsocketURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	return nil
}

func keysOf(m map[string]*string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brunoga/plank/internal/client"
	"github.com/brunoga/plank/internal/drag"
	"github.com/brunoga/plank/internal/notify"
	"github.com/brunoga/plank/internal/storage"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "plank",
		Short:        "Kanban board server with optimistic drag and drop",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newMoveCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "plank", version)
		},
	}
}

// newMoveCmd confirms a move against a running server, the way a session
// does at drop.
func newMoveCmd() *cobra.Command {
	var (
		server string
		req    drag.MoveRequest
	)
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move a card on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client.New(server).ConfirmMove(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("move rejected: %s", res.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %s to %s at %g\n", req.CardID, req.TargetListID, req.NewPosition)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&server, "server", "http://localhost:8080", "server base URL")
	fs.StringVar(&req.CardID, "card", "", "card to move")
	fs.StringVar(&req.TargetListID, "list", "", "target list")
	fs.Float64Var(&req.NewPosition, "position", 1, "position in the target list")
	cmd.MarkFlagRequired("card")
	cmd.MarkFlagRequired("list")
	return cmd
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		flags      Config
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the board over HTTP and websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("addr") {
				cfg.Addr = flags.Addr
			}
			if fs.Changed("db") {
				cfg.DBPath = flags.DBPath
			}
			if fs.Changed("board") {
				cfg.BoardID = flags.BoardID
			}
			if fs.Changed("redis") {
				cfg.RedisURL = flags.RedisURL
			}
			if fs.Changed("rollback") {
				cfg.Rollback = flags.Rollback
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&flags.Addr, "addr", "", "http service address")
	fs.StringVar(&flags.DBPath, "db", "", "path to sqlite database")
	fs.StringVar(&flags.BoardID, "board", "", "board served at /")
	fs.StringVar(&flags.RedisURL, "redis", "", "redis URL for cross-instance events")
	fs.StringVar(&flags.Rollback, "rollback", "", "rollback policy: latest or naive")
	return cmd
}

func serve(ctx context.Context, cfg Config) error {
	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	node := uuid.New().String()
	logger := log.WithField("node", node[:8])

	repo, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.Seed(ctx, cfg.BoardID, cfg.BoardTitle); err != nil {
		return err
	}

	hub := notify.NewHub(cfg.IdleTimeout)
	go hub.Run(ctx, cfg.IdleTimeout/2)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		relay := notify.NewRedisRelay(client, cfg.RedisChannel, node)
		if err := relay.Start(ctx, hub); err != nil {
			return err
		}
		defer relay.Close()
		hub.SetRelay(relay)
		logger.WithField("channel", cfg.RedisChannel).Info("relaying board events through redis")
	}

	srv := NewServer(cfg, repo, hub, node)
	errc := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"addr":     cfg.Addr,
			"board":    cfg.BoardID,
			"rollback": cfg.Policy().String(),
		}).Info("plank starting")
		errc <- srv.Start(cfg.Addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ConfirmTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

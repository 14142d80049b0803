package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mpontes/wavault/internal/api"
	"github.com/mpontes/wavault/internal/digest"
	"github.com/mpontes/wavault/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server with live streaming and scheduled digests",
	Long: `Run wavault as a long-running daemon serving the HTTP API.

The daemon runs in the foreground and provides:
  - REST endpoints for message queries, chats, context and analysis
  - WebSocket streaming of new messages at /ws/messages
  - Scheduled conversation digests

Configure digests in config.toml:
  [[digests]]
  schedule = "0 6 * * *"   # daily summary at 6am (cron format)
  enabled = true

  [[digests]]
  chat_jid = "5511999999999@s.whatsapp.net"
  schedule = "0 8 * * 1"   # weekly, Monday 8am
  days = 7
  enabled = true

Cron format: minute hour day-of-month month day-of-week

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	analyzer := newAnalyzer(st)

	detector := watch.NewDetector(st, watchConfig(), logger)
	broadcaster := watch.NewBroadcaster(detector, cfg.Watch.QueueSize, logger)

	sched := digest.New(analyzer, logger)
	scheduled := 0
	for _, d := range cfg.EnabledDigests() {
		var err error
		if d.ChatJID == "" {
			err = sched.AddDaily(d.Schedule)
		} else {
			err = sched.AddContact(d.ChatJID, d.Schedule, d.Days)
		}
		if err != nil {
			logger.Error("failed to schedule digest", "chat_jid", d.ChatJID, "error", err)
			continue
		}
		scheduled++
	}
	sched.Start()

	apiServer := api.NewServer(cfg, st, analyzer, sched, broadcaster, logger)

	fmt.Printf("wavault daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Bridge database: %s\n", cfg.DatabasePath())
	fmt.Printf("  Scheduled digests: %d\n", scheduled)
	fmt.Println()
	for _, status := range sched.StatusAll() {
		fmt.Printf("  %s: next run at %s\n", status.Name, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println("Press Ctrl+C to stop.")

	g, gctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("api server shutdown", "error", err)
		}

		schedCtx := sched.Stop()
		select {
		case <-schedCtx.Done():
		case <-time.After(30 * time.Second):
			logger.Warn("digest shutdown timed out")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return cmd.Context().Err()
}

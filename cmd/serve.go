/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"insightfeed/backend"
	"insightfeed/feeds"
	"insightfeed/poller"
	"insightfeed/server"
)

// serveCmd represents the serve command
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the insight feed",
		Description: `Starts the insight feed HTTP server and the background refresh loop.

Loads both collections from the analysis backend on startup and keeps the
merged feed up to date while items are processing. The feed is served as
JSON, pushed to Server-Sent Events clients on every change, and new
transcripts or LinkedIn profiles can be submitted through the same API.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				EnvVars: []string{"INSIGHTFEED_PORT"},
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Interval between background refreshes while items are processing",
				EnvVars: []string{"INSIGHTFEED_POLL_INTERVAL"},
			},
			&cli.StringFlag{
				Name:    "allow-origins",
				Usage:   "Comma separated CORS origins",
				EnvVars: []string{"INSIGHTFEED_ALLOW_ORIGINS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg := configFrom(ctx)
			if ctx.IsSet("port") {
				cfg.Server.Port = ctx.Int("port")
			}
			if ctx.IsSet("poll-interval") {
				cfg.Poll.Interval.Duration = ctx.Duration("poll-interval")
			}
			if ctx.IsSet("allow-origins") {
				cfg.Server.AllowOrigins = ctx.String("allow-origins")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log.WithFields(log.Fields{
				"backend":  cfg.Backend.URL,
				"port":     cfg.Server.Port,
				"interval": cfg.Poll.Interval.Duration,
			}).Info("Starting insightfeed")

			client := newBackendClient(cfg)
			bc := server.NewBroadcaster()
			controller := poller.NewController(newAggregator(client), poller.Config{
				Interval:     cfg.Poll.Interval.Duration,
				CycleTimeout: cfg.Poll.CycleTimeout.Duration,
				OnChange:     bc.Broadcast,
			})

			app := server.Server(&server.ServerConfig{
				Feed:         controller,
				Submitter:    client,
				Broadcaster:  bc,
				AllowOrigins: cfg.Server.AllowOrigins,
			})

			// Graceful shutdown
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			controller.Start()

			listenErr := make(chan error, 1)
			go func() {
				log.Info("Starting server...")
				listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.Server.Port))
			}()

			var err error
			select {
			case <-sigs:
				log.Info("Gracefully shutting down...")
			case err = <-listenErr:
				log.WithError(err).Error("Server stopped")
			}

			// Ends open SSE streams so the server can drain
			bc.Shutdown()
			if shutdownErr := app.ShutdownWithTimeout(60 * time.Second); shutdownErr != nil {
				log.WithError(shutdownErr).Warn("Server shutdown")
			}
			controller.Close()

			log.Info("Done!")
			return err
		},
	}
}

func newAggregator(client *backend.Client) *feeds.Aggregator {
	return feeds.NewAggregator(
		feeds.NewTranscriptSource(client),
		feeds.NewLinkedInSource(client),
	)
}

/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"insightfeed/backend"
	"insightfeed/config"
)

const configKey = "config"

func RootApp() *cli.App {
	return &cli.App{
		Name:  "insightfeed",
		Usage: "A unified feed of call transcript and LinkedIn insights",
		Description: `Insightfeed keeps a single, newest first feed of the call transcript
		insights and LinkedIn icebreakers produced by the analysis backend.

		Both collections are fetched concurrently and merged. When one of them is
		unavailable the other is still shown with a warning. While any item is still
		being processed the feed is refreshed in the background every poll interval.

		Flags can generally be set via environment variables, e.g.:

		--backend-url => INSIGHTFEED_BACKEND_URL=http://127.0.0.1:8000
		--port => INSIGHTFEED_PORT=3000
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML configuration file",
				EnvVars: []string{"INSIGHTFEED_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "backend-url",
				Aliases: []string{"b"},
				Usage:   "Base URL of the analysis backend",
				EnvVars: []string{"INSIGHTFEED_BACKEND_URL"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error)",
				EnvVars: []string{"INSIGHTFEED_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text or json)",
				EnvVars: []string{"INSIGHTFEED_LOG_FORMAT"},
			},
		},
		Before: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}

			if ctx.IsSet("backend-url") {
				cfg.Backend.URL = ctx.String("backend-url")
			}
			if ctx.IsSet("log-level") {
				cfg.Log.Level = ctx.String("log-level")
			}
			if ctx.IsSet("log-format") {
				cfg.Log.Format = ctx.String("log-format")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := setupLogging(cfg.Log); err != nil {
				return err
			}

			if ctx.App.Metadata == nil {
				ctx.App.Metadata = map[string]interface{}{}
			}
			ctx.App.Metadata[configKey] = cfg
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			feedCmd(),
			submitCmd(),
			watchCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// Execute runs the root app with the process arguments
func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogging(cfg config.TomlLog) error {
	// Logs never go to stdout, feed output does
	log.SetOutput(os.Stderr)

	if cfg.Level != "" {
		level, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		log.SetLevel(level)
	}

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// configFrom returns the configuration loaded by the Before hook
func configFrom(ctx *cli.Context) *config.TomlConfig {
	if cfg, ok := ctx.App.Metadata[configKey].(*config.TomlConfig); ok {
		return cfg
	}
	return config.Default()
}

func newBackendClient(cfg *config.TomlConfig) *backend.Client {
	return backend.NewClient(cfg.Backend.URL,
		backend.WithTimeout(cfg.Backend.Timeout.Duration),
		backend.WithUserAgent(cfg.Backend.UserAgent),
	)
}

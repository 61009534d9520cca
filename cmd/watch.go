/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"insightfeed/models"
)

var errStreamClosed = errors.New("feed stream closed by server")

// watchCmd follows the SSE stream of a running server
func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow the live feed of a running server",
		Description: `Connects to the Server-Sent Events stream of a running insightfeed
server and prints one summary line per feed snapshot.

Reconnects with exponential backoff when the stream drops. Stop with Ctrl+C.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://127.0.0.1:3000",
				Usage:   "Base URL of the insightfeed server",
				EnvVars: []string{"INSIGHTFEED_SERVER"},
			},
		},
		Action: func(ctx *cli.Context) error {
			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return watch(sigCtx, http.DefaultClient, ctx.String("server"), os.Stdout)
		},
	}
}

// watch streams feed summaries to out until ctx is done
func watch(ctx context.Context, client *http.Client, serverURL string, out io.Writer) error {
	// Set up exponential backoff for reconnection attempts
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 1.5
	b.MaxElapsedTime = 0 // Never stop retrying

	url := strings.TrimRight(serverURL, "/") + "/api/feed/sse"

	for {
		err := stream(ctx, client, url, out, b.Reset)
		if ctx.Err() != nil {
			return nil
		}

		wait := b.NextBackOff()
		log.WithFields(log.Fields{
			"url":   url,
			"retry": wait,
		}).WithError(err).Warn("Feed stream dropped, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// stream reads a single SSE connection. connected is called once the server
// accepted the stream.
func stream(ctx context.Context, client *http.Client, url string, out io.Writer, connected func()) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("could not connect to feed stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed stream returned %d", resp.StatusCode)
	}
	connected()

	err = readEvents(resp.Body, func(event, data string) error {
		switch event {
		case "init":
			log.WithField("key", data).Info("Connected to feed stream")
		case "feed":
			var state models.FeedState
			if err := json.Unmarshal([]byte(data), &state); err != nil {
				return fmt.Errorf("decode feed event: %w", err)
			}
			if _, err := fmt.Fprintln(out, summarize(state)); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return errStreamClosed
	}
	return err
}

// readEvents calls fn for every complete event in r. It returns nil when r
// ends.
func readEvents(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" || len(data) > 0 {
				if event == "" {
					event = "message"
				}
				if err := fn(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
			// Comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

func summarize(state models.FeedState) string {
	stamp := "-"
	if !state.UpdatedAt.IsZero() {
		stamp = state.UpdatedAt.Local().Format(time.DateTime)
	}

	parts := []string{
		stamp,
		fmt.Sprintf("%d items", len(state.Items)),
		fmt.Sprintf("%d processing", state.Processing()),
	}
	if state.Busy() {
		parts = append(parts, "refreshing")
	}
	if state.Message != "" {
		parts = append(parts, fmt.Sprintf("%s: %s", state.Severity, state.Message))
	}
	return strings.Join(parts, " | ")
}

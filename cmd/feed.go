/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"insightfeed/feeds"
	"insightfeed/models"
)

// feedCmd prints the merged feed once
func feedCmd() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Print the merged feed once",
		Description: `Fetches both collections from the analysis backend and prints the
merged feed, newest first.

Returns each item as a JSON object on a single line. Use a tool like jq to process
the output.

A partial failure is reported on stderr and the remaining items are printed.
Exits with a non-zero status when every collection failed to load.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Only print items of these kinds (transcript, linkedin), comma separated",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Only print items with this status (processing, completed)",
			},
			&cli.StringFlag{
				Name:  "keywords",
				Usage: "Only print items containing one of these keywords, comma separated",
			},
			&cli.StringFlag{
				Name:  "exclude-keywords",
				Usage: "Skip items containing one of these keywords, comma separated",
			},
		},
		Action: func(ctx *cli.Context) error {
			filters, err := feeds.FilterOptions{
				Kinds:   ctx.String("kind"),
				Status:  ctx.String("status"),
				Include: ctx.String("keywords"),
				Exclude: ctx.String("exclude-keywords"),
			}.Filters()
			if err != nil {
				return err
			}

			cfg := configFrom(ctx)
			aggregator := newAggregator(newBackendClient(cfg))

			snapshot, err := aggregator.Refresh(ctx.Context)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			if snapshot.Warning != "" {
				log.Warn(snapshot.Warning)
			}
			return printItems(os.Stdout, feeds.Apply(snapshot.Items, filters...))
		},
	}
}

// printItems writes one JSON object per line
func printItems(w io.Writer, items []models.FeedItem) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("write feed item: %w", err)
		}
	}
	return nil
}

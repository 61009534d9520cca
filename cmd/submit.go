/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cqroot/prompt"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"insightfeed/models"
)

// askFunc asks the user for a value, nil disables prompting
type askFunc func(question, defaultValue string) (string, error)

func promptAsk(question, defaultValue string) (string, error) {
	return prompt.New().Ask(question).Input(defaultValue)
}

type transcriptFlags struct {
	Company   string
	Attendees string
	Date      string
	Text      string
	TextFile  string
}

type linkedInFlags struct {
	Bio       string
	Pitch     string
	PitchFile string
}

func submitCmd() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit new material for analysis",
		Subcommands: []*cli.Command{
			{
				Name:  "transcript",
				Usage: "Submit a call transcript",
				Description: `Sends a call transcript to the analysis backend and prints the created
record as JSON. Values not given as flags are asked for interactively.`,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "company", Usage: "Company name"},
					&cli.StringFlag{Name: "attendees", Usage: "Comma separated attendee names"},
					&cli.StringFlag{Name: "date", Usage: "Date of the call, e.g. 2024-01-31"},
					&cli.StringFlag{Name: "text", Usage: "Transcript text"},
					&cli.StringFlag{Name: "text-file", Usage: "Read the transcript from a file, - for stdin"},
					noInputFlag(),
				},
				Action: func(ctx *cli.Context) error {
					in, err := collectTranscript(transcriptFlags{
						Company:   ctx.String("company"),
						Attendees: ctx.String("attendees"),
						Date:      ctx.String("date"),
						Text:      ctx.String("text"),
						TextFile:  ctx.String("text-file"),
					}, asker(ctx))
					if err != nil {
						return err
					}
					if err := in.Validate(); err != nil {
						return err
					}

					record, err := newBackendClient(configFrom(ctx)).CreateTranscript(ctx.Context, in)
					if err != nil {
						return err
					}
					log.WithField("id", record.Id).Info("Transcript submitted, insights are being generated")
					return printJSON(os.Stdout, record)
				},
			},
			{
				Name:  "linkedin",
				Usage: "Submit a LinkedIn profile for an icebreaker",
				Description: `Sends a LinkedIn bio and pitch deck summary to the analysis backend and
prints the created record as JSON. Values not given as flags are asked for
interactively.`,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bio", Usage: "LinkedIn bio of the prospect"},
					&cli.StringFlag{Name: "pitch", Usage: "Pitch deck summary"},
					&cli.StringFlag{Name: "pitch-file", Usage: "Read the pitch deck summary from a file, - for stdin"},
					noInputFlag(),
				},
				Action: func(ctx *cli.Context) error {
					in, err := collectLinkedIn(linkedInFlags{
						Bio:       ctx.String("bio"),
						Pitch:     ctx.String("pitch"),
						PitchFile: ctx.String("pitch-file"),
					}, asker(ctx))
					if err != nil {
						return err
					}
					if err := in.Validate(); err != nil {
						return err
					}

					record, err := newBackendClient(configFrom(ctx)).CreateLinkedInInsight(ctx.Context, in)
					if err != nil {
						return err
					}
					log.WithField("id", record.Id).Info("LinkedIn profile submitted, icebreaker is being generated")
					return printJSON(os.Stdout, record)
				},
			},
		},
	}
}

func noInputFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "no-input",
		Usage:   "Never prompt, fail validation on missing values instead",
		EnvVars: []string{"INSIGHTFEED_NO_INPUT"},
	}
}

func asker(ctx *cli.Context) askFunc {
	if ctx.Bool("no-input") {
		return nil
	}
	return promptAsk
}

func collectTranscript(f transcriptFlags, ask askFunc) (models.TranscriptInput, error) {
	text, err := readText(f.Text, f.TextFile)
	if err != nil {
		return models.TranscriptInput{}, err
	}

	steps := []struct {
		value    *string
		question string
		def      string
	}{
		{&f.Company, "Company name:", ""},
		{&f.Attendees, "Attendees (comma separated):", ""},
		{&f.Date, "Date:", time.Now().Format(time.DateOnly)},
		{&text, "Transcript:", ""},
	}
	for _, step := range steps {
		if err := fill(step.value, ask, step.question, step.def); err != nil {
			return models.TranscriptInput{}, err
		}
	}

	return models.TranscriptInput{
		CompanyName:    strings.TrimSpace(f.Company),
		Attendees:      models.ParseAttendees(f.Attendees),
		Date:           strings.TrimSpace(f.Date),
		TranscriptText: text,
	}, nil
}

func collectLinkedIn(f linkedInFlags, ask askFunc) (models.LinkedInInput, error) {
	pitch, err := readText(f.Pitch, f.PitchFile)
	if err != nil {
		return models.LinkedInInput{}, err
	}

	if err := fill(&f.Bio, ask, "LinkedIn bio:", ""); err != nil {
		return models.LinkedInInput{}, err
	}
	if err := fill(&pitch, ask, "Pitch deck summary:", ""); err != nil {
		return models.LinkedInInput{}, err
	}

	return models.LinkedInInput{
		LinkedInBio:      f.Bio,
		PitchDeckContent: pitch,
	}, nil
}

// fill asks for value when it is empty and prompting is enabled
func fill(value *string, ask askFunc, question, def string) error {
	if *value != "" || ask == nil {
		return nil
	}
	answer, err := ask(question, def)
	if err != nil {
		return fmt.Errorf("could not read %q: %w", strings.TrimSuffix(question, ":"), err)
	}
	*value = answer
	return nil
}

// readText returns text, or the content of path when given
func readText(text, path string) (string, error) {
	if path == "" {
		return text, nil
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("could not read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

package models

import (
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

const (
	MinTranscriptLength = 200
	MinAttendees        = 2
	MinLinkedInBio      = 50
	MinPitchDeck        = 100
)

// TranscriptInput is the body of a transcript submission
type TranscriptInput struct {
	CompanyName    string   `json:"company_name"`
	Attendees      []string `json:"attendees"`
	Date           string   `json:"date"`
	TranscriptText string   `json:"transcript_text"`
}

// LinkedInInput is the body of a LinkedIn icebreaker submission
type LinkedInInput struct {
	LinkedInBio      string `json:"linkedin_bio"`
	PitchDeckContent string `json:"pitch_deck_content"`
}

// ValidationError lists every rule a submission violates
type ValidationError struct {
	Problems []string `json:"problems"`
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + strings.Join(e.Problems, "; ")
}

// ParseAttendees splits a comma separated attendee list
func ParseAttendees(s string) []string {
	var attendees []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			attendees = append(attendees, name)
		}
	}
	return attendees
}

func (in TranscriptInput) Validate() error {
	var problems []string
	if utf8.RuneCountInString(in.TranscriptText) < MinTranscriptLength {
		problems = append(problems, "transcript must be at least 200 characters")
	}

	if !enoughAttendees(in.Attendees) {
		problems = append(problems, "list at least two attendees")
	}

	if strings.TrimSpace(in.CompanyName) == "" || strings.TrimSpace(in.Date) == "" {
		problems = append(problems, "company name and date are required")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// enoughAttendees accepts two or more names, or a single entry naming two
// people separated by spaces, e.g. "Ada Grace"
func enoughAttendees(attendees []string) bool {
	named := lo.Filter(attendees, func(a string, _ int) bool {
		return strings.TrimSpace(a) != ""
	})
	if len(named) >= MinAttendees {
		return true
	}
	return len(named) == 1 && len(strings.Fields(named[0])) >= MinAttendees
}

func (in LinkedInInput) Validate() error {
	var problems []string
	if utf8.RuneCountInString(in.LinkedInBio) < MinLinkedInBio {
		problems = append(problems, "LinkedIn bio must be at least 50 characters")
	}
	if utf8.RuneCountInString(in.PitchDeckContent) < MinPitchDeck {
		problems = append(problems, "pitch deck summary must be at least 100 characters")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

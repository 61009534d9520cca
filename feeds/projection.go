package feeds

import (
	"strings"
	"unicode/utf8"

	"insightfeed/models"
)

const (
	// PreviewLength bounds the source text carried by a feed item
	PreviewLength = 200

	defaultTranscriptTitle = "Call Transcript"
	undatedLabel           = "Undated"
	linkedInTitle          = "LinkedIn Icebreaker"
	linkedInSubtitle       = "Cold outreach strategy"
)

// Truncate cuts s to at most n runes, appending an ellipsis when it was cut
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}

// ProjectTranscript maps a transcript record to a feed item
func ProjectTranscript(t models.Transcript) models.FeedItem {
	title := strings.TrimSpace(t.CompanyName)
	if title == "" {
		title = defaultTranscriptTitle
	}

	date := strings.TrimSpace(t.Date)
	if date == "" {
		date = undatedLabel
	}

	var attendees []string
	for _, a := range t.Attendees {
		if a = strings.TrimSpace(a); a != "" {
			attendees = append(attendees, a)
		}
	}

	subtitle := date
	if len(attendees) > 0 {
		subtitle = strings.Join(attendees, ", ") + " • " + date
	}

	return models.FeedItem{
		Id:             t.Id,
		Kind:           models.KindTranscript,
		Title:          title,
		Subtitle:       subtitle,
		ContentPreview: Truncate(t.TranscriptText, PreviewLength),
		Result:         t.InsightResult,
		CreatedAt:      t.CreatedAt.Time,
	}
}

// ProjectLinkedIn maps a LinkedIn icebreaker record to a feed item
func ProjectLinkedIn(l models.LinkedInInsight) models.FeedItem {
	return models.FeedItem{
		Id:             l.Id,
		Kind:           models.KindLinkedIn,
		Title:          linkedInTitle,
		Subtitle:       linkedInSubtitle,
		ContentPreview: Truncate(l.LinkedInBio, PreviewLength),
		Result:         l.IcebreakerResult,
		CreatedAt:      l.CreatedAt.Time,
	}
}

package feeds

import (
	"context"

	"github.com/samber/lo"

	"insightfeed/models"
)

// TranscriptLister is the part of the backend client the transcript source needs
type TranscriptLister interface {
	ListTranscripts(ctx context.Context) ([]models.Transcript, error)
}

// LinkedInLister is the part of the backend client the LinkedIn source needs
type LinkedInLister interface {
	ListLinkedInInsights(ctx context.Context) ([]models.LinkedInInsight, error)
}

type transcriptSource struct {
	lister TranscriptLister
}

// NewTranscriptSource feeds call transcripts into the aggregator
func NewTranscriptSource(lister TranscriptLister) Source {
	return &transcriptSource{lister: lister}
}

func (s *transcriptSource) Name() string {
	return "transcripts"
}

func (s *transcriptSource) Fetch(ctx context.Context) ([]models.FeedItem, error) {
	records, err := s.lister.ListTranscripts(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(records, func(t models.Transcript, _ int) models.FeedItem {
		return ProjectTranscript(t)
	}), nil
}

type linkedInSource struct {
	lister LinkedInLister
}

// NewLinkedInSource feeds LinkedIn icebreakers into the aggregator
func NewLinkedInSource(lister LinkedInLister) Source {
	return &linkedInSource{lister: lister}
}

func (s *linkedInSource) Name() string {
	return "LinkedIn insights"
}

func (s *linkedInSource) Fetch(ctx context.Context) ([]models.FeedItem, error) {
	records, err := s.lister.ListLinkedInInsights(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(records, func(l models.LinkedInInsight, _ int) models.FeedItem {
		return ProjectLinkedIn(l)
	}), nil
}

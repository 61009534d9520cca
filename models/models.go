package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Kind is the source category a feed item was projected from
type Kind string

const (
	KindTranscript Kind = "transcript"
	KindLinkedIn   Kind = "linkedin"
)

// Status is derived from the presence of an analysis result
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Severity of the message attached to a feed state
type Severity string

const (
	SeverityNone    Severity = ""
	SeverityWarning Severity = "warning"
	SeverityFatal   Severity = "fatal"
)

// RecordID is a backend record id. The backend may send it as a JSON number
// or a string, both are kept as their textual form.
type RecordID string

func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("record id: %w", err)
		}
		*id = RecordID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	*id = RecordID(n.String())
	return nil
}

// Timestamp is a backend timestamp. Unparseable values decode to the zero
// time and keep their raw text.
type Timestamp struct {
	time.Time
	Raw string
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses s with the layouts the backend is known to emit.
// Timestamps without a zone are taken as UTC.
func ParseTimestamp(s string) Timestamp {
	ts := Timestamp{Raw: s}
	s = strings.TrimSpace(s)
	if s == "" {
		return ts
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return ts
		}
	}
	return ts
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Numbers, nulls and other shapes are treated as missing
		*t = Timestamp{Raw: string(data)}
		return nil
	}
	*t = ParseTimestamp(s)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return json.Marshal(t.Raw)
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Transcript is a call transcript record as returned by the backend
type Transcript struct {
	Id             RecordID  `json:"id"`
	CompanyName    string    `json:"company_name"`
	Attendees      []string  `json:"attendees"`
	Date           string    `json:"date"`
	TranscriptText string    `json:"transcript_text"`
	InsightResult  *string   `json:"insight_result,omitempty"`
	CreatedAt      Timestamp `json:"created_at"`
}

// LinkedInInsight is a LinkedIn icebreaker record as returned by the backend
type LinkedInInsight struct {
	Id               RecordID  `json:"id"`
	LinkedInBio      string    `json:"linkedin_bio"`
	PitchDeckContent string    `json:"pitch_deck_content,omitempty"`
	IcebreakerResult *string   `json:"icebreaker_result,omitempty"`
	CreatedAt        Timestamp `json:"created_at"`
}

// FeedItem is the unified projection of a record of any kind
type FeedItem struct {
	Id             RecordID
	Kind           Kind
	Title          string
	Subtitle       string
	ContentPreview string
	Result         *string
	CreatedAt      time.Time
}

// HasResult reports whether the backend finished processing the item
func (i FeedItem) HasResult() bool {
	return i.Result != nil && *i.Result != ""
}

func (i FeedItem) Status() Status {
	if i.HasResult() {
		return StatusCompleted
	}
	return StatusProcessing
}

// Key is the unique key of an item across kinds
func (i FeedItem) Key() string {
	return string(i.Kind) + ":" + string(i.Id)
}

type feedItemJSON struct {
	Id             RecordID   `json:"id"`
	Kind           Kind       `json:"kind"`
	Title          string     `json:"title"`
	Subtitle       string     `json:"subtitle,omitempty"`
	ContentPreview string     `json:"contentPreview"`
	Result         *string    `json:"result,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	Status         Status     `json:"status"`
}

func (i FeedItem) MarshalJSON() ([]byte, error) {
	out := feedItemJSON{
		Id:             i.Id,
		Kind:           i.Kind,
		Title:          i.Title,
		Subtitle:       i.Subtitle,
		ContentPreview: i.ContentPreview,
		Result:         i.Result,
		Status:         i.Status(),
	}
	if !i.CreatedAt.IsZero() {
		createdAt := i.CreatedAt
		out.CreatedAt = &createdAt
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads what MarshalJSON writes. The status field is ignored,
// it is always derived from the result.
func (i *FeedItem) UnmarshalJSON(data []byte) error {
	var in feedItemJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*i = FeedItem{
		Id:             in.Id,
		Kind:           in.Kind,
		Title:          in.Title,
		Subtitle:       in.Subtitle,
		ContentPreview: in.ContentPreview,
		Result:         in.Result,
	}
	if in.CreatedAt != nil {
		i.CreatedAt = *in.CreatedAt
	}
	return nil
}

// FeedState is one immutable snapshot of the feed. A new value replaces the
// previous one after every cycle.
type FeedState struct {
	Items                []FeedItem `json:"items"`
	Message              string     `json:"message,omitempty"`
	Severity             Severity   `json:"severity,omitempty"`
	InitialLoading       bool       `json:"initialLoading"`
	BackgroundRefreshing bool       `json:"backgroundRefreshing"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// Busy reports whether any cycle is in flight
func (s FeedState) Busy() bool {
	return s.InitialLoading || s.BackgroundRefreshing
}

// Processing counts the items still waiting for a result
func (s FeedState) Processing() int {
	return lo.CountBy(s.Items, func(item FeedItem) bool {
		return item.Status() == StatusProcessing
	})
}

// Clone returns a copy that shares no item slice with s. Items is never nil
// in the copy.
func (s FeedState) Clone() FeedState {
	c := s
	c.Items = append(make([]FeedItem, 0, len(s.Items)), s.Items...)
	return c
}

package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightfeed/backend"
	"insightfeed/feeds"
	"insightfeed/models"
	"insightfeed/poller"
	"insightfeed/server"
)

type fakeFeed struct {
	mu        sync.Mutex
	state     models.FeedState
	result    models.FeedState
	err       error
	refreshes int
	refreshed chan poller.Mode
}

func newFakeFeed(state models.FeedState) *fakeFeed {
	return &fakeFeed{
		state:     state,
		result:    state,
		refreshed: make(chan poller.Mode, 10),
	}
}

func (f *fakeFeed) State() models.FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeFeed) Refresh(_ context.Context, mode poller.Mode) (models.FeedState, error) {
	f.mu.Lock()
	f.refreshes++
	result, err := f.result, f.err
	f.mu.Unlock()

	f.refreshed <- mode
	return result, err
}

type fakeSubmitter struct {
	transcriptErr error
	linkedInErr   error
	transcripts   []models.TranscriptInput
}

func (s *fakeSubmitter) CreateTranscript(_ context.Context, in models.TranscriptInput) (*models.Transcript, error) {
	if s.transcriptErr != nil {
		return nil, s.transcriptErr
	}
	s.transcripts = append(s.transcripts, in)
	return &models.Transcript{
		Id:             "7",
		CompanyName:    in.CompanyName,
		Attendees:      in.Attendees,
		Date:           in.Date,
		TranscriptText: in.TranscriptText,
	}, nil
}

func (s *fakeSubmitter) CreateLinkedInInsight(_ context.Context, in models.LinkedInInput) (*models.LinkedInInsight, error) {
	if s.linkedInErr != nil {
		return nil, s.linkedInErr
	}
	return &models.LinkedInInsight{
		Id:               "3",
		LinkedInBio:      in.LinkedInBio,
		PitchDeckContent: in.PitchDeckContent,
	}, nil
}

func newServer(feed *fakeFeed, submitter *fakeSubmitter) (*server.Broadcaster, func(*http.Request) (*http.Response, error)) {
	bc := server.NewBroadcaster()
	app := server.Server(&server.ServerConfig{
		Feed:         feed,
		Submitter:    submitter,
		Broadcaster:  bc,
		AllowOrigins: "http://localhost:3001",
		KeepAlive:    time.Minute,
	})
	return bc, func(req *http.Request) (*http.Response, error) {
		return app.Test(req, 3000)
	}
}

func sampleState() models.FeedState {
	done := "Great call"
	return models.FeedState{
		Items: []models.FeedItem{
			{Id: "2", Kind: models.KindTranscript, Title: "Call Transcript", Result: &done, CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
			{Id: "1", Kind: models.KindLinkedIn, Title: "LinkedIn Icebreaker", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func validTranscriptBody() string {
	body, _ := json.Marshal(models.TranscriptInput{
		CompanyName:    "Acme",
		Attendees:      []string{"Ada", "Grace"},
		Date:           "2024-01-01",
		TranscriptText: strings.Repeat("a", models.MinTranscriptLength),
	})
	return string(body)
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealth(t *testing.T) {
	_, do := newServer(newFakeFeed(sampleState()), &fakeSubmitter{})

	resp, err := do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["items"])
	assert.EqualValues(t, 1, body["processing"])
}

func TestGetFeed(t *testing.T) {
	_, do := newServer(newFakeFeed(sampleState()), &fakeSubmitter{})

	resp, err := do(httptest.NewRequest(http.MethodGet, "/api/feed", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var state models.FeedState
	decode(t, resp, &state)
	require.Len(t, state.Items, 2)
	assert.Equal(t, models.RecordID("2"), state.Items[0].Id)
	assert.Equal(t, models.StatusCompleted, state.Items[0].Status())
	assert.Equal(t, models.StatusProcessing, state.Items[1].Status())
}

func TestRefreshFeed(t *testing.T) {
	feed := newFakeFeed(models.FeedState{Items: []models.FeedItem{}})
	feed.result = sampleState()
	_, do := newServer(feed, &fakeSubmitter{})

	resp, err := do(httptest.NewRequest(http.MethodPost, "/api/feed/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var state models.FeedState
	decode(t, resp, &state)
	assert.Len(t, state.Items, 2)
	assert.Equal(t, poller.Manual, <-feed.refreshed)
}

func TestRefreshFeedBusy(t *testing.T) {
	feed := newFakeFeed(models.FeedState{BackgroundRefreshing: true})
	_, do := newServer(feed, &fakeSubmitter{})

	resp, err := do(httptest.NewRequest(http.MethodPost, "/api/feed/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Zero(t, feed.refreshes)
}

func TestRefreshFeedFatal(t *testing.T) {
	feed := newFakeFeed(sampleState())
	fatal := &feeds.FatalError{Failures: []*feeds.SourceError{
		{Source: "transcripts", Err: errors.New("boom")},
		{Source: "LinkedIn insights", Err: errors.New("boom")},
	}}
	feed.err = fatal
	feed.result = sampleState()
	feed.result.Message = fatal.Error()
	feed.result.Severity = models.SeverityFatal
	_, do := newServer(feed, &fakeSubmitter{})

	resp, err := do(httptest.NewRequest(http.MethodPost, "/api/feed/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var state models.FeedState
	decode(t, resp, &state)
	assert.Equal(t, models.SeverityFatal, state.Severity)
	assert.Len(t, state.Items, 2, "previous items are kept")
}

func TestRefreshFeedClosed(t *testing.T) {
	feed := newFakeFeed(models.FeedState{})
	feed.err = poller.ErrClosed
	_, do := newServer(feed, &fakeSubmitter{})

	resp, err := do(httptest.NewRequest(http.MethodPost, "/api/feed/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSubmitTranscript(t *testing.T) {
	feed := newFakeFeed(models.FeedState{})
	submitter := &fakeSubmitter{}
	_, do := newServer(feed, submitter)

	resp, err := do(postJSON("/api/submissions/transcript", validTranscriptBody()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var record models.Transcript
	decode(t, resp, &record)
	assert.Equal(t, models.RecordID("7"), record.Id)
	assert.Equal(t, "Acme", record.CompanyName)
	require.Len(t, submitter.transcripts, 1)

	select {
	case mode := <-feed.refreshed:
		assert.Equal(t, poller.Manual, mode)
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not trigger a refresh")
	}
}

func TestSubmitTranscriptValidation(t *testing.T) {
	submitter := &fakeSubmitter{}
	_, do := newServer(newFakeFeed(models.FeedState{}), submitter)

	resp, err := do(postJSON("/api/submissions/transcript", `{"company_name":"Acme","attendees":["Ada"],"date":"2024-01-01","transcript_text":"short"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error    string   `json:"error"`
		Problems []string `json:"problems"`
	}
	decode(t, resp, &body)
	assert.Len(t, body.Problems, 2)
	assert.Empty(t, submitter.transcripts, "invalid input never reaches the backend")
}

func TestSubmitMalformedBody(t *testing.T) {
	_, do := newServer(newFakeFeed(models.FeedState{}), &fakeSubmitter{})

	resp, err := do(postJSON("/api/submissions/linkedin", `{"linkedin_bio":`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitBackendErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{
			name:   "backend rejected",
			err:    &backend.HTTPError{Operation: "failed to create transcript", StatusCode: 500, Body: "db down"},
			status: http.StatusBadGateway,
		},
		{
			name:   "backend unreachable",
			err:    &backend.TransportError{Operation: "failed to create transcript", Err: errors.New("connection refused")},
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := newFakeFeed(models.FeedState{})
			_, do := newServer(feed, &fakeSubmitter{transcriptErr: tt.err})

			resp, err := do(postJSON("/api/submissions/transcript", validTranscriptBody()))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body map[string]any
			decode(t, resp, &body)
			assert.Contains(t, body["error"], "failed to create transcript")
			assert.Zero(t, feed.refreshes, "failed submissions do not refresh")
		})
	}
}

func TestSubmitLinkedIn(t *testing.T) {
	_, do := newServer(newFakeFeed(models.FeedState{}), &fakeSubmitter{})

	body, _ := json.Marshal(models.LinkedInInput{
		LinkedInBio:      strings.Repeat("b", models.MinLinkedInBio),
		PitchDeckContent: strings.Repeat("p", models.MinPitchDeck),
	})
	resp, err := do(postJSON("/api/submissions/linkedin", string(body)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var record models.LinkedInInsight
	decode(t, resp, &record)
	assert.Equal(t, models.RecordID("3"), record.Id)
}

func TestFeedStream(t *testing.T) {
	bc, do := newServer(newFakeFeed(sampleState()), &fakeSubmitter{})

	go func() {
		// Wait for the stream to register, then push one snapshot and end it
		for bc.Count() == 0 {
			time.Sleep(10 * time.Millisecond)
		}
		bc.Broadcast(models.FeedState{Message: "showing partial results", Severity: models.SeverityWarning})
		time.Sleep(50 * time.Millisecond)
		bc.Shutdown()
	}()

	resp, err := do(httptest.NewRequest(http.MethodGet, "/api/feed/sse", nil))
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	stream := string(data)

	assert.Contains(t, stream, "event: init\n")
	assert.Equal(t, 2, strings.Count(stream, "event: feed\n"), "current snapshot followed by the broadcast one")
	assert.Contains(t, stream, "showing partial results")
	assert.Less(t, strings.Index(stream, "event: init"), strings.Index(stream, "event: feed"))
}

func TestRemoveStreamClient(t *testing.T) {
	bc, do := newServer(newFakeFeed(models.FeedState{}), &fakeSubmitter{})

	ch := make(chan models.FeedState, 1)
	require.True(t, bc.AddClient("abc", ch))

	resp, err := do(httptest.NewRequest(http.MethodDelete, "/api/feed/sse?key=abc", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, bc.Count())

	_, open := <-ch
	assert.False(t, open)
}

func TestFeedItems(t *testing.T) {
	_, do := newServer(newFakeFeed(sampleState()), &fakeSubmitter{})

	resp, err := do(httptest.NewRequest(http.MethodGet, "/api/feed/items?status=processing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var page feeds.Page
	decode(t, resp, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, models.RecordID("1"), page.Items[0].Id)
	assert.Nil(t, page.Cursor)
}

func TestFeedItemsPaging(t *testing.T) {
	_, do := newServer(newFakeFeed(sampleState()), &fakeSubmitter{})

	resp, err := do(httptest.NewRequest(http.MethodGet, "/api/feed/items?limit=1", nil))
	require.NoError(t, err)

	var page feeds.Page
	decode(t, resp, &page)
	require.Len(t, page.Items, 1)
	require.NotNil(t, page.Cursor)
	assert.Equal(t, "transcript:2", *page.Cursor)
}

func TestFeedItemsBadFilter(t *testing.T) {
	_, do := newServer(newFakeFeed(sampleState()), &fakeSubmitter{})

	resp, err := do(httptest.NewRequest(http.MethodGet, "/api/feed/items?kind=tweet", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"insightfeed/backend"
	"insightfeed/feeds"
	"insightfeed/models"
	"insightfeed/poller"
)

// Feed is the part of the feed controller the server needs
type Feed interface {
	State() models.FeedState
	Refresh(ctx context.Context, mode poller.Mode) (models.FeedState, error)
}

// Submitter forwards new material to the analysis backend
type Submitter interface {
	CreateTranscript(ctx context.Context, in models.TranscriptInput) (*models.Transcript, error)
	CreateLinkedInInsight(ctx context.Context, in models.LinkedInInput) (*models.LinkedInInsight, error)
}

type ServerConfig struct {
	Feed      Feed
	Submitter Submitter

	// Broadcast channel to pass feed snapshots to SSE clients
	Broadcaster *Broadcaster

	// CORS origins allowed to call the API, comma separated
	AllowOrigins string

	// Interval between SSE keep-alive pings, 5s when zero
	KeepAlive time.Duration
}

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
	Status   int      `json:"status,omitempty"`
}

// Server returns a fiber.App serving the insight feed
func Server(config *ServerConfig) *fiber.App {
	bc := config.Broadcaster
	keepAlive := config.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 5 * time.Second
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), "/sse")
		},
	}))

	if config.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: config.AllowOrigins,
			AllowHeaders: "Cache-Control, Content-Type",
		}))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		state := config.Feed.State()
		return c.JSON(fiber.Map{
			"status":     "ok",
			"items":      len(state.Items),
			"processing": state.Processing(),
			"clients":    bc.Count(),
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/api/feed", func(c *fiber.Ctx) error {
		return c.JSON(config.Feed.State())
	})

	app.Get("/api/feed/items", func(c *fiber.Ctx) error {
		filters, err := feeds.FilterOptions{
			Kinds:   c.Query("kind"),
			Status:  c.Query("status"),
			Include: c.Query("q"),
			Exclude: c.Query("exclude"),
		}.Filters()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
		}

		state := config.Feed.State()
		return c.JSON(feeds.Paginate(state.Items, c.Query("cursor"), c.QueryInt("limit", feeds.DefaultPageLimit), filters...))
	})

	app.Post("/api/feed/refresh", func(c *fiber.Ctx) error {
		// A cycle is already in flight
		if current := config.Feed.State(); current.Busy() {
			return c.Status(fiber.StatusConflict).JSON(current)
		}

		state, err := config.Feed.Refresh(c.UserContext(), poller.Manual)
		switch {
		case errors.Is(err, poller.ErrClosed):
			return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: err.Error()})
		case feeds.IsFatal(err):
			return c.Status(fiber.StatusBadGateway).JSON(state)
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
		}
		return c.JSON(state)
	})

	app.Post("/api/submissions/transcript", func(c *fiber.Ctx) error {
		var in models.TranscriptInput
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
		}
		if err := in.Validate(); err != nil {
			return validationFailed(c, err)
		}

		record, err := config.Submitter.CreateTranscript(c.UserContext(), in)
		if err != nil {
			return submissionFailed(c, err)
		}

		log.WithFields(log.Fields{
			"id":      record.Id,
			"company": record.CompanyName,
		}).Info("Transcript submitted")
		refreshAfterSubmit(config.Feed)
		return c.Status(fiber.StatusCreated).JSON(record)
	})

	app.Post("/api/submissions/linkedin", func(c *fiber.Ctx) error {
		var in models.LinkedInInput
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
		}
		if err := in.Validate(); err != nil {
			return validationFailed(c, err)
		}

		record, err := config.Submitter.CreateLinkedInInsight(c.UserContext(), in)
		if err != nil {
			return submissionFailed(c, err)
		}

		log.WithFields(log.Fields{
			"id": record.Id,
		}).Info("LinkedIn insight submitted")
		refreshAfterSubmit(config.Feed)
		return c.Status(fiber.StatusCreated).JSON(record)
	})

	app.Delete("/api/feed/sse", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.Status(200).SendString("OK")
	})

	app.Get("/api/feed/sse", func(c *fiber.Ctx) error {
		key := uuid.New().String()
		feedChannel := make(chan models.FeedState, 10)

		if !bc.AddClient(key, feedChannel) {
			return c.Status(fiber.StatusServiceUnavailable).SendString("Shutting down")
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		initial := config.Feed.State()

		cleanup := func() {
			log.Infof("Cleaning up SSE stream for client: %s", key)
			bc.RemoveClient(key)
		}

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cleanup()

			aliveChan := time.NewTicker(keepAlive)
			defer aliveChan.Stop()

			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := writeFeedEvent(w, initial); err != nil {
				log.Warnf("Failed to send initial feed to client %s: %v", key, err)
				return
			}

			for {
				select {
				case <-aliveChan.C:
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case state, ok := <-feedChannel:
					if !ok {
						log.Debugf("Feed channel closed for client %s", key)
						return
					}
					if err := writeFeedEvent(w, state); err != nil {
						log.Warnf("Failed to send feed event to client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}

func writeFeedEvent(w *bufio.Writer, state models.FeedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal feed: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: feed\ndata: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func refreshAfterSubmit(feed Feed) {
	go func() {
		if _, err := feed.Refresh(context.Background(), poller.Manual); err != nil && !errors.Is(err, poller.ErrClosed) {
			log.WithError(err).Warn("Refresh after submission failed")
		}
	}()
}

func validationFailed(c *fiber.Ctx, err error) error {
	var validationErr *models.ValidationError
	if errors.As(err, &validationErr) {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error:    err.Error(),
			Problems: validationErr.Problems,
		})
	}
	return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
}

func submissionFailed(c *fiber.Ctx, err error) error {
	log.WithError(err).Warn("Submission failed")

	var httpErr *backend.HTTPError
	var transportErr *backend.TransportError
	switch {
	case errors.As(err, &httpErr):
		return c.Status(fiber.StatusBadGateway).JSON(errorResponse{Error: err.Error(), Status: httpErr.StatusCode})
	case errors.As(err, &transportErr):
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
	}
}

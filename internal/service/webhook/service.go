package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/wacrm/internal/domain/models"
)

const (
	// DefaultCapacity bounds the history kept per connection.
	DefaultCapacity = 100
	// DefaultQueryLimit applies when Query receives a non-positive limit.
	DefaultQueryLimit = 50

	// TestPNG is a 1x1 transparent PNG used by the media test event.
	TestPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="
)

// ErrMissingConnectionID is returned when a call carries no connection id.
var ErrMissingConnectionID = errors.New("connection id is required")

// MediaWriter persists inline media for a connection.
type MediaWriter interface {
	Materialize(connectionID string, media models.InlineMedia) (string, error)
	Remove(connectionID string) error
}

// Ingestor describes what the HTTP layer needs from the webhook service.
type Ingestor interface {
	Receive(ctx context.Context, connectionID string, body map[string]any) (models.WebhookEvent, error)
	Query(connectionID string, limit int) ([]models.WebhookEvent, error)
	Clear(connectionID string) error
	SendTest(ctx context.Context, connectionID string) (models.WebhookEvent, error)
	SendTestMedia(ctx context.Context, connectionID string) (models.WebhookEvent, error)
}

// Options tunes history bounds.
type Options struct {
	Capacity     int
	DefaultLimit int
}

type history struct {
	mu     sync.Mutex
	events []models.WebhookEvent
}

// Service keeps a bounded, per-connection event history in memory and
// writes inline media through a MediaWriter.
type Service struct {
	media  MediaWriter
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	histories map[string]*history
}

// NewService builds an empty registry. Zero options fall back to the defaults.
func NewService(media MediaWriter, opts Options, logger *zap.Logger) *Service {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultQueryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		media:     media,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		histories: make(map[string]*history),
	}
}

// Receive records the event and materializes its inline media before
// returning. A media failure still leaves the event recorded.
func (s *Service) Receive(ctx context.Context, connectionID string, body map[string]any) (models.WebhookEvent, error) {
	if connectionID == "" {
		return models.WebhookEvent{}, ErrMissingConnectionID
	}
	if body == nil {
		body = map[string]any{}
	}

	eventType, _ := body["type"].(string)
	if eventType == "" {
		eventType = "webhook"
	}

	event := models.WebhookEvent{
		Type:         eventType,
		Data:         body,
		Timestamp:    s.now().UTC(),
		ConnectionID: connectionID,
		Media:        mediaFromBody(body["media"]),
	}

	if err := s.record(ctx, event); err != nil {
		return event, err
	}

	s.logger.Info("webhook processed",
		zap.String("type", event.Type),
		zap.String("connection_id", connectionID),
		zap.Bool("has_media", event.Media != nil))

	return event, nil
}

// Query returns up to limit of the most recent events, oldest first.
func (s *Service) Query(connectionID string, limit int) ([]models.WebhookEvent, error) {
	if connectionID == "" {
		return nil, ErrMissingConnectionID
	}
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}

	s.mu.Lock()
	h, ok := s.histories[connectionID]
	s.mu.Unlock()
	if !ok {
		return []models.WebhookEvent{}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	start := len(h.events) - limit
	if start < 0 {
		start = 0
	}
	out := make([]models.WebhookEvent, len(h.events)-start)
	copy(out, h.events[start:])
	return out, nil
}

// Clear drops the history and the media directory for a connection.
// Clearing an unknown connection is not an error.
func (s *Service) Clear(connectionID string) error {
	if connectionID == "" {
		return ErrMissingConnectionID
	}

	s.mu.Lock()
	delete(s.histories, connectionID)
	s.mu.Unlock()

	if s.media != nil {
		if err := s.media.Remove(connectionID); err != nil {
			return fmt.Errorf("clear webhook media: %w", err)
		}
	}

	s.logger.Info("webhook data cleared", zap.String("connection_id", connectionID))
	return nil
}

// SendTest records a sample event.
func (s *Service) SendTest(ctx context.Context, connectionID string) (models.WebhookEvent, error) {
	if connectionID == "" {
		return models.WebhookEvent{}, ErrMissingConnectionID
	}
	event := s.sampleEvent(connectionID, "test_webhook", "Test webhook")
	if err := s.record(ctx, event); err != nil {
		return event, err
	}
	s.logger.Info("test webhook sent", zap.String("connection_id", connectionID))
	return event, nil
}

// SendTestMedia records a sample event carrying a 1x1 PNG.
func (s *Service) SendTestMedia(ctx context.Context, connectionID string) (models.WebhookEvent, error) {
	if connectionID == "" {
		return models.WebhookEvent{}, ErrMissingConnectionID
	}
	event := s.sampleEvent(connectionID, "test_webhook_with_media", "Test webhook with media")
	event.Media = &models.InlineMedia{
		Type:     "image",
		Data:     "data:image/png;base64," + TestPNG,
		Filename: "test_image.png",
		MimeType: "image/png",
	}
	if err := s.record(ctx, event); err != nil {
		return event, err
	}
	s.logger.Info("test webhook with media sent", zap.String("connection_id", connectionID))
	return event, nil
}

func (s *Service) record(ctx context.Context, event models.WebhookEvent) error {
	s.append(event)

	if event.Media == nil || s.media == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.media.Materialize(event.ConnectionID, *event.Media); err != nil {
		s.logger.Error("failed processing webhook media",
			zap.String("connection_id", event.ConnectionID),
			zap.String("type", event.Type),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) append(event models.WebhookEvent) {
	h := s.historyFor(event.ConnectionID)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, event)
	if over := len(h.events) - s.opts.Capacity; over > 0 {
		h.events = append(h.events[:0:0], h.events[over:]...)
	}
}

func (s *Service) historyFor(connectionID string) *history {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.histories[connectionID]
	if !ok {
		h = &history{}
		s.histories[connectionID] = h
	}
	return h
}

func (s *Service) sampleEvent(connectionID, eventType, message string) models.WebhookEvent {
	now := s.now().UTC()
	return models.WebhookEvent{
		Type: eventType,
		Data: map[string]any{
			"message":      message,
			"timestamp":    now.Format(time.RFC3339Nano),
			"connectionId": connectionID,
			"user": map[string]any{
				"id":    "test_user_123",
				"name":  "Test User",
				"email": "test@example.com",
			},
			"company": map[string]any{
				"id":   "test_company_456",
				"name": "Test Company",
			},
		},
		Timestamp:    now,
		ConnectionID: connectionID,
	}
}

// mediaFromBody reads the optional media descriptor of a webhook body.
func mediaFromBody(raw any) *models.InlineMedia {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	str := func(key string) string {
		v, _ := m[key].(string)
		return v
	}
	return &models.InlineMedia{
		Type:     str("type"),
		Data:     str("data"),
		Filename: str("filename"),
		MimeType: str("mimeType"),
	}
}

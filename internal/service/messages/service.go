package messages

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mamadbah2/wacrm/internal/domain/models"
	"github.com/mamadbah2/wacrm/internal/service/normalizer"
)

var (
	ErrMissingConnectionID = errors.New("connection id is required")
	ErrStoreFailed         = errors.New("message store failed")
)

// Store persists normalized rows. Dedup is the store's concern; it reports
// an already stored message with models.ErrDuplicateMessage.
type Store interface {
	SaveMessage(ctx context.Context, row models.MessageRow) error
	ListMessages(ctx context.Context, connectionID, chatID string, limit int64) ([]models.MessageRow, error)
}

// Ingestor describes what the HTTP layer needs from the message service.
type Ingestor interface {
	Ingest(ctx context.Context, req IngestRequest) (IngestResult, error)
	List(ctx context.Context, connectionID, chatID string, limit int64) ([]models.MessageRow, error)
}

// IngestRequest is a batch of transport envelopes for one connection.
type IngestRequest struct {
	ConnectionID string
	OwnerID      string
	ChatID       string
	Envelopes    []models.Envelope
}

// IngestResult reports what happened to a batch.
type IngestResult struct {
	Rows       []models.MessageRow `json:"rows"`
	Stored     int                 `json:"stored"`
	Duplicates int                 `json:"duplicates"`
}

// Service normalizes envelopes and hands the rows to the store.
type Service struct {
	mapper *normalizer.Mapper
	store  Store
	logger *zap.Logger
}

// NewService wires a message service.
func NewService(mapper *normalizer.Mapper, store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mapper == nil {
		mapper = normalizer.NewMapper(logger)
	}
	return &Service{mapper: mapper, store: store, logger: logger}
}

// Ingest normalizes every envelope and stores the rows in order. It stops at
// the first store failure; rows stored before it stay stored.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if req.ConnectionID == "" {
		return IngestResult{}, ErrMissingConnectionID
	}

	result := IngestResult{Rows: make([]models.MessageRow, 0, len(req.Envelopes))}
	for _, env := range req.Envelopes {
		row := s.mapper.Normalize(env, req.ChatID, req.ConnectionID, req.OwnerID)
		result.Rows = append(result.Rows, row)

		if s.store == nil {
			continue
		}
		err := s.store.SaveMessage(ctx, row)
		switch {
		case err == nil:
			result.Stored++
		case errors.Is(err, models.ErrDuplicateMessage):
			result.Duplicates++
			s.logger.Debug("duplicate message skipped",
				zap.String("connection_id", req.ConnectionID),
				zap.Stringp("message_id", row.MessageID))
		default:
			s.logger.Error("failed to store message",
				zap.String("connection_id", req.ConnectionID),
				zap.Stringp("message_id", row.MessageID),
				zap.Error(err))
			return result, fmt.Errorf("%w: %w", ErrStoreFailed, err)
		}
	}

	s.logger.Info("messages ingested",
		zap.String("connection_id", req.ConnectionID),
		zap.Int("received", len(req.Envelopes)),
		zap.Int("stored", result.Stored),
		zap.Int("duplicates", result.Duplicates))

	return result, nil
}

// List returns stored rows for a connection, optionally narrowed to a chat.
func (s *Service) List(ctx context.Context, connectionID, chatID string, limit int64) ([]models.MessageRow, error) {
	if connectionID == "" {
		return nil, ErrMissingConnectionID
	}
	if s.store == nil {
		return []models.MessageRow{}, nil
	}
	rows, err := s.store.ListMessages(ctx, connectionID, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	return rows, nil
}

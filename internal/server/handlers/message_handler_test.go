package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mamadbah2/wacrm/internal/domain/models"
	"github.com/mamadbah2/wacrm/internal/service/messages"
)

type rowStore struct {
	rows []models.MessageRow
	err  error
}

func (s *rowStore) SaveMessage(_ context.Context, row models.MessageRow) error {
	if s.err != nil {
		return s.err
	}
	for _, existing := range s.rows {
		if existing.MessageID != nil && row.MessageID != nil && *existing.MessageID == *row.MessageID {
			return models.ErrDuplicateMessage
		}
	}
	s.rows = append(s.rows, row)
	return nil
}

func (s *rowStore) ListMessages(_ context.Context, connectionID, _ string, limit int64) ([]models.MessageRow, error) {
	var out []models.MessageRow
	for _, row := range s.rows {
		if row.ConnectionID == connectionID {
			out = append(out, row)
		}
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newMessageEngine(store messages.Store) *gin.Engine {
	h := NewMessageHandler(messages.NewService(nil, store, nil), nil)
	r := gin.New()
	r.POST("/connections/:id/messages", h.Ingest)
	r.GET("/connections/:id/messages", h.List)
	return r
}

func envelope(id, text string) map[string]any {
	return map[string]any{
		"key":              map[string]any{"remoteJid": "5511@s.whatsapp.net", "id": id, "fromMe": true},
		"messageTimestamp": 1700000000,
		"message":          map[string]any{"extendedTextMessage": map[string]any{"text": text}},
	}
}

func TestMessageIngest(t *testing.T) {
	store := &rowStore{}
	r := newMessageEngine(store)

	body := map[string]any{
		"ownerId":  "owner-1",
		"chatId":   "chat-9",
		"messages": []any{envelope("A", "oi"), envelope("A", "oi"), envelope("B", "ok")},
	}
	rec, resp := perform(t, r, http.MethodPost, "/connections/c1/messages", body)
	expectStatus(t, rec, http.StatusOK)

	data := dataOf(t, resp)
	if data["stored"] != float64(2) || data["duplicates"] != float64(1) {
		t.Fatalf("data = %v", data)
	}
	row := data["rows"].([]any)[0].(map[string]any)
	if row["conteudo"] != "oi" || row["message_type"] != "TEXTO" || row["remetente"] != "ATENDENTE" {
		t.Fatalf("row = %v", row)
	}
	if row["timestamp"] != "2023-11-14T22:13:20.000Z" || row["chat_id"] != "5511@s.whatsapp.net" {
		t.Fatalf("row = %v", row)
	}

	rec, list := perform(t, r, http.MethodGet, "/connections/c1/messages?limit=1", nil)
	expectStatus(t, rec, http.StatusOK)
	if list["count"] != float64(1) {
		t.Fatalf("list = %v", list)
	}
}

func TestMessageIngestRejectsMissingMessages(t *testing.T) {
	r := newMessageEngine(&rowStore{})

	rec, resp := perform(t, r, http.MethodPost, "/connections/c1/messages", map[string]any{"ownerId": "o"})
	expectStatus(t, rec, http.StatusBadRequest)
	if resp["code"] != codeInvalidPayload {
		t.Fatalf("resp = %v", resp)
	}
}

func TestMessageIngestStoreFailure(t *testing.T) {
	r := newMessageEngine(&rowStore{err: errors.New("mongo unavailable")})

	body := map[string]any{"messages": []any{envelope("A", "oi")}}
	rec, resp := perform(t, r, http.MethodPost, "/connections/c1/messages", body)
	expectStatus(t, rec, http.StatusBadGateway)
	if resp["error"] != "Failed to store messages" || resp["details"] == nil {
		t.Fatalf("resp = %v", resp)
	}
}

package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mamadbah2/wacrm/internal/domain/models"
	"github.com/mamadbah2/wacrm/internal/service/connections"
)

func TestEventsStream(t *testing.T) {
	mgr := connections.NewManager(nil, connections.Options{RenewInterval: time.Hour, RenewWindow: 2 * time.Hour}, nil)
	t.Cleanup(mgr.Close)
	if _, err := mgr.Register("c1", "Vendas", ""); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	r := gin.New()
	r.GET("/connections/events", NewEventsHandler(mgr, nil).Stream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/connections/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snapshot snapshotFrame
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.Type != "snapshot" || len(snapshot.Connections) != 1 || snapshot.Connections[0].ID != "c1" {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	if _, err := mgr.HandleQR("c1", "pair-me"); err != nil {
		t.Fatalf("HandleQR returned error: %v", err)
	}

	var evt models.LifecycleEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != models.EventQRCode || evt.ConnectionID != "c1" || evt.QRCode != "pair-me" {
		t.Fatalf("event = %+v", evt)
	}
}

func TestEventsStreamEndsOnManagerClose(t *testing.T) {
	mgr := connections.NewManager(nil, connections.Options{}, nil)

	r := gin.New()
	r.GET("/connections/events", NewEventsHandler(mgr, nil).Stream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/connections/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snapshot snapshotFrame
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	mgr.Close()

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

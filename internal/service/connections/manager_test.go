package connections

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vincent-petithory/dataurl"

	"github.com/mamadbah2/wacrm/internal/domain/models"
)

type fakeTransport struct {
	requests atomic.Int32
	logouts  atomic.Int32
	fail     error
}

func (f *fakeTransport) RequestQR(_ context.Context, id string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	n := f.requests.Add(1)
	return fmt.Sprintf("%s-qr-%d", id, n), nil
}

func (f *fakeTransport) Logout(context.Context, string) error {
	f.logouts.Add(1)
	return nil
}

func newTestManager(t *testing.T, transport Transport, opts Options) *Manager {
	t.Helper()
	m := NewManager(transport, opts, nil)

	var mu sync.Mutex
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	t.Cleanup(m.Close)
	return m
}

func waitForEvent(t *testing.T, events <-chan models.LifecycleEvent, want models.LifecycleEventType, timeout time.Duration) models.LifecycleEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed before %s", want)
			}
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestRegisterFirstBecomesActive(t *testing.T) {
	m := newTestManager(t, nil, Options{})

	first, err := m.Register("", "Vendas", "owner-1")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if first.ID == "" || first.State != models.StateDisconnected {
		t.Fatalf("unexpected connection: %+v", first)
	}
	if _, err := m.Register("second", "Suporte", "owner-1"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	active, ok := m.Active()
	if !ok || active.ID != first.ID {
		t.Fatalf("active = %+v, want %s", active, first.ID)
	}
	if list := m.List(); len(list) != 2 || list[0].ID != first.ID {
		t.Fatalf("list = %+v", list)
	}
}

func TestRegisterValidation(t *testing.T) {
	m := newTestManager(t, nil, Options{})

	if _, err := m.Register("a", " ", ""); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("err = %v, want ErrNameRequired", err)
	}
	if _, err := m.Register("a", "A", ""); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if _, err := m.Register("a", "A", ""); !errors.Is(err, ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}
}

func TestPairIssuesQR(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(t, transport, Options{RenewInterval: time.Hour, RenewWindow: 2 * time.Hour})
	_, _ = m.Register("c1", "Main", "")

	conn, err := m.Pair(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Pair returned error: %v", err)
	}
	if conn.State != models.StateConnecting {
		t.Fatalf("state = %s, want connecting", conn.State)
	}
	if conn.QRCode != "c1-qr-1" || conn.QRIssuedAt == nil {
		t.Fatalf("qr = %q issued %v", conn.QRCode, conn.QRIssuedAt)
	}
}

func TestPairTransportFailureReturnsToDisconnected(t *testing.T) {
	transport := &fakeTransport{fail: errors.New("gateway down")}
	m := newTestManager(t, transport, Options{})
	_, _ = m.Register("c1", "Main", "")

	if _, err := m.Pair(context.Background(), "c1"); err == nil {
		t.Fatalf("Pair must fail when the transport fails")
	}
	conn, _ := m.Get("c1")
	if conn.State != models.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", conn.State)
	}
}

func TestRenewalOverwritesAndExpires(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(t, transport, Options{RenewInterval: 20 * time.Millisecond, RenewWindow: 70 * time.Millisecond})
	_, _ = m.Register("c1", "Main", "")

	events, stop := m.Subscribe(64)
	defer stop()

	if _, err := m.Pair(context.Background(), "c1"); err != nil {
		t.Fatalf("Pair returned error: %v", err)
	}

	expired := waitForEvent(t, events, models.EventQRExpired, time.Second)
	if expired.State != models.StateDisconnected {
		t.Fatalf("expiry state = %s", expired.State)
	}

	issued := transport.requests.Load()
	if issued < 2 {
		t.Fatalf("qr requests = %d, want renewals before expiry", issued)
	}

	conn, _ := m.Get("c1")
	if conn.State != models.StateDisconnected || conn.QRCode != "" {
		t.Fatalf("after expiry: state %s qr %q", conn.State, conn.QRCode)
	}

	time.Sleep(80 * time.Millisecond)
	if after := transport.requests.Load(); after != issued {
		t.Fatalf("renewal kept running after expiry: %d -> %d", issued, after)
	}
}

func TestOpenedStopsRenewal(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(t, transport, Options{RenewInterval: 10 * time.Millisecond, RenewWindow: time.Second})
	_, _ = m.Register("c1", "Main", "")

	if _, err := m.Pair(context.Background(), "c1"); err != nil {
		t.Fatalf("Pair returned error: %v", err)
	}

	conn, err := m.HandleOpened("c1", IdentityFromJID("5511999999999:3@s.whatsapp.net", "Loja", ""))
	if err != nil {
		t.Fatalf("HandleOpened returned error: %v", err)
	}
	if !conn.IsConnected || conn.QRCode != "" || conn.ConnectedAt == nil {
		t.Fatalf("unexpected connection: %+v", conn)
	}
	if conn.WhatsApp == nil || conn.WhatsApp.Phone != "5511999999999" {
		t.Fatalf("identity = %+v", conn.WhatsApp)
	}

	time.Sleep(15 * time.Millisecond)
	issued := transport.requests.Load()
	time.Sleep(50 * time.Millisecond)
	if after := transport.requests.Load(); after != issued {
		t.Fatalf("renewal kept running after connect: %d -> %d", issued, after)
	}
}

func TestPairWhileConnected(t *testing.T) {
	m := newTestManager(t, &fakeTransport{}, Options{})
	_, _ = m.Register("c1", "Main", "")
	_, _ = m.HandleOpened("c1", nil)

	_, err := m.Pair(context.Background(), "c1")
	if !errors.Is(err, ErrAlreadyConnected) || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrAlreadyConnected", err)
	}
}

func TestRefreshQRRequiresConnecting(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(t, transport, Options{RenewInterval: time.Hour, RenewWindow: 2 * time.Hour})
	_, _ = m.Register("c1", "Main", "")

	if _, err := m.RefreshQR(context.Background(), "c1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	_, _ = m.Pair(context.Background(), "c1")
	conn, err := m.RefreshQR(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RefreshQR returned error: %v", err)
	}
	if conn.QRCode != "c1-qr-2" {
		t.Fatalf("qr = %q, want the second issued code", conn.QRCode)
	}
}

func TestHandleQRFromDisconnected(t *testing.T) {
	m := newTestManager(t, nil, Options{RenewInterval: time.Hour, RenewWindow: 2 * time.Hour})
	_, _ = m.Register("c1", "Main", "")

	conn, err := m.HandleQR("c1", "pushed-code")
	if err != nil {
		t.Fatalf("HandleQR returned error: %v", err)
	}
	if conn.State != models.StateConnecting || conn.QRCode != "pushed-code" {
		t.Fatalf("unexpected connection: %+v", conn)
	}

	conn, _ = m.HandleQR("c1", "second-code")
	if conn.QRCode != "second-code" {
		t.Fatalf("qr not overwritten: %q", conn.QRCode)
	}

	if _, err := m.HandleQR("c1", ""); !errors.Is(err, ErrQRRequired) {
		t.Fatalf("err = %v, want ErrQRRequired", err)
	}
}

func TestDisconnectLogsOutOnce(t *testing.T) {
	transport := &fakeTransport{}
	m := newTestManager(t, transport, Options{})
	_, _ = m.Register("c1", "Main", "")
	_, _ = m.HandleOpened("c1", nil)

	conn, err := m.Disconnect(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Disconnect returned error: %v", err)
	}
	if conn.State != models.StateDisconnected || conn.IsConnected {
		t.Fatalf("unexpected connection: %+v", conn)
	}
	if _, err := m.Disconnect(context.Background(), "c1"); err != nil {
		t.Fatalf("second Disconnect returned error: %v", err)
	}
	if transport.logouts.Load() != 1 {
		t.Fatalf("logouts = %d, want 1", transport.logouts.Load())
	}
}

func TestHandleRemoved(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	_, _ = m.Register("c1", "Main", "")
	_, _ = m.HandleOpened("c1", &models.WhatsAppIdentity{Name: "Loja"})

	conn, err := m.HandleRemoved("c1")
	if err != nil {
		t.Fatalf("HandleRemoved returned error: %v", err)
	}
	if conn.State != models.StateDisconnected || conn.WhatsApp != nil {
		t.Fatalf("unexpected connection: %+v", conn)
	}
	if _, err := m.HandleRemoved("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteActiveFallsBack(t *testing.T) {
	m := newTestManager(t, nil, Options{RenewInterval: time.Hour, RenewWindow: 2 * time.Hour})
	_, _ = m.Register("c1", "One", "")
	_, _ = m.Register("c2", "Two", "")
	_, _ = m.Register("c3", "Three", "")
	_, _ = m.SetActive("c2")
	_, _ = m.HandleQR("c2", "code")

	var mu sync.Mutex
	var seen []models.LifecycleEvent
	m.AddListener(func(evt models.LifecycleEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt)
	})

	if err := m.Delete(context.Background(), "c2"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	active, ok := m.Active()
	if !ok || active.ID != "c1" {
		t.Fatalf("active = %+v, want c1", active)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0].Type != models.EventDeleted || seen[1].Type != models.EventActiveChanged || seen[1].ConnectionID != "c1" {
		t.Fatalf("events = %+v", seen)
	}
}

func TestDeleteLastClearsActive(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	_, _ = m.Register("c1", "One", "")

	if err := m.Delete(context.Background(), "c1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok := m.Active(); ok {
		t.Fatalf("no connection should be active")
	}
	if err := m.Delete(context.Background(), "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	m := NewManager(&fakeTransport{}, Options{RenewInterval: 10 * time.Millisecond, RenewWindow: time.Second}, nil)
	_, _ = m.Register("c1", "Main", "")
	_, _ = m.Pair(context.Background(), "c1")

	events, _ := m.Subscribe(1)
	m.Close()

	for range events {
	}
	if _, err := m.Pair(context.Background(), "c1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}

	late, unsubscribe := m.Subscribe(1)
	defer unsubscribe()
	if _, open := <-late; open {
		t.Fatalf("subscription after close should be closed")
	}
}

func TestRenderDataURL(t *testing.T) {
	uri, err := RenderDataURL("2@abc,def,ghi")
	if err != nil {
		t.Fatalf("RenderDataURL returned error: %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/png") {
		t.Fatalf("uri prefix = %q", uri[:20])
	}
	parsed, err := dataurl.DecodeString(uri)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(string(parsed.Data), "\x89PNG") {
		t.Fatalf("payload is not a PNG")
	}

	if _, err := RenderDataURL(""); !errors.Is(err, ErrQRRequired) {
		t.Fatalf("err = %v, want ErrQRRequired", err)
	}
}

func TestIdentityFromJID(t *testing.T) {
	got := IdentityFromJID("5511988887777@s.whatsapp.net", "Ana", "")
	if got.Phone != "5511988887777" || got.Name != "Ana" {
		t.Fatalf("identity = %+v", got)
	}
	if IdentityFromJID("", "", "") != nil {
		t.Fatalf("empty identity should be nil")
	}
	if got := IdentityFromJID("x@s.whatsapp.net", "", "+55 11"); got.Phone != "+55 11" {
		t.Fatalf("explicit phone overridden: %+v", got)
	}
}

func TestDisconnectAndDeleteStopRenewal(t *testing.T) {
	stops := map[string]func(m *Manager) error{
		"disconnect": func(m *Manager) error {
			_, err := m.Disconnect(context.Background(), "c1")
			return err
		},
		"delete": func(m *Manager) error {
			return m.Delete(context.Background(), "c1")
		},
	}

	for name, stop := range stops {
		t.Run(name, func(t *testing.T) {
			transport := &fakeTransport{}
			m := newTestManager(t, transport, Options{RenewInterval: 10 * time.Millisecond, RenewWindow: time.Second})
			_, _ = m.Register("c1", "Main", "")

			if _, err := m.Pair(context.Background(), "c1"); err != nil {
				t.Fatalf("Pair returned error: %v", err)
			}
			time.Sleep(25 * time.Millisecond)

			if err := stop(m); err != nil {
				t.Fatalf("%s returned error: %v", name, err)
			}

			time.Sleep(15 * time.Millisecond)
			issued := transport.requests.Load()
			time.Sleep(50 * time.Millisecond)
			if after := transport.requests.Load(); after != issued {
				t.Fatalf("renewal kept running after %s: %d -> %d", name, issued, after)
			}
		})
	}
}

func TestStaleQRIsNotDeliveredAfterOpened(t *testing.T) {
	m := newTestManager(t, nil, Options{RenewInterval: time.Hour, RenewWindow: 2 * time.Hour})
	_, _ = m.Register("c1", "Main", "")

	events, stop := m.Subscribe(8)
	defer stop()

	if _, err := m.HandleQR("c1", "first"); err != nil {
		t.Fatalf("HandleQR returned error: %v", err)
	}
	m.mu.RLock()
	cycle := m.conns["c1"].cycle
	m.mu.RUnlock()

	if _, err := m.HandleOpened("c1", nil); err != nil {
		t.Fatalf("HandleOpened returned error: %v", err)
	}

	// A QR stored just before the session opened reaches delivery late.
	m.emitQR("c1", cycle, "first")

	var got []models.LifecycleEventType
	for len(events) > 0 {
		got = append(got, (<-events).Type)
	}
	want := []models.LifecycleEventType{models.EventQRCode, models.EventOpened}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestSupersededQRIsNotDelivered(t *testing.T) {
	m := newTestManager(t, nil, Options{RenewInterval: time.Hour, RenewWindow: 2 * time.Hour})
	_, _ = m.Register("c1", "Main", "")

	events, stop := m.Subscribe(8)
	defer stop()

	_, _ = m.HandleQR("c1", "first")
	m.mu.RLock()
	cycle := m.conns["c1"].cycle
	m.mu.RUnlock()
	_, _ = m.HandleQR("c1", "second")

	m.emitQR("c1", cycle, "first")

	var codes []string
	for len(events) > 0 {
		if evt := <-events; evt.Type == models.EventQRCode {
			codes = append(codes, evt.QRCode)
		}
	}
	if len(codes) != 2 || codes[1] != "second" {
		t.Fatalf("qr codes delivered = %v", codes)
	}
}

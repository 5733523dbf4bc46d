package connections

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/wacrm/internal/domain/models"
)

const (
	DefaultRenewInterval = 30 * time.Second
	DefaultRenewWindow   = 90 * time.Second
)

var (
	ErrNotFound          = errors.New("connection not found")
	ErrExists            = errors.New("connection already exists")
	ErrNameRequired      = errors.New("connection name is required")
	ErrQRRequired        = errors.New("qr code is required")
	ErrInvalidTransition = errors.New("invalid connection state transition")
	ErrAlreadyConnected  = fmt.Errorf("%w: connection already connected", ErrInvalidTransition)
	ErrClosed            = errors.New("connection manager closed")
)

// Transport is the pairing side of the messaging gateway.
type Transport interface {
	RequestQR(ctx context.Context, connectionID string) (string, error)
	Logout(ctx context.Context, connectionID string) error
}

// Service describes the operations the HTTP layer can perform.
type Service interface {
	Register(id, name, ownerID string) (models.Connection, error)
	Pair(ctx context.Context, id string) (models.Connection, error)
	RefreshQR(ctx context.Context, id string) (models.Connection, error)
	HandleQR(id, code string) (models.Connection, error)
	HandleOpened(id string, identity *models.WhatsAppIdentity) (models.Connection, error)
	HandleRemoved(id string) (models.Connection, error)
	Disconnect(ctx context.Context, id string) (models.Connection, error)
	Delete(ctx context.Context, id string) error
	Get(id string) (models.Connection, error)
	List() []models.Connection
	Active() (models.Connection, bool)
	SetActive(id string) (models.Connection, error)
	Subscribe(buffer int) (<-chan models.LifecycleEvent, func())
}

// Options configures QR renewal.
type Options struct {
	RenewInterval time.Duration
	RenewWindow   time.Duration
}

type entry struct {
	conn   models.Connection
	cycle  uint64
	cancel context.CancelFunc
}

// Manager owns the connection registry and drives the
// disconnected -> connecting -> connected state machine.
type Manager struct {
	transport Transport
	opts      Options
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	conns  map[string]*entry
	active string
	cycles uint64
	closed bool
	wg     sync.WaitGroup

	// emitMu keeps delivery order equal to mutation order for QR events.
	emitMu     sync.Mutex
	subsMu     sync.RWMutex
	subs       map[int]chan models.LifecycleEvent
	subsClosed bool
	nextSub    int
	listeners  []func(models.LifecycleEvent)
}

// NewManager builds an empty registry. transport may be nil, in which case
// QR codes only arrive through HandleQR.
func NewManager(transport Transport, opts Options, logger *zap.Logger) *Manager {
	if opts.RenewInterval <= 0 {
		opts.RenewInterval = DefaultRenewInterval
	}
	if opts.RenewWindow <= 0 {
		opts.RenewWindow = DefaultRenewWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		transport: transport,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		conns:     make(map[string]*entry),
		subs:      make(map[int]chan models.LifecycleEvent),
	}
}

// Register adds a disconnected connection. An empty id gets a generated one.
// The first registered connection becomes the active one.
func (m *Manager) Register(id, name, ownerID string) (models.Connection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Connection{}, ErrNameRequired
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return models.Connection{}, ErrClosed
	}
	if _, ok := m.conns[id]; ok {
		m.mu.Unlock()
		return models.Connection{}, fmt.Errorf("%w: %s", ErrExists, id)
	}

	now := m.now().UTC()
	conn := models.Connection{
		ID:        id,
		Name:      name,
		OwnerID:   ownerID,
		State:     models.StateDisconnected,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conns[id] = &entry{conn: conn}

	events := []models.LifecycleEvent{{Type: models.EventRegistered, ConnectionID: id, State: conn.State}}
	if m.active == "" {
		m.active = id
		events = append(events, models.LifecycleEvent{Type: models.EventActiveChanged, ConnectionID: id})
	}
	m.mu.Unlock()

	m.logger.Info("connection registered", zap.String("connection_id", id), zap.String("name", name))
	m.emit(events...)
	return conn, nil
}

// Pair starts a pairing cycle and requests the first QR code. Pairing a
// connecting connection restarts its renewal window.
func (m *Manager) Pair(ctx context.Context, id string) (models.Connection, error) {
	return m.startPairing(ctx, id, func(state models.ConnectionState) error {
		if state == models.StateConnected {
			return ErrAlreadyConnected
		}
		return nil
	})
}

// RefreshQR requests a fresh QR code for a connecting connection and restarts
// its renewal window.
func (m *Manager) RefreshQR(ctx context.Context, id string) (models.Connection, error) {
	return m.startPairing(ctx, id, func(state models.ConnectionState) error {
		if state != models.StateConnecting {
			return fmt.Errorf("%w: refresh qr while %s", ErrInvalidTransition, state)
		}
		return nil
	})
}

func (m *Manager) startPairing(ctx context.Context, id string, allow func(models.ConnectionState) error) (models.Connection, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return models.Connection{}, ErrClosed
	}
	e, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return models.Connection{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := allow(e.conn.State); err != nil {
		m.mu.Unlock()
		return models.Connection{}, err
	}
	cycle := m.beginPairingLocked(e)
	m.mu.Unlock()

	m.logger.Info("pairing started", zap.String("connection_id", id))

	if m.transport != nil {
		if err := m.fetchQR(ctx, id, cycle); err != nil {
			m.abort(id, cycle)
			return models.Connection{}, fmt.Errorf("request qr: %w", err)
		}
	}
	return m.Get(id)
}

// HandleQR records a QR code pushed by the transport. A disconnected
// connection moves to connecting and gets a renewal window.
func (m *Manager) HandleQR(id, code string) (models.Connection, error) {
	if code == "" {
		return models.Connection{}, ErrQRRequired
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return models.Connection{}, ErrClosed
	}
	e, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return models.Connection{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.conn.State == models.StateConnected {
		m.mu.Unlock()
		return models.Connection{}, ErrAlreadyConnected
	}
	if e.conn.State == models.StateDisconnected {
		m.beginPairingLocked(e)
	}
	m.setQRLocked(e, code)
	conn, cycle := e.conn, e.cycle
	m.mu.Unlock()

	m.emitQR(id, cycle, code)
	return conn, nil
}

// HandleOpened marks the connection as connected and stops QR renewal.
func (m *Manager) HandleOpened(id string, identity *models.WhatsAppIdentity) (models.Connection, error) {
	m.mu.Lock()
	e, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return models.Connection{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.stopRenewalLocked(e)

	now := m.now().UTC()
	if e.conn.State != models.StateConnected {
		e.conn.ConnectedAt = &now
	}
	e.conn.State = models.StateConnected
	e.conn.IsConnected = true
	e.conn.QRCode = ""
	e.conn.QRIssuedAt = nil
	if identity != nil {
		ident := *identity
		e.conn.WhatsApp = &ident
	}
	e.conn.UpdatedAt = now
	conn := e.conn
	m.mu.Unlock()

	m.logger.Info("connection opened", zap.String("connection_id", id))
	m.emit(models.LifecycleEvent{Type: models.EventOpened, ConnectionID: id, State: conn.State})
	return conn, nil
}

// HandleRemoved records that the transport dropped the session.
func (m *Manager) HandleRemoved(id string) (models.Connection, error) {
	conn, prev, err := m.toDisconnected(id)
	if err != nil {
		return models.Connection{}, err
	}
	if prev != models.StateDisconnected {
		m.logger.Info("connection removed by transport", zap.String("connection_id", id))
		m.emit(models.LifecycleEvent{Type: models.EventDisconnected, ConnectionID: id, State: conn.State})
	}
	return conn, nil
}

// Disconnect moves a connecting or connected connection to disconnected and
// logs the session out of the transport. Disconnecting twice is a no-op.
func (m *Manager) Disconnect(ctx context.Context, id string) (models.Connection, error) {
	conn, prev, err := m.toDisconnected(id)
	if err != nil {
		return models.Connection{}, err
	}
	if prev == models.StateDisconnected {
		return conn, nil
	}

	if prev == models.StateConnected {
		m.logout(ctx, id)
	}
	m.logger.Info("connection disconnected", zap.String("connection_id", id))
	m.emit(models.LifecycleEvent{Type: models.EventDisconnected, ConnectionID: id, State: conn.State})
	return conn, nil
}

// Delete removes the connection in any state. When it was the active one the
// oldest remaining connection, or none, becomes active.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.stopRenewalLocked(e)
	wasConnected := e.conn.State == models.StateConnected
	delete(m.conns, id)

	events := []models.LifecycleEvent{{Type: models.EventDeleted, ConnectionID: id}}
	if m.active == id {
		m.active = m.oldestLocked()
		events = append(events, models.LifecycleEvent{Type: models.EventActiveChanged, ConnectionID: m.active})
	}
	m.mu.Unlock()

	if wasConnected {
		m.logout(ctx, id)
	}
	m.logger.Info("connection deleted", zap.String("connection_id", id))
	m.emit(events...)
	return nil
}

// Get returns a snapshot of one connection.
func (m *Manager) Get(id string) (models.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.conns[id]
	if !ok {
		return models.Connection{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.conn, nil
}

// List returns all connections, oldest first.
func (m *Manager) List() []models.Connection {
	m.mu.RLock()
	out := make([]models.Connection, 0, len(m.conns))
	for _, e := range m.conns {
		out = append(out, e.conn)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out
}

// Active returns the selected connection, if any.
func (m *Manager) Active() (models.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.conns[m.active]; ok {
		return e.conn, true
	}
	return models.Connection{}, false
}

// SetActive selects a connection.
func (m *Manager) SetActive(id string) (models.Connection, error) {
	m.mu.Lock()
	e, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return models.Connection{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	changed := m.active != id
	m.active = id
	conn := e.conn
	m.mu.Unlock()

	if changed {
		m.emit(models.LifecycleEvent{Type: models.EventActiveChanged, ConnectionID: id})
	}
	return conn, nil
}

// AddListener registers fn to be called synchronously for every event.
// Listeners run outside the registry lock, one event at a time, and must not
// call back into the manager.
func (m *Manager) AddListener(fn func(models.LifecycleEvent)) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Subscribe returns a buffered event stream and a function that ends it.
// Events are dropped for subscribers that fall behind. After Close the
// returned channel is already closed.
func (m *Manager) Subscribe(buffer int) (<-chan models.LifecycleEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan models.LifecycleEvent, buffer)

	m.subsMu.Lock()
	if m.subsClosed {
		m.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	key := m.nextSub
	m.nextSub++
	m.subs[key] = ch
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			defer m.subsMu.Unlock()
			if sub, ok := m.subs[key]; ok {
				delete(m.subs, key)
				close(sub)
			}
		})
	}
}

// Close stops every renewal goroutine and ends all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for _, e := range m.conns {
		m.stopRenewalLocked(e)
	}
	m.mu.Unlock()

	m.wg.Wait()

	m.subsMu.Lock()
	m.subsClosed = true
	for key, ch := range m.subs {
		delete(m.subs, key)
		close(ch)
	}
	m.subsMu.Unlock()
}

func (m *Manager) beginPairingLocked(e *entry) uint64 {
	m.stopRenewalLocked(e)

	e.conn.State = models.StateConnecting
	e.conn.IsConnected = false
	e.conn.QRCode = ""
	e.conn.QRIssuedAt = nil
	e.conn.UpdatedAt = m.now().UTC()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	m.wg.Add(1)
	go m.renew(ctx, e.conn.ID, e.cycle)
	return e.cycle
}

// stopRenewalLocked cancels the running renewal and advances the cycle so a
// goroutine that is mid-request can no longer write.
func (m *Manager) stopRenewalLocked(e *entry) {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	m.cycles++
	e.cycle = m.cycles
}

func (m *Manager) setQRLocked(e *entry, code string) {
	now := m.now().UTC()
	e.conn.QRCode = code
	e.conn.QRIssuedAt = &now
	e.conn.UpdatedAt = now
}

func (m *Manager) renew(ctx context.Context, id string, cycle uint64) {
	defer m.wg.Done()

	started := time.Now()
	ticker := time.NewTicker(m.opts.RenewInterval)
	defer ticker.Stop()
	window := time.NewTimer(m.opts.RenewWindow)
	defer window.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-window.C:
			m.expire(id, cycle)
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if time.Since(started) >= m.opts.RenewWindow {
				m.expire(id, cycle)
				return
			}
			if m.transport == nil {
				continue
			}
			if err := m.fetchQR(ctx, id, cycle); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.Warn("qr renewal failed", zap.String("connection_id", id), zap.Error(err))
			}
		}
	}
}

func (m *Manager) fetchQR(ctx context.Context, id string, cycle uint64) error {
	code, err := m.transport.RequestQR(ctx, id)
	if err != nil {
		return err
	}
	if code == "" {
		return ErrQRRequired
	}

	m.mu.Lock()
	e, ok := m.conns[id]
	if !ok || e.cycle != cycle || e.conn.State != models.StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.setQRLocked(e, code)
	m.mu.Unlock()

	m.logger.Debug("qr issued", zap.String("connection_id", id))
	m.emitQR(id, cycle, code)
	return nil
}

// emitQR publishes a QR event only if that code is still the current one of
// the same pairing cycle once it is this event's turn to be delivered.
func (m *Manager) emitQR(id string, cycle uint64, code string) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.RLock()
	e, ok := m.conns[id]
	current := ok && e.cycle == cycle && e.conn.State == models.StateConnecting && e.conn.QRCode == code
	m.mu.RUnlock()
	if !current {
		return
	}
	m.deliver(models.LifecycleEvent{Type: models.EventQRCode, ConnectionID: id, State: models.StateConnecting, QRCode: code})
}

func (m *Manager) expire(id string, cycle uint64) {
	if !m.endCycle(id, cycle) {
		return
	}
	m.logger.Info("qr window expired", zap.String("connection_id", id))
	m.emit(models.LifecycleEvent{Type: models.EventQRExpired, ConnectionID: id, State: models.StateDisconnected})
}

func (m *Manager) abort(id string, cycle uint64) {
	if !m.endCycle(id, cycle) {
		return
	}
	m.emit(models.LifecycleEvent{Type: models.EventDisconnected, ConnectionID: id, State: models.StateDisconnected})
}

// endCycle returns a still-current connecting connection to disconnected.
func (m *Manager) endCycle(id string, cycle uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.conns[id]
	if !ok || e.cycle != cycle || e.conn.State != models.StateConnecting {
		return false
	}
	m.stopRenewalLocked(e)
	e.conn.State = models.StateDisconnected
	e.conn.QRCode = ""
	e.conn.QRIssuedAt = nil
	e.conn.UpdatedAt = m.now().UTC()
	return true
}

// toDisconnected returns the updated snapshot and the state it left.
func (m *Manager) toDisconnected(id string) (models.Connection, models.ConnectionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.conns[id]
	if !ok {
		return models.Connection{}, "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := e.conn.State
	if prev == models.StateDisconnected {
		return e.conn, prev, nil
	}
	m.stopRenewalLocked(e)
	e.conn.State = models.StateDisconnected
	e.conn.IsConnected = false
	e.conn.QRCode = ""
	e.conn.QRIssuedAt = nil
	e.conn.ConnectedAt = nil
	e.conn.WhatsApp = nil
	e.conn.UpdatedAt = m.now().UTC()
	return e.conn, prev, nil
}

func (m *Manager) logout(ctx context.Context, id string) {
	if m.transport == nil {
		return
	}
	if err := m.transport.Logout(ctx, id); err != nil {
		m.logger.Warn("transport logout failed", zap.String("connection_id", id), zap.Error(err))
	}
}

func (m *Manager) oldestLocked() string {
	var oldest *models.Connection
	for _, e := range m.conns {
		if oldest == nil || before(e.conn, *oldest) {
			c := e.conn
			oldest = &c
		}
	}
	if oldest == nil {
		return ""
	}
	return oldest.ID
}

func (m *Manager) emit(events ...models.LifecycleEvent) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	m.deliver(events...)
}

func (m *Manager) deliver(events ...models.LifecycleEvent) {
	m.subsMu.RLock()
	listeners := slices.Clone(m.listeners)
	m.subsMu.RUnlock()

	for _, evt := range events {
		if evt.At.IsZero() {
			evt.At = m.now().UTC()
		}
		for _, fn := range listeners {
			fn(evt)
		}
		m.publish(evt)
	}
}

func (m *Manager) publish(evt models.LifecycleEvent) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func before(a, b models.Connection) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

package app

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harvain/satellite-service/internal/config"
	"github.com/harvain/satellite-service/internal/domain"
	"github.com/harvain/satellite-service/internal/store"
)

// memoryRepo is an in-memory store.Repository. Transactions snapshot the maps and
// restore them when fn fails. Row locks are not modelled.
type memoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	clients map[int64]*domain.Client
	sats    map[int64]*domain.Satellite
	history []domain.HistoryEntry

	// beforeListWithClient runs at the start of ListSatellitesWithClient.
	beforeListWithClient func()
	saveClientErr        error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		clients: make(map[int64]*domain.Client),
		sats:    make(map[int64]*domain.Satellite),
	}
}

func (r *memoryRepo) seedClient(c *domain.Client) *domain.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	c.Version = 1
	r.clients[c.ID] = c.Clone()
	return c
}

func (r *memoryRepo) seedSatellite(s *domain.Satellite) *domain.Satellite {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	s.Version = 1
	r.sats[s.ID] = s.Clone()
	return s
}

func (r *memoryRepo) client(id int64) *domain.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		return c.Clone()
	}
	return nil
}

func (r *memoryRepo) satellite(id int64) *domain.Satellite {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sats[id]; ok {
		return s.Clone()
	}
	return nil
}

func (r *memoryRepo) historyEntries() []domain.HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.HistoryEntry(nil), r.history...)
}

func (r *memoryRepo) GetClient(ctx context.Context, id int64) (*domain.Client, error) {
	if c := r.client(id); c != nil {
		return c, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memoryRepo) GetSatellite(ctx context.Context, id int64) (*domain.Satellite, error) {
	if s := r.satellite(id); s != nil {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memoryRepo) LockClient(ctx context.Context, id int64) (*domain.Client, error) {
	return r.GetClient(ctx, id)
}

func (r *memoryRepo) LockSatellite(ctx context.Context, id int64) (*domain.Satellite, error) {
	return r.GetSatellite(ctx, id)
}

func (r *memoryRepo) listSatellites(keep func(*domain.Satellite) bool) []*domain.Satellite {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Satellite
	for _, s := range r.sats {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryRepo) ListSatellitesByClient(ctx context.Context, clientID int64) ([]*domain.Satellite, error) {
	return r.listSatellites(func(s *domain.Satellite) bool { return s.BelongsTo(clientID) }), nil
}

func (r *memoryRepo) ListSatellitesNeedingMigration(ctx context.Context) ([]*domain.Satellite, error) {
	return r.listSatellites(func(s *domain.Satellite) bool { return s.System && s.ClientID != nil }), nil
}

func (r *memoryRepo) ListSystemTemplates(ctx context.Context) ([]*domain.Satellite, error) {
	return r.listSatellites(func(s *domain.Satellite) bool { return s.IsTemplate() }), nil
}

func (r *memoryRepo) ListSatellitesWithClient(ctx context.Context) ([]*domain.Satellite, error) {
	if r.beforeListWithClient != nil {
		r.beforeListWithClient()
	}
	return r.listSatellites(func(s *domain.Satellite) bool { return s.ClientID != nil }), nil
}

func (r *memoryRepo) ListClientsWithSatellites(ctx context.Context) ([]*domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owners := make(map[int64]bool)
	for _, s := range r.sats {
		if s.ClientID != nil {
			owners[*s.ClientID] = true
		}
	}
	var out []*domain.Client
	for id := range owners {
		if c, ok := r.clients[id]; ok {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) CreateClient(ctx context.Context, c *domain.Client) error {
	r.seedClient(c)
	return nil
}

func (r *memoryRepo) CreateSatellite(ctx context.Context, s *domain.Satellite) error {
	r.seedSatellite(s)
	return nil
}

func (r *memoryRepo) SaveClient(ctx context.Context, c *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveClientErr != nil {
		return r.saveClientErr
	}
	stored, ok := r.clients[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != c.Version {
		return domain.ErrConcurrentModification
	}
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	r.clients[c.ID] = c.Clone()
	return nil
}

func (r *memoryRepo) SaveSatellite(ctx context.Context, s *domain.Satellite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sats[s.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != s.Version {
		return domain.ErrConcurrentModification
	}
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	r.sats[s.ID] = s.Clone()
	return nil
}

func (r *memoryRepo) SetSatellitesEmailVerified(ctx context.Context, clientID, excludeID int64, verified bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sats {
		if id == excludeID || !s.BelongsTo(clientID) || s.EmailVerified == verified {
			continue
		}
		s.EmailVerified = verified
		s.Version++
		n++
	}
	return n, nil
}

func (r *memoryRepo) DeleteClient(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.clients, id)
	for sid, s := range r.sats {
		if s.BelongsTo(id) {
			delete(r.sats, sid)
		}
	}
	return nil
}

func (r *memoryRepo) InsertHistory(ctx context.Context, e *domain.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = int64(len(r.history) + 1)
	r.history = append(r.history, *e)
	return nil
}

func (r *memoryRepo) ListHistory(ctx context.Context, clientID int64, limit int) ([]domain.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.HistoryEntry
	for i := len(r.history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := r.history[i]
		if e.ClientID != nil && *e.ClientID == clientID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(tx store.Repository) error) error {
	r.mu.Lock()
	clients := make(map[int64]*domain.Client, len(r.clients))
	for id, c := range r.clients {
		clients[id] = c.Clone()
	}
	sats := make(map[int64]*domain.Satellite, len(r.sats))
	for id, s := range r.sats {
		sats[id] = s.Clone()
	}
	history := len(r.history)
	nextID := r.nextID
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.clients, r.sats, r.history, r.nextID = clients, sats, r.history[:history], nextID
		r.mu.Unlock()
		return err
	}
	return nil
}

type publishedEvent struct {
	exchange   string
	routingKey string
	payload    interface{}
}

type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, payload: payload})
	return nil
}

func (p *publisherStub) byKey(routingKey string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.routingKey == routingKey {
			out = append(out, e)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(repo *memoryRepo, now time.Time) (*Service, *publisherStub) {
	pub := &publisherStub{}
	cfg := config.Config{
		SatelliteEventsExchange: "satellite_events",
		DefaultCommission:       "0.00025",
		SecretKey:               "test-secret",
		EmailTokenTTLHours:      72,
	}
	svc := NewService(repo, pub, testLogger(), cfg)
	svc.now = func() time.Time { return now }
	return svc, pub
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func int64Ptr(v int64) *int64 { return &v }

func durPtr(d time.Duration) *time.Duration { return &d }

func seedClientWithSatellites(repo *memoryRepo, client *domain.Client, sats ...*domain.Satellite) {
	repo.seedClient(client)
	for _, s := range sats {
		id := client.ID
		s.ClientID = &id
		repo.seedSatellite(s)
	}
}

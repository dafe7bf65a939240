// Package repotest provides an in-memory order store for tests. It honours the
// same contract as the Postgres repositories: version-guarded updates,
// item inserts that require their order, and all-or-nothing transactions.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vaidashi/order-processing-api/internal/models"
	"github.com/vaidashi/order-processing-api/internal/repository"
)

// Store is a thread-safe in-memory OrderStore, OutboxStore and TransactionManager
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	orders     map[int64]*models.Order
	outbox     []*models.OutboxMessage
	nextOrder  int64
	nextItem   int64
	nextOutbox int64

	// OnUpdate runs before an existing order is written. A non-nil error
	// aborts the write and is returned from Save.
	OnUpdate func(order *models.Order) error

	// OutboxErr, when set, is returned by every outbox append
	OutboxErr error
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{orders: make(map[int64]*models.Order)}
}

var (
	_ repository.OrderStore         = (*Store)(nil)
	_ repository.OutboxStore        = (*Store)(nil)
	_ repository.TransactionManager = (*Store)(nil)
)

// Save inserts or version-guard updates the order header
func (s *Store) Save(_ context.Context, order *models.Order) error {
	if order.ID != 0 && s.OnUpdate != nil {
		if err := s.OnUpdate(order); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := models.GetCurrentTime()

	if order.ID == 0 {
		s.nextOrder++
		order.ID = s.nextOrder
		order.Version = 1
		order.CreatedAt = now
		order.UpdatedAt = now

		stored := order.Clone()
		stored.Items = []models.OrderItem{}
		s.orders[order.ID] = stored
		return nil
	}

	existing, ok := s.orders[order.ID]

	if !ok {
		return repository.ErrNotFound
	}

	if existing.Version != order.Version {
		return repository.ErrStaleVersion
	}

	items := existing.Items
	stored := order.Clone()
	stored.Items = items
	stored.Version = existing.Version + 1
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = now
	s.orders[order.ID] = stored

	order.Version = stored.Version
	order.UpdatedAt = now
	return nil
}

// SaveItem appends an item to an existing order
func (s *Store) SaveItem(_ context.Context, item *models.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[item.OrderID]

	if !ok {
		return fmt.Errorf("%w: order %d", repository.ErrNotFound, item.OrderID)
	}

	s.nextItem++
	item.ID = s.nextItem
	order.Items = append(order.Items, *item)
	return nil
}

// FindByID returns a copy of the order with its items
func (s *Store) FindByID(_ context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]

	if !ok {
		return nil, repository.ErrNotFound
	}

	return order.Clone(), nil
}

// FindByStatus returns copies of the orders in status ordered by id
func (s *Store) FindByStatus(_ context.Context, status models.OrderStatus) ([]*models.Order, error) {
	return s.filter(func(o *models.Order) bool { return o.Status == status }), nil
}

// FindAllWithItems returns copies of every order ordered by id
func (s *Store) FindAllWithItems(_ context.Context) ([]*models.Order, error) {
	return s.filter(func(*models.Order) bool { return true }), nil
}

func (s *Store) filter(keep func(o *models.Order) bool) []*models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := []*models.Order{}

	for _, o := range s.orders {
		if keep(o) {
			orders = append(orders, o.Clone())
		}
	}

	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders
}

// Create appends an outbox message
func (s *Store) Create(_ context.Context, message *models.OutboxMessage) error {
	if s.OutboxErr != nil {
		return s.OutboxErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOutbox++
	message.ID = s.nextOutbox
	s.outbox = append(s.outbox, message)
	return nil
}

// Orders implements repository.TxRepos
func (s *Store) Orders() repository.OrderStore { return s }

// Outbox implements repository.TxRepos
func (s *Store) Outbox() repository.OutboxStore { return s }

// WithinTx serialises transactions and restores a snapshot when fn fails
func (s *Store) WithinTx(_ context.Context, fn func(r repository.TxRepos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.snapshot()

	if err := fn(s); err != nil {
		s.restore(snapshot)
		return err
	}

	return nil
}

// Messages returns the outbox messages written so far
func (s *Store) Messages() []*models.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*models.OutboxMessage(nil), s.outbox...)
}

// Bump simulates a concurrent writer by moving the stored version forward
func (s *Store) Bump(id int64, status models.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order, ok := s.orders[id]; ok {
		order.Version++
		if status != "" {
			order.Status = status
		}
	}
}

type state struct {
	orders     map[int64]*models.Order
	outbox     []*models.OutboxMessage
	nextOrder  int64
	nextItem   int64
	nextOutbox int64
}

func (s *Store) snapshot() state {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := make(map[int64]*models.Order, len(s.orders))

	for id, o := range s.orders {
		orders[id] = o.Clone()
	}

	return state{
		orders:     orders,
		outbox:     append([]*models.OutboxMessage(nil), s.outbox...),
		nextOrder:  s.nextOrder,
		nextItem:   s.nextItem,
		nextOutbox: s.nextOutbox,
	}
}

func (s *Store) restore(st state) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders = st.orders
	s.outbox = st.outbox
	s.nextOrder = st.nextOrder
	s.nextItem = st.nextItem
	s.nextOutbox = st.nextOutbox
}

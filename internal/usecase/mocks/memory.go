package mocks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/usecase"
)

var (
	// ErrTxClosed is returned when a finished memory transaction is used again.
	ErrTxClosed = errors.New("memory transaction already closed")
	// ErrReadOnlyTx is returned when a write is attempted in a read-only transaction.
	ErrReadOnlyTx = errors.New("memory transaction is read-only")
)

// MemoryStore is an in-memory, transactional implementation of the usecase
// repositories. Transactions are serialized and roll back to a snapshot, so
// tests can observe atomicity and lock order without a database.
type MemoryStore struct {
	txMu sync.Mutex // held for the lifetime of a transaction
	mu   sync.Mutex // guards the fields below

	congregations map[string]*domain.Congregation
	transactions  map[string]*domain.Transaction
	events        []*domain.OutboxEvent
	auditLogs     []*domain.AuditLog
	failures      map[string]error
	locks         []string
	commits       int
	rollbacks     int
	seq           int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		congregations: make(map[string]*domain.Congregation),
		transactions:  make(map[string]*domain.Transaction),
		failures:      make(map[string]error),
	}
}

// Method names accepted by FailOn.
const (
	OpBegin                 = "Begin"
	OpCommit                = "Commit"
	OpCongregationCreate    = "Congregation.Create"
	OpCongregationLock      = "Congregation.GetByIDForUpdate"
	OpCongregationUpdate    = "Congregation.UpdateBalance"
	OpCongregationEdit      = "Congregation.Update"
	OpCongregationDelete    = "Congregation.Delete"
	OpTransactionCreate     = "Transaction.Create"
	OpTransactionLock       = "Transaction.GetByIDForUpdate"
	OpTransactionUpdate     = "Transaction.Update"
	OpTransactionDelete     = "Transaction.Delete"
	OpTransactionTotals     = "Transaction.ConfirmedTotals"
	OpOutboxCreate          = "Outbox.Create"
	OpAuditCreate           = "Audit.CreateTx"
	OpCongregationGetByID   = "Congregation.GetByID"
	OpTransactionCategories = "Transaction.CategoryTotals"
)

// FailOn makes every call of op return err until cleared with a nil err.
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *MemoryStore) failure(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[op]
}

// SeedCongregation stores c as committed state.
func (s *MemoryStore) SeedCongregation(c *domain.Congregation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *c
	s.congregations[c.ID] = &clone
}

// SeedTransaction stores t as committed state without touching balances.
func (s *MemoryStore) SeedTransaction(t *domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.ID] = t.Clone()
}

// Balance returns the recorded balance of a congregation.
func (s *MemoryStore) Balance(congregationID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.congregations[congregationID]; ok {
		return c.Balance
	}
	return decimal.Zero
}

// ConfirmedSum returns the signed sum of CONFIRMED transactions of a congregation.
func (s *MemoryStore) ConfirmedSum(congregationID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, t := range s.transactions {
		if t.CongregationID == congregationID && t.IsConfirmed() {
			sum = sum.Add(t.SignedAmount())
		}
	}
	return sum
}

// Transaction returns a committed transaction, if present.
func (s *MemoryStore) Transaction(id string) (*domain.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Events returns the outbox events written so far.
func (s *MemoryStore) Events() []*domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.OutboxEvent(nil), s.events...)
}

// AuditLogs returns the audit logs written so far.
func (s *MemoryStore) AuditLogs() []*domain.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.AuditLog(nil), s.auditLogs...)
}

// Locks returns the row locks taken, in order, as "kind:id".
func (s *MemoryStore) Locks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.locks...)
}

// Stats returns the number of committed and rolled back transactions.
func (s *MemoryStore) Stats() (commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits, s.rollbacks
}

// TxManager returns a usecase.TxManager backed by the store.
func (s *MemoryStore) TxManager() usecase.TxManager { return memoryTxManager{s} }

// Congregations returns a usecase.CongregationRepository backed by the store.
func (s *MemoryStore) Congregations() usecase.CongregationRepository { return memoryCongregationRepo{s} }

// Transactions returns a usecase.TransactionRepository backed by the store.
func (s *MemoryStore) Transactions() usecase.TransactionRepository { return memoryTransactionRepo{s} }

// Outbox returns a usecase.OutboxRepository backed by the store.
func (s *MemoryStore) Outbox() usecase.OutboxRepository { return memoryOutboxRepo{s} }

// Audit returns a usecase.AuditRepository backed by the store.
func (s *MemoryStore) Audit() usecase.AuditRepository { return memoryAuditRepo{s} }

// IDGenerator returns a deterministic usecase.IDGenerator.
func (s *MemoryStore) IDGenerator() usecase.IDGenerator { return memoryIDGen{s} }

type snapshot struct {
	congregations map[string]*domain.Congregation
	transactions  map[string]*domain.Transaction
	events        int
	auditLogs     int
}

func (s *MemoryStore) snapshot() snapshot {
	snap := snapshot{
		congregations: make(map[string]*domain.Congregation, len(s.congregations)),
		transactions:  make(map[string]*domain.Transaction, len(s.transactions)),
		events:        len(s.events),
		auditLogs:     len(s.auditLogs),
	}
	for id, c := range s.congregations {
		clone := *c
		snap.congregations[id] = &clone
	}
	for id, t := range s.transactions {
		snap.transactions[id] = t.Clone()
	}
	return snap
}

type memoryTxManager struct{ s *MemoryStore }

func (m memoryTxManager) Begin(ctx context.Context) (usecase.DBTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.s.failure(OpBegin); err != nil {
		return nil, err
	}

	m.s.txMu.Lock()
	m.s.mu.Lock()
	snap := m.s.snapshot()
	m.s.mu.Unlock()

	return &memoryTx{s: m.s, snap: snap}, nil
}

// BeginReadOnly copies the committed state. Waiting for txMu keeps the
// writes of an open transaction out of the copy.
func (m memoryTxManager) BeginReadOnly(ctx context.Context) (usecase.DBTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.s.failure(OpBegin); err != nil {
		return nil, err
	}

	m.s.txMu.Lock()
	m.s.mu.Lock()
	snap := m.s.snapshot()
	m.s.mu.Unlock()
	m.s.txMu.Unlock()

	return &memoryReadTx{snap: snap}, nil
}

type memoryReadTx struct {
	snap snapshot
	done bool
}

func (t *memoryReadTx) Commit(context.Context) error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true
	return nil
}

func (t *memoryReadTx) Rollback(context.Context) error {
	t.done = true
	return nil
}

type memoryTx struct {
	s    *MemoryStore
	snap snapshot
	done bool
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxClosed
	}
	if err := t.s.failure(OpCommit); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.done = true
	t.s.mu.Lock()
	t.s.commits++
	t.s.mu.Unlock()
	t.s.txMu.Unlock()
	return nil
}

func (t *memoryTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}

	t.done = true
	t.s.mu.Lock()
	t.s.congregations = t.snap.congregations
	t.s.transactions = t.snap.transactions
	t.s.events = t.s.events[:t.snap.events]
	t.s.auditLogs = t.s.auditLogs[:t.snap.auditLogs]
	t.s.rollbacks++
	t.s.mu.Unlock()
	t.s.txMu.Unlock()
	return nil
}

func checkTx(tx usecase.DBTx) error {
	if _, ok := tx.(*memoryReadTx); ok {
		return ErrReadOnlyTx
	}
	mt, ok := tx.(*memoryTx)
	if !ok {
		return fmt.Errorf("unexpected transaction type %T", tx)
	}
	if mt.done {
		return ErrTxClosed
	}
	return nil
}

// view returns the rows a read inside tx observes. Call release once done
// with them.
func (s *MemoryStore) view(tx usecase.DBTx) (rows snapshot, release func(), err error) {
	if rt, ok := tx.(*memoryReadTx); ok {
		if rt.done {
			return snapshot{}, nil, ErrTxClosed
		}
		return rt.snap, func() {}, nil
	}
	if err := checkTx(tx); err != nil {
		return snapshot{}, nil, err
	}
	s.mu.Lock()
	return snapshot{congregations: s.congregations, transactions: s.transactions}, s.mu.Unlock, nil
}

type memoryCongregationRepo struct{ s *MemoryStore }

func (r memoryCongregationRepo) Create(_ context.Context, tx usecase.DBTx, c *domain.Congregation) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	if err := r.s.failure(OpCongregationCreate); err != nil {
		return err
	}
	r.s.SeedCongregation(c)
	return nil
}

func (r memoryCongregationRepo) GetByID(_ context.Context, id string) (*domain.Congregation, error) {
	if err := r.s.failure(OpCongregationGetByID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.congregations[id]
	if !ok {
		return nil, domain.ErrCongregationNotFound
	}
	clone := *c
	return &clone, nil
}

func (r memoryCongregationRepo) GetByIDTx(_ context.Context, tx usecase.DBTx, id string) (*domain.Congregation, error) {
	if err := r.s.failure(OpCongregationGetByID); err != nil {
		return nil, err
	}
	rows, release, err := r.s.view(tx)
	if err != nil {
		return nil, err
	}
	defer release()
	c, ok := rows.congregations[id]
	if !ok {
		return nil, domain.ErrCongregationNotFound
	}
	clone := *c
	return &clone, nil
}

func (r memoryCongregationRepo) GetByIDForUpdate(ctx context.Context, tx usecase.DBTx, id string) (*domain.Congregation, error) {
	if err := checkTx(tx); err != nil {
		return nil, err
	}
	if err := r.s.failure(OpCongregationLock); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.locks = append(r.s.locks, "congregation:"+id)
	c, ok := r.s.congregations[id]
	if !ok {
		return nil, domain.ErrCongregationNotFound
	}
	clone := *c
	return &clone, nil
}

func (r memoryCongregationRepo) UpdateBalance(_ context.Context, tx usecase.DBTx, id string, balance decimal.Decimal, updatedAt time.Time) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	if err := r.s.failure(OpCongregationUpdate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.congregations[id]
	if !ok {
		return domain.ErrCongregationNotFound
	}
	c.Balance = balance
	c.Version++
	c.UpdatedAt = updatedAt
	return nil
}

func (r memoryCongregationRepo) Update(_ context.Context, tx usecase.DBTx, c *domain.Congregation) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	if err := r.s.failure(OpCongregationEdit); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.congregations[c.ID]
	if !ok {
		return domain.ErrCongregationNotFound
	}
	stored.Name = c.Name
	stored.Active = c.Active
	stored.UpdatedAt = c.UpdatedAt
	return nil
}

func (r memoryCongregationRepo) Delete(_ context.Context, tx usecase.DBTx, id string) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	if err := r.s.failure(OpCongregationDelete); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.congregations[id]; !ok {
		return domain.ErrCongregationNotFound
	}
	for _, t := range r.s.transactions {
		if t.CongregationID == id {
			return domain.ErrCongregationNotEmpty
		}
	}
	delete(r.s.congregations, id)
	return nil
}

func (r memoryCongregationRepo) List(_ context.Context, limit, offset int) ([]*domain.Congregation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return page(sortedCongregations(r.s.congregations), limit, offset), nil
}

func (r memoryCongregationRepo) ListTx(_ context.Context, tx usecase.DBTx, limit, offset int) ([]*domain.Congregation, error) {
	rows, release, err := r.s.view(tx)
	if err != nil {
		return nil, err
	}
	defer release()
	return page(sortedCongregations(rows.congregations), limit, offset), nil
}

func sortedCongregations(congregations map[string]*domain.Congregation) []*domain.Congregation {
	all := make([]*domain.Congregation, 0, len(congregations))
	for _, c := range congregations {
		clone := *c
		all = append(all, &clone)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func (r memoryCongregationRepo) Count(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.s.congregations)), nil
}

type memoryTransactionRepo struct{ s *MemoryStore }

func (r memoryTransactionRepo) Create(_ context.Context, tx usecase.DBTx, t *domain.Transaction) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	if err := r.s.failure(OpTransactionCreate); err != nil {
		return err
	}
	r.s.SeedTransaction(t)
	return nil
}

func (r memoryTransactionRepo) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	t, ok := r.s.Transaction(id)
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return t, nil
}

func (r memoryTransactionRepo) GetByIDForUpdate(ctx context.Context, tx usecase.DBTx, id string) (*domain.Transaction, error) {
	if err := checkTx(tx); err != nil {
		return nil, err
	}
	if err := r.s.failure(OpTransactionLock); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	r.s.locks = append(r.s.locks, "transaction:"+id)
	r.s.mu.Unlock()
	return r.GetByID(ctx, id)
}

func (r memoryTransactionRepo) Update(_ context.Context, tx usecase.DBTx, t *domain.Transaction) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	if err := r.s.failure(OpTransactionUpdate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.transactions[t.ID]; !ok {
		return domain.ErrTransactionNotFound
	}
	r.s.transactions[t.ID] = t.Clone()
	return nil
}

func (r memoryTransactionRepo) Delete(_ context.Context, tx usecase.DBTx, id string) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	if err := r.s.failure(OpTransactionDelete); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.transactions[id]; !ok {
		return domain.ErrTransactionNotFound
	}
	delete(r.s.transactions, id)
	return nil
}

func (r memoryTransactionRepo) matching(filter domain.TransactionFilter) []*domain.Transaction {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Transaction
	for _, t := range r.s.transactions {
		if filter.CongregationID != "" && t.CongregationID != filter.CongregationID {
			continue
		}
		if filter.ResponsibleID != "" && t.ResponsibleID != filter.ResponsibleID {
			continue
		}
		if filter.DonorID != "" && (t.DonorID == nil || *t.DonorID != filter.DonorID) {
			continue
		}
		if filter.Kind != "" && t.Kind != filter.Kind {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.From != nil && t.OccurredAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && t.OccurredAt.After(*filter.To) {
			continue
		}
		out = append(out, t.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r memoryTransactionRepo) List(_ context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	return page(r.matching(filter), filter.Limit, filter.Offset), nil
}

func (r memoryTransactionRepo) Count(_ context.Context, filter domain.TransactionFilter) (int64, error) {
	return int64(len(r.matching(filter))), nil
}

func (r memoryTransactionRepo) ConfirmedTotalsTx(_ context.Context, tx usecase.DBTx, congregationID string) ([]domain.KindTotal, error) {
	if err := r.s.failure(OpTransactionTotals); err != nil {
		return nil, err
	}
	rows, release, err := r.s.view(tx)
	if err != nil {
		return nil, err
	}
	defer release()
	return confirmedTotals(rows.transactions, congregationID), nil
}

func confirmedTotals(transactions map[string]*domain.Transaction, congregationID string) []domain.KindTotal {
	type key struct {
		congregationID string
		kind           domain.Kind
	}
	sums := make(map[key]decimal.Decimal)
	for _, t := range transactions {
		if !t.IsConfirmed() || (congregationID != "" && t.CongregationID != congregationID) {
			continue
		}
		k := key{t.CongregationID, t.Kind}
		sums[k] = sums[k].Add(t.Amount)
	}

	totals := make([]domain.KindTotal, 0, len(sums))
	for k, total := range sums {
		totals = append(totals, domain.KindTotal{CongregationID: k.congregationID, Kind: k.kind, Total: total})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].CongregationID != totals[j].CongregationID {
			return totals[i].CongregationID < totals[j].CongregationID
		}
		return totals[i].Kind < totals[j].Kind
	})
	return totals
}

func (r memoryTransactionRepo) CategoryTotals(_ context.Context, filter domain.SummaryFilter) ([]domain.CategoryTotal, error) {
	if err := r.s.failure(OpTransactionCategories); err != nil {
		return nil, err
	}

	type key struct {
		kind     domain.Kind
		category domain.Category
	}
	sums := make(map[key]decimal.Decimal)
	for _, t := range r.matching(domain.TransactionFilter{
		CongregationID: filter.CongregationID,
		Status:         domain.StatusConfirmed,
		From:           filter.From,
		To:             filter.To,
	}) {
		k := key{t.Kind, t.Category}
		sums[k] = sums[k].Add(t.Amount)
	}

	totals := make([]domain.CategoryTotal, 0, len(sums))
	for k, total := range sums {
		totals = append(totals, domain.CategoryTotal{Kind: k.kind, Category: k.category, Total: total})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Kind != totals[j].Kind {
			return totals[i].Kind < totals[j].Kind
		}
		return totals[i].Category < totals[j].Category
	})
	return totals, nil
}

type memoryOutboxRepo struct{ s *MemoryStore }

func (r memoryOutboxRepo) Create(_ context.Context, tx usecase.DBTx, event *domain.OutboxEvent) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	if err := r.s.failure(OpOutboxCreate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.events = append(r.s.events, event)
	return nil
}

func (r memoryOutboxRepo) GetUnpublished(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.OutboxEvent
	for _, e := range r.s.events {
		if !e.Published {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r memoryOutboxRepo) MarkPublished(_ context.Context, id string, publishedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.events {
		if e.ID == id {
			e.Published = true
			e.PublishedAt = &publishedAt
			return nil
		}
	}
	return fmt.Errorf("outbox event %s not found", id)
}

func (r memoryOutboxRepo) DeletePublished(_ context.Context, before time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.events[:0]
	for _, e := range r.s.events {
		if e.Published && e.PublishedAt != nil && e.PublishedAt.Before(before) {
			continue
		}
		kept = append(kept, e)
	}
	r.s.events = kept
	return nil
}

type memoryAuditRepo struct{ s *MemoryStore }

func (r memoryAuditRepo) CreateTx(_ context.Context, tx usecase.DBTx, log *domain.AuditLog) error {
	if err := checkTx(tx); err != nil {
		return err
	}
	if err := r.s.failure(OpAuditCreate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.auditLogs = append(r.s.auditLogs, log)
	return nil
}

func (r memoryAuditRepo) List(_ context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.AuditLog
	for _, l := range r.s.auditLogs {
		if filter.ResourceID != "" && l.ResourceID != filter.ResourceID {
			continue
		}
		if filter.Action != "" && l.Action != filter.Action {
			continue
		}
		out = append(out, l)
	}
	return page(out, filter.Limit, filter.Offset), nil
}

type memoryIDGen struct{ s *MemoryStore }

func (g memoryIDGen) Generate() string {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	g.s.seq++
	return fmt.Sprintf("id-%06d", g.s.seq)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

package escrow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"escrow-backend/core/escrow"
)

// MemoryStore keeps escrow state in process memory. Committed state sits behind
// a single RWMutex; updates on the same key are serialized by a per-key lock and
// stage their writes until commit, so a failed update leaves nothing behind.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[escrow.Pubkey][]byte
	accounts map[escrow.Pubkey]escrow.TokenAccount
	events   []escrow.EventRecord
	seq      uint64

	locks    keyLocks
	notifier escrow.Notifier
	now      func() time.Time
}

// NewMemoryStore returns an empty store. notifier may be nil.
func NewMemoryStore(notifier escrow.Notifier) *MemoryStore {
	return &MemoryStore{
		records:  make(map[escrow.Pubkey][]byte),
		accounts: make(map[escrow.Pubkey]escrow.TokenAccount),
		locks:    keyLocks{held: make(map[escrow.Pubkey]*keyLock)},
		notifier: notifier,
		now:      time.Now,
	}
}

// SetNotifier replaces the post-commit notifier.
func (s *MemoryStore) SetNotifier(n escrow.Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type keyLocks struct {
	mu   sync.Mutex
	held map[escrow.Pubkey]*keyLock
}

func (l *keyLocks) lock(key escrow.Pubkey) func() {
	l.mu.Lock()
	kl, ok := l.held[key]
	if !ok {
		kl = &keyLock{}
		l.held[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.held, key)
		}
		l.mu.Unlock()
	}
}

func (s *MemoryStore) Update(ctx context.Context, key escrow.Pubkey, fn func(tx escrow.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.lock(key)
	defer unlock()

	tx := newMemTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	committed, err := s.commit(tx)
	if err != nil {
		return err
	}

	s.mu.RLock()
	n := s.notifier
	s.mu.RUnlock()
	if n != nil && len(committed) > 0 {
		n.Notify(ctx, committed)
	}
	return nil
}

// commit re-checks every staged balance change against the latest committed
// balances and applies the whole transaction or none of it.
func (s *MemoryStore) commit(tx *memTx) ([]escrow.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for addr, st := range tx.records {
		if st.init {
			if _, ok := s.records[addr]; ok {
				return nil, fmt.Errorf("%w: record %s", escrow.ErrAccountInUse, addr)
			}
		} else if _, ok := s.records[addr]; !ok {
			return nil, fmt.Errorf("%w: record %s", escrow.ErrTaskNotFound, addr)
		}
	}

	final := make(map[escrow.Pubkey]escrow.TokenAccount)
	for addr := range tx.touched {
		base, exists := s.accounts[addr]
		if created, ok := tx.created[addr]; ok {
			if exists && base.Owner != created.Owner {
				return nil, fmt.Errorf("%w: token account %s", escrow.ErrAccountInUse, addr)
			}
			if !exists {
				base = created
			}
		} else if !exists {
			return nil, fmt.Errorf("%w: %s", escrow.ErrAccountNotFound, addr)
		}
		amount, err := applyDelta(base.Amount, tx.credits[addr], tx.debits[addr])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", addr, err)
		}
		if tx.closed[addr] && amount != 0 {
			return nil, fmt.Errorf("%w: %s holds %d", escrow.ErrNonZeroBalance, addr, amount)
		}
		base.Amount = amount
		final[addr] = base
	}

	for addr, st := range tx.records {
		if st.data == nil {
			delete(s.records, addr)
		} else {
			s.records[addr] = st.data
		}
	}
	for addr, acct := range final {
		if tx.closed[addr] {
			delete(s.accounts, addr)
		} else {
			s.accounts[addr] = acct
		}
	}

	out := make([]escrow.EventRecord, 0, len(tx.events))
	at := s.now()
	for _, ev := range tx.events {
		s.seq++
		rec := escrow.NewEventRecord(s.seq, at, ev)
		s.events = append(s.events, rec)
		out = append(out, rec)
	}
	return out, nil
}

func applyDelta(base, credit, debit uint64) (uint64, error) {
	total := base + credit
	if total < base {
		return 0, escrow.ErrAmountOverflow
	}
	if total < debit {
		return 0, fmt.Errorf("%w: balance %d, debits %d", escrow.ErrInsufficientFunds, total, debit)
	}
	return total - debit, nil
}

func (s *MemoryStore) GetEscrow(ctx context.Context, addr escrow.Pubkey) (*escrow.EscrowRecord, error) {
	s.mu.RLock()
	data, ok := s.records[addr]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", escrow.ErrTaskNotFound, addr)
	}
	return escrow.DecodeEscrowRecord(data)
}

func (s *MemoryStore) ListEscrows(ctx context.Context, filter escrow.EscrowFilter) ([]*escrow.EscrowRecord, error) {
	s.mu.RLock()
	out := make([]*escrow.EscrowRecord, 0, len(s.records))
	for _, data := range s.records {
		rec, err := escrow.DecodeEscrowRecord(data)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return string(out[i].TaskID[:]) < string(out[j].TaskID[:])
	})
	return paginate(out, filter.Offset, filter.Limit), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (s *MemoryStore) GetTokenAccount(ctx context.Context, addr escrow.Pubkey) (*escrow.TokenAccount, error) {
	s.mu.RLock()
	acct, ok := s.accounts[addr]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", escrow.ErrAccountNotFound, addr)
	}
	return &acct, nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, filter escrow.EventFilter) ([]escrow.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]escrow.EventRecord, 0)
	for _, ev := range s.events {
		if !filter.Match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

type stagedRecord struct {
	data []byte // nil once closed
	init bool
}

// memTx stages record writes and token balance deltas for one update.
type memTx struct {
	s       *MemoryStore
	records map[escrow.Pubkey]*stagedRecord
	created map[escrow.Pubkey]escrow.TokenAccount
	closed  map[escrow.Pubkey]bool
	credits map[escrow.Pubkey]uint64
	debits  map[escrow.Pubkey]uint64
	touched map[escrow.Pubkey]struct{}
	events  []escrow.Event
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		s:       s,
		records: make(map[escrow.Pubkey]*stagedRecord),
		created: make(map[escrow.Pubkey]escrow.TokenAccount),
		closed:  make(map[escrow.Pubkey]bool),
		credits: make(map[escrow.Pubkey]uint64),
		debits:  make(map[escrow.Pubkey]uint64),
		touched: make(map[escrow.Pubkey]struct{}),
	}
}

func (t *memTx) Escrow(addr escrow.Pubkey) (*escrow.EscrowRecord, error) {
	var data []byte
	if st, ok := t.records[addr]; ok {
		data = st.data
	} else {
		t.s.mu.RLock()
		data = t.s.records[addr]
		t.s.mu.RUnlock()
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", escrow.ErrTaskNotFound, addr)
	}
	return escrow.DecodeEscrowRecord(data)
}

func (t *memTx) InitEscrow(addr escrow.Pubkey, rec *escrow.EscrowRecord) error {
	if _, err := t.Escrow(addr); err == nil {
		return fmt.Errorf("%w: record %s", escrow.ErrAccountInUse, addr)
	}
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	t.records[addr] = &stagedRecord{data: data, init: true}
	return nil
}

func (t *memTx) PutEscrow(addr escrow.Pubkey, rec *escrow.EscrowRecord) error {
	if _, err := t.Escrow(addr); err != nil {
		return err
	}
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	st, ok := t.records[addr]
	if !ok {
		st = &stagedRecord{}
		t.records[addr] = st
	}
	st.data = data
	return nil
}

func (t *memTx) CloseEscrow(addr escrow.Pubkey) error {
	if _, err := t.Escrow(addr); err != nil {
		return err
	}
	st, ok := t.records[addr]
	if ok && st.init {
		delete(t.records, addr)
		return nil
	}
	t.records[addr] = &stagedRecord{}
	return nil
}

func (t *memTx) TokenAccount(addr escrow.Pubkey) (*escrow.TokenAccount, error) {
	if t.closed[addr] {
		return nil, fmt.Errorf("%w: %s", escrow.ErrAccountNotFound, addr)
	}
	acct, ok := t.created[addr]
	if !ok {
		t.s.mu.RLock()
		acct, ok = t.s.accounts[addr]
		t.s.mu.RUnlock()
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", escrow.ErrAccountNotFound, addr)
	}
	acct.Amount = acct.Amount + t.credits[addr] - t.debits[addr]
	return &acct, nil
}

func (t *memTx) InitTokenAccount(acct escrow.TokenAccount) error {
	if _, err := t.TokenAccount(acct.Address); err == nil {
		return fmt.Errorf("%w: token account %s", escrow.ErrAccountInUse, acct.Address)
	}
	if t.closed[acct.Address] {
		return fmt.Errorf("%w: token account %s closed in this update", escrow.ErrAccountInUse, acct.Address)
	}
	acct.Amount = 0
	t.created[acct.Address] = acct
	t.touched[acct.Address] = struct{}{}
	return nil
}

func (t *memTx) Debit(addr escrow.Pubkey, amount uint64) error {
	acct, err := t.TokenAccount(addr)
	if err != nil {
		return err
	}
	if acct.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", escrow.ErrInsufficientFunds, addr, acct.Amount, amount)
	}
	t.debits[addr] += amount
	t.touched[addr] = struct{}{}
	return nil
}

func (t *memTx) Credit(addr escrow.Pubkey, amount uint64) error {
	acct, err := t.TokenAccount(addr)
	if err != nil {
		return err
	}
	if acct.Amount+amount < acct.Amount || t.credits[addr]+amount < t.credits[addr] {
		return fmt.Errorf("%w: crediting %s", escrow.ErrAmountOverflow, addr)
	}
	t.credits[addr] += amount
	t.touched[addr] = struct{}{}
	return nil
}

func (t *memTx) CloseTokenAccount(addr escrow.Pubkey) error {
	acct, err := t.TokenAccount(addr)
	if err != nil {
		return err
	}
	if acct.Amount != 0 {
		return fmt.Errorf("%w: %s holds %d", escrow.ErrNonZeroBalance, addr, acct.Amount)
	}
	t.closed[addr] = true
	t.touched[addr] = struct{}{}
	return nil
}

func (t *memTx) Emit(ev escrow.Event) {
	t.events = append(t.events, ev)
}

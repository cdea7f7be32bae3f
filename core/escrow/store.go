package escrow

import "context"

// Store persists escrow records, token accounts and the event log.
type Store interface {
	// Update runs fn atomically. Updates sharing a key are serialized. If fn or
	// the commit fails, none of the writes or events become visible.
	Update(ctx context.Context, key Pubkey, fn func(tx Tx) error) error

	GetEscrow(ctx context.Context, addr Pubkey) (*EscrowRecord, error)
	ListEscrows(ctx context.Context, filter EscrowFilter) ([]*EscrowRecord, error)
	GetTokenAccount(ctx context.Context, addr Pubkey) (*TokenAccount, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error)
}

// Tx is the view of the store inside one Update.
type Tx interface {
	Escrow(addr Pubkey) (*EscrowRecord, error)
	InitEscrow(addr Pubkey, rec *EscrowRecord) error
	PutEscrow(addr Pubkey, rec *EscrowRecord) error
	CloseEscrow(addr Pubkey) error

	TokenAccount(addr Pubkey) (*TokenAccount, error)
	InitTokenAccount(acct TokenAccount) error
	Debit(addr Pubkey, amount uint64) error
	Credit(addr Pubkey, amount uint64) error
	CloseTokenAccount(addr Pubkey) error

	Emit(ev Event)
}

// EscrowFilter selects live records. Zero values match everything.
type EscrowFilter struct {
	Status    *Status
	Authority *Pubkey
	Agent     *Pubkey
	Limit     int
	Offset    int
}

func (f EscrowFilter) Match(r *EscrowRecord) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Authority != nil && r.Authority != *f.Authority {
		return false
	}
	if f.Agent != nil && (r.AssignedAgent == nil || *r.AssignedAgent != *f.Agent) {
		return false
	}
	return true
}

// EventFilter selects committed events with Seq greater than After.
type EventFilter struct {
	TaskID *TaskID
	After  uint64
	Limit  int
}

func (f EventFilter) Match(e EventRecord) bool {
	if e.Seq <= f.After {
		return false
	}
	return f.TaskID == nil || e.TaskID == *f.TaskID
}

// Notifier receives events after their transaction commits. It must not block
// for long and cannot fail the operation.
type Notifier interface {
	Notify(ctx context.Context, events []EventRecord)
}

type NotifierFunc func(ctx context.Context, events []EventRecord)

func (f NotifierFunc) Notify(ctx context.Context, events []EventRecord) { f(ctx, events) }

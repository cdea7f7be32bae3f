package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"escrow-backend/core/escrow"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// eventLogLock is the advisory lock that orders event appends, so sequence
// numbers become visible in commit order.
const eventLogLock = 0x65736377

const maxAmount = "18446744073709551615"

// PGStore persists escrow state in Postgres.
type PGStore struct {
	pool     *pgxpool.Pool
	notifier escrow.Notifier
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string, notifier escrow.Notifier) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := NewSchemaManager(pool).Initialize(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init escrow schema: %w", err)
	}
	return &PGStore{pool: pool, notifier: notifier}, nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PGStore) SetNotifier(n escrow.Notifier) {
	s.notifier = n
}

func (s *PGStore) Update(ctx context.Context, key escrow.Pubkey, fn func(tx escrow.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.String()); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	ptx := &pgTx{ctx: ctx, tx: tx}
	if err := fn(ptx); err != nil {
		return err
	}
	events, err := appendEvents(ctx, tx, ptx.events)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if s.notifier != nil && len(events) > 0 {
		s.notifier.Notify(ctx, events)
	}
	return nil
}

func appendEvents(ctx context.Context, tx pgx.Tx, pending []escrow.Event) ([]escrow.EventRecord, error) {
	if len(pending) == 0 {
		return nil, nil
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(eventLogLock)); err != nil {
		return nil, fmt.Errorf("lock event log: %w", err)
	}
	out := make([]escrow.EventRecord, 0, len(pending))
	now := time.Now()
	for _, ev := range pending {
		rec := escrow.NewEventRecord(0, now, ev)
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", rec.Kind, err)
		}
		var seq int64
		err = tx.QueryRow(ctx, `
INSERT INTO escrow_events (id, kind, task_id, payload, created_at)
VALUES ($1::uuid, $2, $3, $4::jsonb, $5)
RETURNING seq`, rec.ID.String(), string(rec.Kind), rec.TaskID.String(), string(payload), rec.Time).Scan(&seq)
		if err != nil {
			return nil, fmt.Errorf("append %s: %w", rec.Kind, err)
		}
		rec.Seq = uint64(seq)
		out = append(out, rec)
	}
	return out, nil
}

func (s *PGStore) GetEscrow(ctx context.Context, addr escrow.Pubkey) (*escrow.EscrowRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM escrow_records WHERE address=$1`, addr.String()).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", escrow.ErrTaskNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	return escrow.DecodeEscrowRecord(data)
}

func optText[T fmt.Stringer](v *T) *string {
	if v == nil {
		return nil
	}
	s := (*v).String()
	return &s
}

func (s *PGStore) ListEscrows(ctx context.Context, filter escrow.EscrowFilter) ([]*escrow.EscrowRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT data FROM escrow_records
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::text IS NULL OR authority = $2)
  AND ($3::text IS NULL OR assigned_agent = $3)
ORDER BY created_at, task_id
LIMIT NULLIF($4::int, 0) OFFSET $5`,
		optText(filter.Status), optText(filter.Authority), optText(filter.Agent), filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*escrow.EscrowRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := escrow.DecodeEscrowRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) GetTokenAccount(ctx context.Context, addr escrow.Pubkey) (*escrow.TokenAccount, error) {
	return getTokenAccount(ctx, s.pool, addr)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getTokenAccount(ctx context.Context, q queryRower, addr escrow.Pubkey) (*escrow.TokenAccount, error) {
	var owner, amount string
	err := q.QueryRow(ctx, `SELECT owner, amount::text FROM escrow_token_accounts WHERE address=$1`, addr.String()).
		Scan(&owner, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", escrow.ErrAccountNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	ownerKey, err := escrow.PubkeyFromBase58(owner)
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: balance of %s: %v", escrow.ErrAmountOverflow, addr, err)
	}
	return &escrow.TokenAccount{Address: addr, Owner: ownerKey, Amount: n}, nil
}

func (s *PGStore) ListEvents(ctx context.Context, filter escrow.EventFilter) ([]escrow.EventRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT seq, id::text, kind, payload, created_at FROM escrow_events
WHERE seq > $1 AND ($2::text IS NULL OR task_id = $2)
ORDER BY seq
LIMIT NULLIF($3::int, 0)`, int64(filter.After), optText(filter.TaskID), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]escrow.EventRecord, 0)
	for rows.Next() {
		var (
			seq     int64
			id      string
			kind    string
			payload []byte
			at      time.Time
		)
		if err := rows.Scan(&seq, &id, &kind, &payload, &at); err != nil {
			return nil, err
		}
		ev, err := escrow.DecodeEvent(escrow.EventKind(kind), payload)
		if err != nil {
			return nil, err
		}
		uid, err := uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		out = append(out, escrow.EventRecord{
			ID:     uid,
			Seq:    uint64(seq),
			Kind:   ev.Kind(),
			TaskID: ev.Task(),
			Time:   at.UTC(),
			Event:  ev,
		})
	}
	return out, rows.Err()
}

// pgTx applies each write immediately inside the SQL transaction. Balance
// updates are guarded so a debit never drives an account negative.
type pgTx struct {
	ctx    context.Context
	tx     pgx.Tx
	events []escrow.Event
}

func (t *pgTx) Escrow(addr escrow.Pubkey) (*escrow.EscrowRecord, error) {
	var data []byte
	err := t.tx.QueryRow(t.ctx, `SELECT data FROM escrow_records WHERE address=$1 FOR UPDATE`, addr.String()).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", escrow.ErrTaskNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	return escrow.DecodeEscrowRecord(data)
}

func (t *pgTx) InitEscrow(addr escrow.Pubkey, rec *escrow.EscrowRecord) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(t.ctx, `
INSERT INTO escrow_records (address, task_id, authority, assigned_agent, status, created_at, data)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT DO NOTHING`,
		addr.String(), rec.TaskID.String(), rec.Authority.String(), optText(rec.AssignedAgent),
		rec.Status.String(), rec.CreatedAt, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: record %s", escrow.ErrAccountInUse, addr)
	}
	return nil
}

func (t *pgTx) PutEscrow(addr escrow.Pubkey, rec *escrow.EscrowRecord) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(t.ctx, `
UPDATE escrow_records SET status=$2, assigned_agent=$3, data=$4, updated_at=now()
WHERE address=$1`, addr.String(), rec.Status.String(), optText(rec.AssignedAgent), data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", escrow.ErrTaskNotFound, addr)
	}
	return nil
}

func (t *pgTx) CloseEscrow(addr escrow.Pubkey) error {
	tag, err := t.tx.Exec(t.ctx, `DELETE FROM escrow_records WHERE address=$1`, addr.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", escrow.ErrTaskNotFound, addr)
	}
	return nil
}

func (t *pgTx) TokenAccount(addr escrow.Pubkey) (*escrow.TokenAccount, error) {
	return getTokenAccount(t.ctx, t.tx, addr)
}

// InitTokenAccount creates an empty account. An account already visible to
// this transaction is in use; one created by a concurrent transaction for the
// same owner is merged, as the memory store does at commit.
func (t *pgTx) InitTokenAccount(acct escrow.TokenAccount) error {
	if _, err := t.TokenAccount(acct.Address); err == nil {
		return fmt.Errorf("%w: token account %s", escrow.ErrAccountInUse, acct.Address)
	} else if !errors.Is(err, escrow.ErrAccountNotFound) {
		return err
	}
	tag, err := t.tx.Exec(t.ctx, `
INSERT INTO escrow_token_accounts (address, owner, amount) VALUES ($1, $2, 0)
ON CONFLICT (address) DO NOTHING`, acct.Address.String(), acct.Owner.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// lost the insert race: the winner has committed by now
	existing, err := t.TokenAccount(acct.Address)
	if err != nil {
		return err
	}
	if existing.Owner != acct.Owner {
		return fmt.Errorf("%w: token account %s", escrow.ErrAccountInUse, acct.Address)
	}
	return nil
}

func (t *pgTx) Debit(addr escrow.Pubkey, amount uint64) error {
	tag, err := t.tx.Exec(t.ctx, `
UPDATE escrow_token_accounts SET amount = amount - $2::numeric
WHERE address=$1 AND amount >= $2::numeric`, addr.String(), strconv.FormatUint(amount, 10))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := t.TokenAccount(addr); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s cannot cover %d", escrow.ErrInsufficientFunds, addr, amount)
	}
	return nil
}

func (t *pgTx) Credit(addr escrow.Pubkey, amount uint64) error {
	tag, err := t.tx.Exec(t.ctx, `
UPDATE escrow_token_accounts SET amount = amount + $2::numeric
WHERE address=$1 AND amount + $2::numeric <= `+maxAmount+`::numeric`, addr.String(), strconv.FormatUint(amount, 10))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := t.TokenAccount(addr); err != nil {
			return err
		}
		return fmt.Errorf("%w: crediting %s", escrow.ErrAmountOverflow, addr)
	}
	return nil
}

func (t *pgTx) CloseTokenAccount(addr escrow.Pubkey) error {
	tag, err := t.tx.Exec(t.ctx, `DELETE FROM escrow_token_accounts WHERE address=$1 AND amount = 0`, addr.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		acct, err := t.TokenAccount(addr)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s holds %d", escrow.ErrNonZeroBalance, addr, acct.Amount)
	}
	return nil
}

func (t *pgTx) Emit(ev escrow.Event) {
	t.events = append(t.events, ev)
}

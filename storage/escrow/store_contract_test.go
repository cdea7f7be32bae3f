package escrow

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"escrow-backend/core/escrow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contractStore is what both backends expose to the tests.
type contractStore interface {
	escrow.Store
	SetNotifier(n escrow.Notifier)
}

type recorder struct {
	mu     sync.Mutex
	events []escrow.EventRecord
	seen   func(context.Context, []escrow.EventRecord)
}

func (r *recorder) Notify(ctx context.Context, evs []escrow.EventRecord) {
	if r.seen != nil {
		r.seen(ctx, evs)
	}
	r.mu.Lock()
	r.events = append(r.events, evs...)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func key(b ...byte) escrow.Pubkey {
	var k escrow.Pubkey
	copy(k[:], b)
	k[31] = 0xee
	return k
}

func openRecord(id byte, authority escrow.Pubkey) *escrow.EscrowRecord {
	var tid escrow.TaskID
	tid[0] = id
	return &escrow.EscrowRecord{
		Authority:    authority,
		TaskID:       tid,
		BountyAmount: 100,
		TaskHash:     escrow.Hash{id},
		Status:       escrow.StatusOpen,
		CreatedAt:    int64(id),
		Bump:         255,
	}
}

var errAbort = errors.New("abort")

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) contractStore) {
	ctx := context.Background()

	t.Run("failed update leaves nothing", func(t *testing.T) {
		s := newStore(t)
		rec := &recorder{}
		s.SetNotifier(rec)
		addr, vault := key(1), key(2)

		err := s.Update(ctx, addr, func(tx escrow.Tx) error {
			require.NoError(t, tx.InitEscrow(addr, openRecord(1, key(9))))
			require.NoError(t, tx.InitTokenAccount(escrow.TokenAccount{Address: vault, Owner: addr}))
			require.NoError(t, tx.Credit(vault, 100))
			tx.Emit(escrow.TaskCancelled{TaskID: openRecord(1, key(9)).TaskID})
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		_, err = s.GetEscrow(ctx, addr)
		assert.ErrorIs(t, err, escrow.ErrTaskNotFound)
		_, err = s.GetTokenAccount(ctx, vault)
		assert.ErrorIs(t, err, escrow.ErrAccountNotFound)
		evs, err := s.ListEvents(ctx, escrow.EventFilter{})
		require.NoError(t, err)
		assert.Empty(t, evs)
		assert.Zero(t, rec.count())
	})

	t.Run("commit is visible to the notifier", func(t *testing.T) {
		s := newStore(t)
		addr := key(3)
		var visible bool
		rec := &recorder{seen: func(ctx context.Context, _ []escrow.EventRecord) {
			_, err := s.GetEscrow(ctx, addr)
			visible = err == nil
		}}
		s.SetNotifier(rec)

		r := openRecord(3, key(9))
		err := s.Update(ctx, addr, func(tx escrow.Tx) error {
			if err := tx.InitEscrow(addr, r); err != nil {
				return err
			}
			tx.Emit(escrow.TaskCreated{TaskID: r.TaskID, Authority: r.Authority, BountyAmount: r.BountyAmount})
			tx.Emit(escrow.TaskClaimed{TaskID: r.TaskID, Agent: key(4)})
			return nil
		})
		require.NoError(t, err)
		assert.True(t, visible)
		require.Equal(t, 2, rec.count())
		assert.Less(t, rec.events[0].Seq, rec.events[1].Seq)

		got, err := s.GetEscrow(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, r, got)

		evs, err := s.ListEvents(ctx, escrow.EventFilter{After: rec.events[0].Seq})
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.Equal(t, escrow.KindTaskClaimed, evs[0].Kind)
		assert.Equal(t, rec.events[1].ID, evs[0].ID)
		assert.Equal(t, escrow.TaskClaimed{TaskID: r.TaskID, Agent: key(4)}, evs[0].Event)
	})

	t.Run("record lifecycle", func(t *testing.T) {
		s := newStore(t)
		addr := key(5)
		r := openRecord(5, key(9))
		require.NoError(t, s.Update(ctx, addr, func(tx escrow.Tx) error { return tx.InitEscrow(addr, r) }))

		err := s.Update(ctx, addr, func(tx escrow.Tx) error { return tx.InitEscrow(addr, r) })
		assert.ErrorIs(t, err, escrow.ErrAccountInUse)

		agent := key(6)
		ts := int64(77)
		require.NoError(t, s.Update(ctx, addr, func(tx escrow.Tx) error {
			cur, err := tx.Escrow(addr)
			if err != nil {
				return err
			}
			cur.Status = escrow.StatusClaimed
			cur.AssignedAgent = &agent
			cur.ClaimedAt = &ts
			return tx.PutEscrow(addr, cur)
		}))
		got, err := s.GetEscrow(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, escrow.StatusClaimed, got.Status)
		assert.Equal(t, agent, *got.AssignedAgent)

		status := escrow.StatusClaimed
		list, err := s.ListEscrows(ctx, escrow.EscrowFilter{Status: &status, Agent: &agent})
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, s.Update(ctx, addr, func(tx escrow.Tx) error { return tx.CloseEscrow(addr) }))
		_, err = s.GetEscrow(ctx, addr)
		assert.ErrorIs(t, err, escrow.ErrTaskNotFound)
		err = s.Update(ctx, addr, func(tx escrow.Tx) error { return tx.PutEscrow(addr, r) })
		assert.ErrorIs(t, err, escrow.ErrTaskNotFound)

		// a closed address can be initialized again
		require.NoError(t, s.Update(ctx, addr, func(tx escrow.Tx) error { return tx.InitEscrow(addr, r) }))
	})

	t.Run("token balances", func(t *testing.T) {
		s := newStore(t)
		a, b, owner := key(10), key(11), key(12)
		require.NoError(t, s.Update(ctx, a, func(tx escrow.Tx) error {
			if err := tx.InitTokenAccount(escrow.TokenAccount{Address: a, Owner: owner}); err != nil {
				return err
			}
			if err := tx.InitTokenAccount(escrow.TokenAccount{Address: b, Owner: owner}); err != nil {
				return err
			}
			return tx.Credit(a, 500)
		}))

		err := s.Update(ctx, a, func(tx escrow.Tx) error {
			return tx.InitTokenAccount(escrow.TokenAccount{Address: a, Owner: key(13)})
		})
		assert.ErrorIs(t, err, escrow.ErrAccountInUse)

		err = s.Update(ctx, a, func(tx escrow.Tx) error { return tx.Debit(a, 501) })
		assert.ErrorIs(t, err, escrow.ErrInsufficientFunds)

		err = s.Update(ctx, a, func(tx escrow.Tx) error { return tx.CloseTokenAccount(a) })
		assert.ErrorIs(t, err, escrow.ErrNonZeroBalance)

		require.NoError(t, s.Update(ctx, a, func(tx escrow.Tx) error {
			if err := tx.Debit(a, 200); err != nil {
				return err
			}
			if err := tx.Credit(b, 200); err != nil {
				return err
			}
			acct, err := tx.TokenAccount(a)
			if err != nil {
				return err
			}
			assert.Equal(t, uint64(300), acct.Amount, "tx reads its own writes")
			return nil
		}))
		got, err := s.GetTokenAccount(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, escrow.TokenAccount{Address: b, Owner: owner, Amount: 200}, *got)

		require.NoError(t, s.Update(ctx, b, func(tx escrow.Tx) error { return tx.Credit(b, math.MaxUint64-200) }))
		err = s.Update(ctx, b, func(tx escrow.Tx) error { return tx.Credit(b, 1) })
		assert.ErrorIs(t, err, escrow.ErrAmountOverflow)

		require.NoError(t, s.Update(ctx, a, func(tx escrow.Tx) error {
			if err := tx.Debit(a, 300); err != nil {
				return err
			}
			return tx.CloseTokenAccount(a)
		}))
		_, err = s.GetTokenAccount(ctx, a)
		assert.ErrorIs(t, err, escrow.ErrAccountNotFound)
	})

	t.Run("concurrent updates on one key are serialized", func(t *testing.T) {
		s := newStore(t)
		acct := key(20)
		require.NoError(t, s.Update(ctx, acct, func(tx escrow.Tx) error {
			return tx.InitTokenAccount(escrow.TokenAccount{Address: acct, Owner: key(21)})
		}))

		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Update(ctx, acct, func(tx escrow.Tx) error { return tx.Credit(acct, 4) }))
			}()
		}
		wg.Wait()
		got, err := s.GetTokenAccount(ctx, acct)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), got.Amount)
	})

	t.Run("concurrent first payouts to one owner merge", func(t *testing.T) {
		s := newStore(t)
		owner := key(45)
		payout := func(record escrow.Pubkey, amount uint64, hold <-chan struct{}, staged chan<- struct{}) error {
			return s.Update(ctx, record, func(tx escrow.Tx) error {
				acct, err := escrow.NewTokenDelegate(escrow.DefaultProgramID, tx).EnsureAccount(owner)
				if err != nil {
					return err
				}
				if staged != nil {
					close(staged)
				}
				if hold != nil {
					<-hold
				}
				return tx.Credit(acct.Address, amount)
			})
		}

		staged := make(chan struct{})
		release := make(chan struct{})
		first := make(chan error, 1)
		second := make(chan error, 1)
		go func() { first <- payout(key(46), 5, release, staged) }()
		<-staged
		go func() { second <- payout(key(47), 7, nil, nil) }()
		// the second update may block on the first one's uncommitted account
		time.Sleep(50 * time.Millisecond)
		close(release)
		require.NoError(t, <-first)
		require.NoError(t, <-second)

		addr, err := escrow.AccountAddress(escrow.DefaultProgramID, owner)
		require.NoError(t, err)
		got, err := s.GetTokenAccount(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, owner, got.Owner)
		assert.Equal(t, uint64(12), got.Amount)
	})

	t.Run("list pagination", func(t *testing.T) {
		s := newStore(t)
		for i := byte(30); i < 35; i++ {
			addr := key(i)
			require.NoError(t, s.Update(ctx, addr, func(tx escrow.Tx) error {
				return tx.InitEscrow(addr, openRecord(i, key(9)))
			}))
		}
		page, err := s.ListEscrows(ctx, escrow.EscrowFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, byte(31), page[0].TaskID[0])
		assert.Equal(t, byte(32), page[1].TaskID[0])

		page, err = s.ListEscrows(ctx, escrow.EscrowFilter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) contractStore { return NewMemoryStore(nil) })
}

func TestMemoryStoreMergesConcurrentAccountCreation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	acct, owner := key(40), key(41)

	// both updates stage the same account before either commits
	staged := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Update(ctx, key(42), func(tx escrow.Tx) error {
			if err := tx.InitTokenAccount(escrow.TokenAccount{Address: acct, Owner: owner}); err != nil {
				return err
			}
			close(staged)
			<-release
			return tx.Credit(acct, 5)
		})
	}()
	<-staged
	require.NoError(t, s.Update(ctx, key(43), func(tx escrow.Tx) error {
		if err := tx.InitTokenAccount(escrow.TokenAccount{Address: acct, Owner: owner}); err != nil {
			return err
		}
		return tx.Credit(acct, 7)
	}))
	close(release)
	require.NoError(t, <-done)

	got, err := s.GetTokenAccount(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), got.Amount)
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore(nil)
	called := false
	err := s.Update(ctx, key(50), func(tx escrow.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

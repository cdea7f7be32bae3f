package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-backend/metrics"

	"github.com/rs/zerolog/log"
)

// Config fixes the identities the program trusts.
type Config struct {
	ProgramID Pubkey
	// FeeOwner owns the platform account that receives the fee on every release.
	FeeOwner Pubkey
	// MintAuthority may issue tokens through MintTo. Zero disables minting.
	MintAuthority Pubkey
}

// Program executes escrow transitions against a Store.
type Program struct {
	store      Store
	cfg        Config
	feeAccount Pubkey
	now        func() time.Time
}

type Option func(*Program)

// WithClock overrides the time source used for created/claimed/submitted stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Program) { p.now = now }
}

func NewProgram(store Store, cfg Config, opts ...Option) (*Program, error) {
	if store == nil {
		return nil, errors.New("escrow program requires a store")
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = DefaultProgramID
	}
	if cfg.FeeOwner.IsZero() {
		return nil, errors.New("escrow program requires a fee owner")
	}
	feeAccount, err := AccountAddress(cfg.ProgramID, cfg.FeeOwner)
	if err != nil {
		return nil, fmt.Errorf("derive fee account: %w", err)
	}
	p := &Program{store: store, cfg: cfg, feeAccount: feeAccount, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Program) ProgramID() Pubkey  { return p.cfg.ProgramID }
func (p *Program) FeeAccount() Pubkey { return p.feeAccount }
func (p *Program) FeeOwner() Pubkey   { return p.cfg.FeeOwner }

// CreateTaskArgs are the poster-supplied parameters of a new task.
type CreateTaskArgs struct {
	TaskID       TaskID `json:"task_id"`
	BountyAmount uint64 `json:"bounty_amount"`
	TaskHash     Hash   `json:"task_hash"`
}

// Settlement is the outcome of a terminal transition. Record is the final
// snapshot; the stored record and the vault no longer exist.
type Settlement struct {
	Record       *EscrowRecord `json:"record"`
	AgentPayment uint64        `json:"agent_payment"`
	PlatformFee  uint64        `json:"platform_fee"`
	Refund       uint64        `json:"refund"`
}

// VaultInfo describes the custody account of a task.
type VaultInfo struct {
	TaskID  TaskID `json:"task_id"`
	Address Pubkey `json:"address"`
	Owner   Pubkey `json:"owner"`
	Amount  uint64 `json:"amount"`
}

// run wraps one transition with caller resolution, address derivation,
// metrics and logging. The caller is checked before the store is touched.
func (p *Program) run(ctx context.Context, op string, id TaskID, caller Signer, fn func(tx Tx, addrs TaskAddresses) error) error {
	if _, err := ResolveAuthority(caller, p.cfg.ProgramID); err != nil {
		metrics.RecordTransition(op, ErrorCode(ErrUnauthorized))
		return fmt.Errorf("%w: %s cannot sign %s", ErrUnauthorized, caller, op)
	}
	addrs, err := DeriveTaskAddresses(p.cfg.ProgramID, id)
	if err != nil {
		metrics.RecordTransition(op, ErrorCode(err))
		return err
	}
	err = p.store.Update(ctx, addrs.Record, func(tx Tx) error {
		return fn(tx, addrs)
	})
	code := ErrorCode(err)
	if code == "" {
		code = "ok"
	}
	metrics.RecordTransition(op, code)
	switch {
	case err == nil:
	case code == "Internal":
		log.Error().Err(err).Str("op", op).Str("task_id", id.String()).Msg("escrow operation failed")
	default:
		log.Debug().Err(err).Str("op", op).Str("task_id", id.String()).Str("code", code).Msg("escrow operation rejected")
	}
	return err
}

func (p *Program) loadRecord(tx Tx, addr Pubkey) (*EscrowRecord, error) {
	rec, err := tx.Escrow(addr)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateTask opens a task and locks the bounty in its vault.
func (p *Program) CreateTask(ctx context.Context, poster Signer, args CreateTaskArgs) (*EscrowRecord, error) {
	var out *EscrowRecord
	err := p.run(ctx, "create", args.TaskID, poster, func(tx Tx, addrs TaskAddresses) error {
		if _, err := tx.Escrow(addrs.Record); err == nil {
			return fmt.Errorf("%w: task %s exists", ErrAccountInUse, args.TaskID)
		} else if !errors.Is(err, ErrTaskNotFound) {
			return err
		}
		token := NewTokenDelegate(p.cfg.ProgramID, tx)
		posterAccount, err := AccountAddress(p.cfg.ProgramID, poster.Key())
		if err != nil {
			return err
		}

		rec := &EscrowRecord{
			Authority:    poster.Key(),
			TaskID:       args.TaskID,
			BountyAmount: args.BountyAmount,
			TaskHash:     args.TaskHash,
			Status:       StatusOpen,
			CreatedAt:    p.now().Unix(),
			Bump:         addrs.RecordBump,
		}
		if err := tx.InitEscrow(addrs.Record, rec); err != nil {
			return err
		}
		if err := token.InitVault(addrs.Vault, addrs.Record); err != nil {
			return fmt.Errorf("init vault: %w", err)
		}
		if err := token.Transfer(posterAccount, addrs.Vault, args.BountyAmount, poster); err != nil {
			return fmt.Errorf("deposit bounty: %w", err)
		}
		tx.Emit(TaskCreated{
			TaskID:       args.TaskID,
			Authority:    poster.Key(),
			BountyAmount: args.BountyAmount,
			TaskHash:     args.TaskHash,
		})
		out = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordTokens("deposit", out.BountyAmount)
	log.Info().Str("task_id", out.TaskID.String()).Str("authority", out.Authority.String()).
		Uint64("bounty", out.BountyAmount).Msg("task created")
	return out, nil
}

// ClaimTask assigns an open task to the calling agent.
func (p *Program) ClaimTask(ctx context.Context, agent Signer, id TaskID) (*EscrowRecord, error) {
	var out *EscrowRecord
	err := p.run(ctx, "claim", id, agent, func(tx Tx, addrs TaskAddresses) error {
		rec, err := p.loadRecord(tx, addrs.Record)
		if err != nil {
			return err
		}
		if rec.Status != StatusOpen {
			return ErrTaskNotOpen
		}
		key := agent.Key()
		now := p.now().Unix()
		rec.Status = StatusClaimed
		rec.AssignedAgent = &key
		rec.ClaimedAt = &now
		if err := tx.PutEscrow(addrs.Record, rec); err != nil {
			return err
		}
		tx.Emit(TaskClaimed{TaskID: id, Agent: key})
		out = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("task_id", id.String()).Str("agent", agent.String()).Msg("task claimed")
	return out, nil
}

// SubmitWork records the deliverable hash of the assigned agent.
func (p *Program) SubmitWork(ctx context.Context, agent Signer, id TaskID, workHash Hash) (*EscrowRecord, error) {
	var out *EscrowRecord
	err := p.run(ctx, "submit", id, agent, func(tx Tx, addrs TaskAddresses) error {
		rec, err := p.loadRecord(tx, addrs.Record)
		if err != nil {
			return err
		}
		if rec.AssignedAgent != nil && *rec.AssignedAgent != agent.Key() {
			return ErrNotAssignedAgent
		}
		if rec.Status != StatusClaimed {
			return ErrTaskNotClaimed
		}
		now := p.now().Unix()
		rec.Status = StatusSubmitted
		rec.WorkHash = &workHash
		rec.SubmittedAt = &now
		if err := tx.PutEscrow(addrs.Record, rec); err != nil {
			return err
		}
		tx.Emit(WorkSubmitted{TaskID: id, Agent: agent.Key(), WorkHash: workHash})
		out = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("task_id", id.String()).Str("work_hash", workHash.String()).Msg("work submitted")
	return out, nil
}

// ApproveAndRelease pays the agent, takes the platform fee and closes the task.
func (p *Program) ApproveAndRelease(ctx context.Context, poster Signer, id TaskID) (*Settlement, error) {
	var out *Settlement
	err := p.run(ctx, "approve", id, poster, func(tx Tx, addrs TaskAddresses) error {
		rec, err := p.loadRecord(tx, addrs.Record)
		if err != nil {
			return err
		}
		if rec.Authority != poster.Key() {
			return ErrUnauthorized
		}
		if rec.Status != StatusSubmitted {
			return ErrWorkNotSubmitted
		}

		bounty := rec.BountyAmount
		fee, payment := SplitFee(bounty)
		agent := *rec.AssignedAgent

		token := NewTokenDelegate(p.cfg.ProgramID, tx)
		agentAccount, err := token.EnsureAccount(agent)
		if err != nil {
			return fmt.Errorf("agent account: %w", err)
		}
		if _, err := token.EnsureAccount(p.cfg.FeeOwner); err != nil {
			return fmt.Errorf("fee account: %w", err)
		}
		vaultSigner := rec.signer()
		if err := token.Transfer(addrs.Vault, agentAccount.Address, payment, vaultSigner); err != nil {
			return fmt.Errorf("pay agent: %w", err)
		}
		if err := token.Transfer(addrs.Vault, p.feeAccount, fee, vaultSigner); err != nil {
			return fmt.Errorf("pay platform fee: %w", err)
		}
		if err := token.CloseAccount(addrs.Vault, vaultSigner); err != nil {
			return fmt.Errorf("close vault: %w", err)
		}
		if err := tx.CloseEscrow(addrs.Record); err != nil {
			return err
		}
		tx.Emit(TaskCompleted{TaskID: id, Agent: agent, BountyAmount: bounty, PlatformFee: fee})

		rec.Status = StatusCompleted
		out = &Settlement{Record: rec.Clone(), AgentPayment: payment, PlatformFee: fee}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordTokens("payout", out.AgentPayment)
	metrics.RecordTokens("fee", out.PlatformFee)
	log.Info().Str("task_id", id.String()).Str("agent", out.Record.AssignedAgent.String()).
		Uint64("payment", out.AgentPayment).Uint64("fee", out.PlatformFee).Msg("task completed")
	return out, nil
}

// CancelTask refunds the full bounty of an unclaimed task and closes it.
func (p *Program) CancelTask(ctx context.Context, poster Signer, id TaskID) (*Settlement, error) {
	var out *Settlement
	err := p.run(ctx, "cancel", id, poster, func(tx Tx, addrs TaskAddresses) error {
		rec, err := p.loadRecord(tx, addrs.Record)
		if err != nil {
			return err
		}
		if rec.Authority != poster.Key() {
			return ErrUnauthorized
		}
		if rec.Status != StatusOpen {
			return ErrCannotCancel
		}

		bounty := rec.BountyAmount
		token := NewTokenDelegate(p.cfg.ProgramID, tx)
		posterAccount, err := token.EnsureAccount(rec.Authority)
		if err != nil {
			return fmt.Errorf("poster account: %w", err)
		}
		vaultSigner := rec.signer()
		if err := token.Transfer(addrs.Vault, posterAccount.Address, bounty, vaultSigner); err != nil {
			return fmt.Errorf("refund bounty: %w", err)
		}
		if err := token.CloseAccount(addrs.Vault, vaultSigner); err != nil {
			return fmt.Errorf("close vault: %w", err)
		}
		if err := tx.CloseEscrow(addrs.Record); err != nil {
			return err
		}
		tx.Emit(TaskCancelled{TaskID: id})

		rec.Status = StatusCancelled
		out = &Settlement{Record: rec.Clone(), Refund: bounty}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordTokens("refund", out.Refund)
	log.Info().Str("task_id", id.String()).Uint64("refund", out.Refund).Msg("task cancelled")
	return out, nil
}

// GetTask loads the live record of a task.
func (p *Program) GetTask(ctx context.Context, id TaskID) (*EscrowRecord, error) {
	addr, _, err := RecordAddress(p.cfg.ProgramID, id)
	if err != nil {
		return nil, err
	}
	return p.store.GetEscrow(ctx, addr)
}

func (p *Program) ListTasks(ctx context.Context, filter EscrowFilter) ([]*EscrowRecord, error) {
	return p.store.ListEscrows(ctx, filter)
}

// Vault reports the custody account of a live task.
func (p *Program) Vault(ctx context.Context, id TaskID) (*VaultInfo, error) {
	addr, _, err := VaultAddress(p.cfg.ProgramID, id)
	if err != nil {
		return nil, err
	}
	acct, err := p.store.GetTokenAccount(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: no vault for task %s", ErrTaskNotFound, id)
		}
		return nil, err
	}
	return &VaultInfo{TaskID: id, Address: acct.Address, Owner: acct.Owner, Amount: acct.Amount}, nil
}

// Account loads the associated token account of owner.
func (p *Program) Account(ctx context.Context, owner Pubkey) (*TokenAccount, error) {
	addr, err := AccountAddress(p.cfg.ProgramID, owner)
	if err != nil {
		return nil, err
	}
	return p.store.GetTokenAccount(ctx, addr)
}

func (p *Program) Addresses(id TaskID) (TaskAddresses, error) {
	return DeriveTaskAddresses(p.cfg.ProgramID, id)
}

func (p *Program) Events(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	return p.store.ListEvents(ctx, filter)
}

// OpenAccount creates the caller's associated token account if it is missing.
func (p *Program) OpenAccount(ctx context.Context, owner Signer) (*TokenAccount, error) {
	if _, err := ResolveAuthority(owner, p.cfg.ProgramID); err != nil {
		return nil, fmt.Errorf("%w: %s cannot own an account", ErrUnauthorized, owner)
	}
	addr, err := AccountAddress(p.cfg.ProgramID, owner.Key())
	if err != nil {
		return nil, err
	}
	var out *TokenAccount
	err = p.store.Update(ctx, addr, func(tx Tx) error {
		acct, err := NewTokenDelegate(p.cfg.ProgramID, tx).EnsureAccount(owner.Key())
		if err != nil {
			return err
		}
		c := *acct
		out = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MintTo credits amount to owner's associated account. Only the configured
// mint authority may sign it.
func (p *Program) MintTo(ctx context.Context, authority Signer, owner Pubkey, amount uint64) (*TokenAccount, error) {
	if p.cfg.MintAuthority.IsZero() || authority.Key() != p.cfg.MintAuthority {
		metrics.RecordTransition("mint", ErrorCode(ErrUnauthorized))
		return nil, fmt.Errorf("%w: %s is not the mint authority", ErrUnauthorized, authority)
	}
	addr, err := AccountAddress(p.cfg.ProgramID, owner)
	if err != nil {
		return nil, err
	}
	var out *TokenAccount
	err = p.store.Update(ctx, addr, func(tx Tx) error {
		token := NewTokenDelegate(p.cfg.ProgramID, tx)
		if _, err := token.EnsureAccount(owner); err != nil {
			return err
		}
		if err := token.MintTo(addr, amount); err != nil {
			return err
		}
		acct, err := tx.TokenAccount(addr)
		if err != nil {
			return err
		}
		out = acct
		return nil
	})
	if err != nil {
		metrics.RecordTransition("mint", ErrorCode(err))
		return nil, err
	}
	metrics.RecordTransition("mint", "ok")
	metrics.RecordTokens("mint", amount)
	log.Info().Str("owner", owner.String()).Uint64("amount", amount).Msg("tokens minted")
	return out, nil
}

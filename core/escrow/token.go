package escrow

import (
	"errors"
	"fmt"
)

// TokenDelegate performs token ledger instructions inside a store transaction.
// Every instruction checks the signing authority against the account owner
// before it touches a balance.
type TokenDelegate struct {
	programID Pubkey
	tx        Tx
}

func NewTokenDelegate(programID Pubkey, tx Tx) *TokenDelegate {
	return &TokenDelegate{programID: programID, tx: tx}
}

func (d *TokenDelegate) authorize(acct *TokenAccount, auth Authority) error {
	key, err := ResolveAuthority(auth, d.programID)
	if err != nil {
		return err
	}
	if key != acct.Owner {
		return fmt.Errorf("%w: %w: %s does not own %s", ErrUnauthorized, ErrOwnerMismatch, key, acct.Address)
	}
	return nil
}

// Transfer moves amount from one account to another, signed by the owner of from.
func (d *TokenDelegate) Transfer(from, to Pubkey, amount uint64, auth Authority) error {
	src, err := d.tx.TokenAccount(from)
	if err != nil {
		return fmt.Errorf("transfer source: %w", err)
	}
	if err := d.authorize(src, auth); err != nil {
		return err
	}
	dst, err := d.tx.TokenAccount(to)
	if err != nil {
		return fmt.Errorf("transfer destination: %w", err)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientFunds, from, src.Amount, amount)
	}
	if from == to {
		return nil
	}
	if dst.Amount > ^uint64(0)-amount {
		return fmt.Errorf("%w: crediting %s", ErrAmountOverflow, to)
	}
	if err := d.tx.Debit(from, amount); err != nil {
		return err
	}
	return d.tx.Credit(to, amount)
}

// InitVault creates an empty custody account owned by a program address.
func (d *TokenDelegate) InitVault(addr, owner Pubkey) error {
	return d.tx.InitTokenAccount(TokenAccount{Address: addr, Owner: owner})
}

// CloseAccount deletes an empty account. Only its owner may close it.
func (d *TokenDelegate) CloseAccount(addr Pubkey, auth Authority) error {
	acct, err := d.tx.TokenAccount(addr)
	if err != nil {
		return err
	}
	if err := d.authorize(acct, auth); err != nil {
		return err
	}
	if acct.Amount != 0 {
		return fmt.Errorf("%w: %s holds %d", ErrNonZeroBalance, addr, acct.Amount)
	}
	return d.tx.CloseTokenAccount(addr)
}

// EnsureAccount returns the associated account of owner, creating an empty one
// if it does not exist yet.
func (d *TokenDelegate) EnsureAccount(owner Pubkey) (*TokenAccount, error) {
	addr, err := AccountAddress(d.programID, owner)
	if err != nil {
		return nil, err
	}
	acct, err := d.tx.TokenAccount(addr)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}
	acct = &TokenAccount{Address: addr, Owner: owner}
	if err := d.tx.InitTokenAccount(*acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// MintTo issues new tokens into an account. The caller checks the mint authority.
func (d *TokenDelegate) MintTo(addr Pubkey, amount uint64) error {
	acct, err := d.tx.TokenAccount(addr)
	if err != nil {
		return err
	}
	if acct.Amount > ^uint64(0)-amount {
		return fmt.Errorf("%w: minting into %s", ErrAmountOverflow, addr)
	}
	return d.tx.Credit(addr, amount)
}

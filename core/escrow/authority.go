package escrow

import "fmt"

// Authority is whoever signs a token movement. The set of implementations is
// closed: a human Signer, or a derived signer minted from a loaded escrow record.
type Authority interface {
	authorityKey(programID Pubkey) (Pubkey, error)
}

// Signer is an identity whose signature has already been verified by the
// transport layer.
type Signer struct {
	key Pubkey
}

// NewSigner wraps a verified ed25519 public key. Keys that cannot carry a
// signature (zero or off-curve) are refused.
func NewSigner(key Pubkey) (Signer, error) {
	if key.IsZero() || !key.IsOnCurve() {
		return Signer{}, fmt.Errorf("%w: %s is not a signing key", ErrUnauthorized, key)
	}
	return Signer{key: key}, nil
}

func (s Signer) Key() Pubkey { return s.key }

func (s Signer) String() string { return s.key.String() }

func (s Signer) authorityKey(Pubkey) (Pubkey, error) {
	if s.key.IsZero() || !s.key.IsOnCurve() {
		return Pubkey{}, ErrUnauthorized
	}
	return s.key, nil
}

// derivedSigner proves control of a program address by its seeds. Only
// EscrowRecord.signer builds one.
type derivedSigner struct {
	seeds [][]byte
}

func (d derivedSigner) authorityKey(programID Pubkey) (Pubkey, error) {
	addr, err := CreateProgramAddress(d.seeds, programID)
	if err != nil {
		return Pubkey{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return addr, nil
}

// ResolveAuthority returns the key an authority signs as.
func ResolveAuthority(a Authority, programID Pubkey) (Pubkey, error) {
	if a == nil {
		return Pubkey{}, ErrUnauthorized
	}
	return a.authorityKey(programID)
}

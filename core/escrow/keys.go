package escrow

import (
	"encoding/hex"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Pubkey identifies a wallet, a token account or a derived program address.
type Pubkey [32]byte

// PubkeyFromBase58 decodes the text form of a Pubkey.
func PubkeyFromBase58(s string) (Pubkey, error) {
	var k Pubkey
	b, err := base58.Decode(s)
	if err != nil {
		return k, fmt.Errorf("invalid pubkey %q: %w", s, err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("invalid pubkey %q: want %d bytes, got %d", s, len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (k Pubkey) String() string { return base58.Encode(k[:]) }

func (k Pubkey) IsZero() bool { return k == Pubkey{} }

// IsOnCurve reports whether k is a valid ed25519 point encoding, i.e. whether a
// private key could exist for it. Derived program addresses are always off-curve.
func (k Pubkey) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(k[:])
	return err == nil
}

func (k Pubkey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Pubkey) UnmarshalText(text []byte) error {
	v, err := PubkeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Hash is an opaque 32-byte content address (task details, deliverables).
type Hash [32]byte

func HashFromHex(s string) (Hash, error) {
	var h Hash
	if err := decodeHex32(s, h[:]); err != nil {
		return h, fmt.Errorf("invalid hash: %w", err)
	}
	return h, nil
}

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	v, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// TaskID is the caller-chosen unique identifier of a task. Uniqueness is the
// caller's responsibility; the program only refuses to re-create an occupied address.
type TaskID [32]byte

func TaskIDFromHex(s string) (TaskID, error) {
	var id TaskID
	if err := decodeHex32(s, id[:]); err != nil {
		return id, fmt.Errorf("invalid task id: %w", err)
	}
	return id, nil
}

func (id TaskID) String() string { return hex.EncodeToString(id[:]) }

func (id TaskID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TaskID) UnmarshalText(text []byte) error {
	v, err := TaskIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func decodeHex32(s string, dst []byte) error {
	if len(s) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("want %d hex characters, got %d", hex.EncodedLen(len(dst)), len(s))
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}

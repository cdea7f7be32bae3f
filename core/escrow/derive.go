package escrow

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	MaxSeeds   = 16
	MaxSeedLen = 32

	pdaMarker = "ProgramDerivedAddress"
)

// Seed prefixes for the addresses this program derives.
var (
	escrowSeed  = []byte("escrow")
	vaultSeed   = []byte("vault")
	accountSeed = []byte("account")
)

// DefaultProgramID is the identity used when Config.ProgramID is left zero.
var DefaultProgramID = Pubkey(sha256.Sum256([]byte("agent_escrow")))

// CreateProgramAddress hashes seeds with the program identity. The result is
// rejected with ErrOnCurve when it is a valid ed25519 point, so nobody can hold a
// private key for an address it returns.
func CreateProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return Pubkey{}, fmt.Errorf("%w: %d seeds exceeds %d", ErrInvalidSeeds, len(seeds), MaxSeeds)
	}
	h := sha256.New()
	for i, s := range seeds {
		if len(s) > MaxSeedLen {
			return Pubkey{}, fmt.Errorf("%w: seed %d is %d bytes", ErrInvalidSeeds, i, len(s))
		}
		h.Write(s)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var addr Pubkey
	copy(addr[:], h.Sum(nil))
	if addr.IsOnCurve() {
		return Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress walks the bump from 255 down and returns the first
// off-curve address.
func FindProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Pubkey{}, 0, fmt.Errorf("%w: no room for bump seed", ErrInvalidSeeds)
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Pubkey{}, 0, err
		}
	}
	return Pubkey{}, 0, fmt.Errorf("%w: no off-curve address found", ErrInvalidSeeds)
}

func recordSeeds(id TaskID) [][]byte { return [][]byte{escrowSeed, id[:]} }
func vaultSeeds(id TaskID) [][]byte  { return [][]byte{vaultSeed, id[:]} }
func accountSeeds(o Pubkey) [][]byte { return [][]byte{accountSeed, o[:]} }

// RecordAddress derives where the escrow record of a task lives.
func RecordAddress(programID Pubkey, id TaskID) (Pubkey, uint8, error) {
	return FindProgramAddress(recordSeeds(id), programID)
}

// VaultAddress derives the custody account of a task.
func VaultAddress(programID Pubkey, id TaskID) (Pubkey, uint8, error) {
	return FindProgramAddress(vaultSeeds(id), programID)
}

// AccountAddress derives the associated token account of owner.
func AccountAddress(programID Pubkey, owner Pubkey) (Pubkey, error) {
	addr, _, err := FindProgramAddress(accountSeeds(owner), programID)
	return addr, err
}

// TaskAddresses is everything derivable from a task id without touching storage.
type TaskAddresses struct {
	TaskID     TaskID `json:"task_id"`
	Record     Pubkey `json:"record"`
	RecordBump uint8  `json:"record_bump"`
	Vault      Pubkey `json:"vault"`
	VaultBump  uint8  `json:"vault_bump"`
}

func DeriveTaskAddresses(programID Pubkey, id TaskID) (TaskAddresses, error) {
	rec, rb, err := RecordAddress(programID, id)
	if err != nil {
		return TaskAddresses{}, err
	}
	vault, vb, err := VaultAddress(programID, id)
	if err != nil {
		return TaskAddresses{}, err
	}
	return TaskAddresses{TaskID: id, Record: rec, RecordBump: rb, Vault: vault, VaultBump: vb}, nil
}

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"escrow-backend/core/escrow"

	"github.com/mr-tron/base58"
)

var ErrInvalidKeypair = errors.New("invalid keypair")

// Keypair is an ed25519 wallet key.
type Keypair struct {
	priv ed25519.PrivateKey
}

func Generate() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{priv: priv}, nil
}

// FromSeed derives a keypair from a 32-byte seed.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed is %d bytes", ErrInvalidKeypair, len(seed))
	}
	return &Keypair{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// FromBytes accepts the 64-byte secret||public form and checks that the halves agree.
func FromBytes(b []byte) (*Keypair, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKeypair, ed25519.PrivateKeySize, len(b))
	}
	kp, err := FromSeed(b[:ed25519.SeedSize])
	if err != nil {
		return nil, err
	}
	if string(kp.priv[ed25519.SeedSize:]) != string(b[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidKeypair)
	}
	return kp, nil
}

func (k *Keypair) Pubkey() escrow.Pubkey {
	var pk escrow.Pubkey
	copy(pk[:], k.priv.Public().(ed25519.PublicKey))
	return pk
}

func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// Signer returns the escrow authority for this key. Holding the private key is
// the proof, so no signature check is needed here.
func (k *Keypair) Signer() escrow.Signer {
	s, err := escrow.NewSigner(k.Pubkey())
	if err != nil {
		panic(err)
	}
	return s
}

func (k *Keypair) Bytes() []byte {
	return append([]byte(nil), k.priv...)
}

// Verify checks an ed25519 signature made by key.
func Verify(key escrow.Pubkey, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(key[:]), msg, sig)
}

// EncodeSignature renders a signature in base58.
func EncodeSignature(sig []byte) string { return base58.Encode(sig) }

func DecodeSignature(s string) ([]byte, error) {
	sig, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("signature is %d bytes, want %d", len(sig), ed25519.SignatureSize)
	}
	return sig, nil
}

// Load reads a keypair file holding a JSON array of 64 byte values.
func Load(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair %s: %w", path, err)
	}
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKeypair, path, err)
	}
	b := make([]byte, len(raw))
	for i, v := range raw {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: %s: byte %d out of range", ErrInvalidKeypair, path, i)
		}
		b[i] = byte(v)
	}
	return FromBytes(b)
}

// Save writes the keypair as a JSON byte array readable only by the owner.
func Save(path string, k *Keypair) error {
	raw := make([]int, len(k.priv))
	for i, v := range k.priv {
		raw[i] = int(v)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create keypair dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write keypair %s: %w", path, err)
	}
	return nil
}

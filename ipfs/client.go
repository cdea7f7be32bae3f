package ipfs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"escrow-backend/core/escrow"

	"github.com/ipfs/go-cid"
	shell "github.com/ipfs/go-ipfs-api"
	mh "github.com/multiformats/go-multihash"
)

// MaxContentSize keeps every document inside one raw block, so the CID digest
// is exactly sha256 of the content.
const MaxContentSize = 256 << 10

var (
	ErrTooLarge       = errors.New("content exceeds single block size")
	ErrEmpty          = errors.New("content is empty")
	ErrDigestMismatch = errors.New("content does not match requested hash")
)

// Shell is the subset of the IPFS HTTP API used here.
type Shell interface {
	Add(r io.Reader, options ...shell.AddOpts) (string, error)
	Cat(path string) (io.ReadCloser, error)
}

// Client stores task descriptions and deliverables and returns the 32-byte
// content hash the escrow records carry.
type Client struct {
	sh Shell
}

func NewClient(apiURL string, timeout time.Duration) *Client {
	sh := shell.NewShell(apiURL)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}
	return &Client{sh: sh}
}

func NewClientWithShell(sh Shell) *Client {
	return &Client{sh: sh}
}

// CIDForHash returns the CIDv1 of a raw block whose sha2-256 digest is h.
func CIDForHash(h escrow.Hash) (cid.Cid, error) {
	digest, err := mh.Encode(h[:], mh.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, digest), nil
}

// HashFromCID extracts the sha2-256 digest of a raw CID.
func HashFromCID(c cid.Cid) (escrow.Hash, error) {
	var h escrow.Hash
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return h, err
	}
	if c.Type() != cid.Raw || decoded.Code != mh.SHA2_256 || len(decoded.Digest) != len(h) {
		return h, fmt.Errorf("cid %s is not a raw sha2-256 block", c)
	}
	copy(h[:], decoded.Digest)
	return h, nil
}

// Put adds and pins data as a single raw block.
func (c *Client) Put(ctx context.Context, data []byte) (escrow.Hash, cid.Cid, error) {
	if len(data) == 0 {
		return escrow.Hash{}, cid.Undef, ErrEmpty
	}
	if len(data) > MaxContentSize {
		return escrow.Hash{}, cid.Undef, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	if err := ctx.Err(); err != nil {
		return escrow.Hash{}, cid.Undef, err
	}
	h := escrow.Hash(sha256.Sum256(data))
	want, err := CIDForHash(h)
	if err != nil {
		return escrow.Hash{}, cid.Undef, err
	}

	got, err := c.sh.Add(bytes.NewReader(data), shell.CidVersion(1), shell.RawLeaves(true), shell.Pin(true))
	if err != nil {
		return escrow.Hash{}, cid.Undef, fmt.Errorf("ipfs add failed: %w", err)
	}
	parsed, err := cid.Decode(got)
	if err != nil {
		return escrow.Hash{}, cid.Undef, fmt.Errorf("ipfs add returned bad cid %q: %w", got, err)
	}
	if !parsed.Equals(want) {
		return escrow.Hash{}, cid.Undef, fmt.Errorf("ipfs add returned %s, expected %s", parsed, want)
	}
	return h, want, nil
}

// Get fetches the content addressed by h and verifies it.
func (c *Client) Get(ctx context.Context, h escrow.Hash) ([]byte, error) {
	id, err := CIDForHash(h)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := c.sh.Cat(id.String())
	if err != nil {
		return nil, fmt.Errorf("ipfs cat failed: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("ipfs cat read: %w", err)
	}
	if len(data) > MaxContentSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, id)
	}
	if escrow.Hash(sha256.Sum256(data)) != h {
		return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, id)
	}
	return data, nil
}

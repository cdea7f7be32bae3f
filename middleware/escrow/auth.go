package escrow

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"escrow-backend/core/escrow"
	"escrow-backend/core/identity"
)

const (
	HeaderPubkey    = "X-Escrow-Pubkey"
	HeaderTimestamp = "X-Escrow-Timestamp"
	HeaderSignature = "X-Escrow-Signature"

	maxBodyBytes = 1 << 20
)

type ctxKey struct{}

// SignerFrom returns the verified caller attached by RequireSignature.
func SignerFrom(ctx context.Context) (escrow.Signer, bool) {
	s, ok := ctx.Value(ctxKey{}).(escrow.Signer)
	return s, ok
}

// SigningMessage is what a caller signs: method, path, unix timestamp and the
// hex sha256 of the body, newline separated.
func SigningMessage(method, path string, ts int64, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(method + "\n" + path + "\n" + strconv.FormatInt(ts, 10) + "\n" + hex.EncodeToString(sum[:]))
}

// SignRequest sets the identity headers on req. The body must already be set
// and is re-readable afterwards.
func SignRequest(req *http.Request, kp *identity.Keypair, at time.Time) error {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		req.Body.Close()
		body = b
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	ts := at.Unix()
	sig := kp.Sign(SigningMessage(req.Method, req.URL.Path, ts, body))
	req.Header.Set(HeaderPubkey, kp.Pubkey().String())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, identity.EncodeSignature(sig))
	return nil
}

// signatureAuth verifies request signatures within an allowed clock skew.
type signatureAuth struct {
	skew time.Duration
	now  func() time.Time
}

func (a signatureAuth) verify(r *http.Request) (escrow.Signer, []byte, error) {
	pk, err := escrow.PubkeyFromBase58(r.Header.Get(HeaderPubkey))
	if err != nil {
		return escrow.Signer{}, nil, fmt.Errorf("missing or invalid %s", HeaderPubkey)
	}
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return escrow.Signer{}, nil, fmt.Errorf("missing or invalid %s", HeaderTimestamp)
	}
	if d := a.now().Sub(time.Unix(ts, 0)); d > a.skew || d < -a.skew {
		return escrow.Signer{}, nil, fmt.Errorf("timestamp outside the allowed window of %s", a.skew)
	}
	sig, err := identity.DecodeSignature(r.Header.Get(HeaderSignature))
	if err != nil {
		return escrow.Signer{}, nil, fmt.Errorf("missing or invalid %s", HeaderSignature)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			return escrow.Signer{}, nil, fmt.Errorf("read body: %w", err)
		}
		if len(body) > maxBodyBytes {
			return escrow.Signer{}, nil, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
		}
	}
	if !identity.Verify(pk, SigningMessage(r.Method, r.URL.Path, ts, body), sig) {
		return escrow.Signer{}, nil, fmt.Errorf("signature does not verify")
	}
	signer, err := escrow.NewSigner(pk)
	if err != nil {
		return escrow.Signer{}, nil, err
	}
	return signer, body, nil
}

// RequireSignature rejects unsigned requests and attaches the verified signer.
func (a signatureAuth) RequireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signer, body, err := a.verify(r)
		if err != nil {
			Error(w, http.StatusUnauthorized, "Unauthenticated", err.Error())
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, signer)))
	})
}

// replayGuard remembers signatures until their timestamp leaves the skew
// window, so a captured request cannot be sent twice. ed25519 signatures are
// deterministic: callers that repeat an identical request within one second
// must vary the body, e.g. with a nonce.
type replayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newReplayGuard(skew time.Duration, now func() time.Time) *replayGuard {
	return &replayGuard{seen: make(map[string]time.Time), ttl: 2 * skew, now: now}
}

// first records sig and reports whether it had not been seen yet.
func (g *replayGuard) first(sig string) bool {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, exp := range g.seen {
		if now.After(exp) {
			delete(g.seen, k)
		}
	}
	if _, ok := g.seen[sig]; ok {
		return false
	}
	g.seen[sig] = now.Add(g.ttl)
	return true
}

// Once rejects a signed request whose signature was already accepted. It runs
// after RequireSignature.
func (g *replayGuard) Once(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.first(r.Header.Get(HeaderSignature)) {
			Error(w, http.StatusConflict, "Replayed", "request signature already used")
			return
		}
		next.ServeHTTP(w, r)
	})
}

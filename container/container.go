package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"escrow-backend/config"
	"escrow-backend/core/escrow"
	"escrow-backend/core/identity"
	"escrow-backend/ipfs"
	httpapi "escrow-backend/middleware/escrow"
	"escrow-backend/notify"
	store "escrow-backend/storage/escrow"

	"github.com/rs/zerolog/log"
)

// Store is what the container hands to the program: the escrow store contract
// plus lifecycle hooks.
type Store interface {
	escrow.Store
	SetNotifier(n escrow.Notifier)
}

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Wallet      *identity.Keypair
	Store       Store
	Notifier    *notify.Multi
	Broadcaster *notify.Broadcaster
	Program     *escrow.Program
	Content     *ipfs.Client
	HTTP        *httpapi.Server

	closers []func()
}

// New builds every dependency from cfg, including the content gateway and the
// HTTP API.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c, err := NewCore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.IPFSAPIURL != "" {
		c.Content = ipfs.NewClient(cfg.IPFSAPIURL, 30*time.Second)
	}
	var content httpapi.ContentStore
	if c.Content != nil {
		content = c.Content
	}
	c.HTTP = httpapi.NewServer(c.Program, content, c.Broadcaster, httpapi.Options{
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
		SignatureSkew: cfg.SignatureSkew,
		CORSOrigins:   cfg.CORSOrigins,
	})
	return c, nil
}

// NewCore builds the wallet, store, notifiers and program without any
// transport. The operator wallet is loaded from cfg.KeyFile, or generated and
// saved there when the file does not exist.
func NewCore(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg}

	wallet, err := LoadOrCreateWallet(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	c.Wallet = wallet

	c.Broadcaster = notify.NewBroadcaster(0)
	c.Notifier = notify.NewMulti(notify.LogNotifier{}, notify.MetricsNotifier{}, c.Broadcaster)
	if cfg.RedisURL != "" {
		client, err := notify.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { client.Close() })
		c.Notifier.Add(notify.NewRedisStream(client, cfg.RedisStream, cfg.RedisMaxLen))
	}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	st.SetNotifier(c.Notifier)
	c.Store = st

	progCfg, err := ProgramConfig(cfg, wallet)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Program, err = escrow.NewProgram(st, progCfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	log.Info().
		Str("driver", cfg.StoreDriver).
		Str("program_id", c.Program.ProgramID().String()).
		Str("fee_owner", c.Program.FeeOwner().String()).
		Str("wallet", wallet.Pubkey().String()).
		Msg("escrow container ready")
	return c, nil
}

// ProgramConfig resolves the program identities. The wallet stands in for an
// unset fee owner, and for an unset mint authority on the memory driver.
func ProgramConfig(cfg *config.Config, wallet *identity.Keypair) (escrow.Config, error) {
	progCfg, err := cfg.Program(wallet.Pubkey())
	if err != nil {
		return escrow.Config{}, err
	}
	if progCfg.MintAuthority.IsZero() && (cfg.StoreDriver == "memory" || cfg.StoreDriver == "") {
		progCfg.MintAuthority = wallet.Pubkey()
	}
	return progCfg, nil
}

// OpenStore selects the storage backend named by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pg, err := store.NewPGStore(ctx, cfg.PGDSN, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to init store: %w", err)
		}
		return pg, nil
	case "memory", "":
		return store.NewMemoryStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// LoadOrCreateWallet reads a keypair file, creating one on first use.
func LoadOrCreateWallet(path string) (*identity.Keypair, error) {
	kp, err := identity.Load(path)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	kp, err = identity.Generate()
	if err != nil {
		return nil, err
	}
	if err := identity.Save(path, kp); err != nil {
		return nil, err
	}
	log.Warn().Str("path", path).Str("pubkey", kp.Pubkey().String()).Msg("generated new wallet keypair")
	return kp, nil
}

// Close releases the store and sink connections.
func (c *Container) Close() {
	if pg, ok := c.Store.(*store.PGStore); ok {
		pg.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

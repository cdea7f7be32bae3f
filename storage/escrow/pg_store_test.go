package escrow

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// PGStoreSuite runs the store contract against a live database named by
// ESCROW_TEST_PG_DSN. Every test starts from an empty schema.
type PGStoreSuite struct {
	suite.Suite
	dsn   string
	store *PGStore
}

func TestPGStoreSuite(t *testing.T) {
	dsn := os.Getenv("ESCROW_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ESCROW_TEST_PG_DSN not set")
	}
	suite.Run(t, &PGStoreSuite{dsn: dsn})
}

func (s *PGStoreSuite) SetupSuite() {
	st, err := NewPGStore(context.Background(), s.dsn, nil)
	s.Require().NoError(err)
	s.store = st
}

func (s *PGStoreSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *PGStoreSuite) reset(t *testing.T) contractStore {
	ctx := context.Background()
	m := NewSchemaManager(s.store.Pool())
	require.NoError(t, m.Drop(ctx))
	require.NoError(t, m.Initialize(ctx))
	s.store.SetNotifier(nil)
	return s.store
}

func (s *PGStoreSuite) TestContract() {
	runStoreContract(s.T(), s.reset)
}

package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/schoolmart-orders/internal/postgres"
	"github.com/ariefcatur/schoolmart-orders/internal/testinfra"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type alertLog struct {
	mu     sync.Mutex
	alerts []string
}

func (a *alertLog) LowStock(_ context.Context, p Product, _ int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, p.ID)
}

func (a *alertLog) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type PGLedgerSuite struct {
	testinfra.BaseSuite
	alerts *alertLog
	ledger *PGLedger
	tx     *postgres.TxManager
}

func (s *PGLedgerSuite) SetupSuite()    { s.SetupPostgres("../../migrations") }
func (s *PGLedgerSuite) TearDownSuite() { s.TearDownInfrastructure() }

func (s *PGLedgerSuite) SetupTest() {
	s.TruncateTables("reservations", "products")
	s.alerts = &alertLog{}
	s.ledger = NewPGLedger(s.DbPool, func() int64 { return 5 }, s.alerts, zap.NewNop())
	s.tx = &postgres.TxManager{Pool: s.DbPool}
	s.Require().NoError(s.ledger.Upsert(s.Ctx, Product{ID: "glue", Name: "Glue stick", Price: 300, Stock: 6, IsActive: true}))
}

func (s *PGLedgerSuite) TestLowStockAfterStandaloneCommit() {
	t, err := s.ledger.Reserve(s.Ctx, "o-1", "glue", 2)
	s.Require().NoError(err)
	s.Require().NoError(s.ledger.Commit(s.Ctx, t))
	s.Equal(1, s.alerts.count())
}

func (s *PGLedgerSuite) TestNoLowStockWhenOuterTxRollsBack() {
	t, err := s.ledger.Reserve(s.Ctx, "o-1", "glue", 2)
	s.Require().NoError(err)

	boom := errors.New("order write failed")
	err = s.tx.WithinTx(s.Ctx, func(ctx context.Context) error {
		if err := s.ledger.Commit(ctx, t); err != nil {
			return err
		}
		s.Equal(0, s.alerts.count())
		return boom
	})
	s.Require().ErrorIs(err, boom)
	s.Equal(0, s.alerts.count())

	p, err := s.ledger.Product(s.Ctx, "glue")
	s.Require().NoError(err)
	s.Equal(int64(6), p.Stock)
	s.Equal(int64(2), p.Reserved)

	// the token is still open and commits for real this time
	s.Require().NoError(s.tx.WithinTx(s.Ctx, func(ctx context.Context) error {
		return s.ledger.Commit(ctx, t)
	}))
	s.Equal(1, s.alerts.count())
}

func TestPGLedgerSuite(t *testing.T) {
	testinfra.SkipUnlessEnabled(t)
	suite.Run(t, new(PGLedgerSuite))
}

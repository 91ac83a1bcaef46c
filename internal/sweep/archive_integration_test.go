package sweep

import (
	"testing"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/orders"
	"github.com/ariefcatur/schoolmart-orders/internal/payment"
	"github.com/ariefcatur/schoolmart-orders/internal/testinfra"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type PGArchiverSuite struct {
	testinfra.BaseSuite
	repo *orders.Repo
}

func (s *PGArchiverSuite) SetupSuite()    { s.SetupPostgres("../../migrations") }
func (s *PGArchiverSuite) TearDownSuite() { s.TearDownInfrastructure() }

func (s *PGArchiverSuite) SetupTest() {
	s.TruncateTables("orders_archive", "order_items", "orders")
	s.repo = orders.NewRepo(s.DbPool)
}

func (s *PGArchiverSuite) insert(id string, st orders.Status, updated time.Time) orders.Order {
	o := orders.Order{
		ID:            id,
		ExternalID:    "ext-" + id,
		CustomerID:    "school-2",
		Status:        st,
		PaymentMethod: payment.MethodCard,
		Version:       1,
		CreatedAt:     updated,
		UpdatedAt:     updated,
	}
	s.Require().NoError(s.repo.Create(s.Ctx, o))
	return o
}

func (s *PGArchiverSuite) TestRetentionMovesOrdersToArchive() {
	old := time.Now().Add(-400 * 24 * time.Hour)
	s.insert("old-delivered", orders.StatusDelivered, old)
	s.insert("old-pending", orders.StatusPendingPayment, old)
	s.insert("fresh-cancelled", orders.StatusCancelled, time.Now())

	sw := &RetentionSweeper{
		Orders:   s.repo,
		Archiver: &PGArchiver{DB: s.DbPool},
		Policy:   retentionPolicy(s.T(), 365),
		Logger:   zap.NewNop(),
	}
	n, err := sw.RunOnce(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	_, err = s.repo.Get(s.Ctx, "old-delivered")
	s.ErrorIs(err, orders.ErrOrderNotFound)

	var status string
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx,
		`SELECT snapshot->>'status' FROM orders_archive WHERE id = $1`, "old-delivered").Scan(&status))
	s.Equal(string(orders.StatusDelivered), status)

	for _, id := range []string{"old-pending", "fresh-cancelled"} {
		_, err := s.repo.Get(s.Ctx, id)
		s.NoError(err, id)
	}
}

func (s *PGArchiverSuite) TestStaleSnapshotIsNotArchived() {
	o := s.insert("moved", orders.StatusDelivered, time.Now())
	o.Version = 7

	err := (&PGArchiver{DB: s.DbPool}).Archive(s.Ctx, o)
	s.ErrorIs(err, orders.ErrStaleWrite)

	var n int
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, `SELECT COUNT(*) FROM orders_archive`).Scan(&n))
	s.Equal(0, n)
}

func TestPGArchiverSuite(t *testing.T) {
	testinfra.SkipUnlessEnabled(t)
	suite.Run(t, new(PGArchiverSuite))
}

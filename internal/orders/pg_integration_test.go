package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/schoolmart-orders/internal/inventory"
	"github.com/ariefcatur/schoolmart-orders/internal/payment"
	"github.com/ariefcatur/schoolmart-orders/internal/policy"
	"github.com/ariefcatur/schoolmart-orders/internal/postgres"
	"github.com/ariefcatur/schoolmart-orders/internal/testinfra"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type PGServiceSuite struct {
	testinfra.BaseSuite
	repo    *Repo
	ledger  *inventory.PGLedger
	sandbox *payment.Sandbox
	svc     *Service
}

func (s *PGServiceSuite) SetupSuite() {
	s.SetupPostgres("../../migrations")
}

func (s *PGServiceSuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *PGServiceSuite) SetupTest() {
	s.TruncateTables("order_items", "reservations", "orders", "products")

	store, err := policy.NewStore(policy.Defaults(), nil, zap.NewNop())
	s.Require().NoError(err)

	s.repo = NewRepo(s.DbPool)
	s.ledger = inventory.NewPGLedger(s.DbPool, func() int64 { return 0 }, nil, zap.NewNop())
	s.Require().NoError(s.ledger.Upsert(s.Ctx, inventory.Product{ID: "crayons", Name: "Crayons x12", Price: 900, Stock: 20, IsActive: true}))

	s.sandbox = payment.NewSandbox("sandbox")
	reg := payment.NewRegistry()
	reg.Register(s.sandbox, payment.Methods...)

	s.svc = NewService(Deps{
		Repo:     s.repo,
		Tx:       &postgres.TxManager{Pool: s.DbPool},
		Ledger:   s.ledger,
		Catalog:  s.ledger,
		Gateways: reg,
		Policy:   store,
		Logger:   zap.NewNop(),
		Retry:    RetryConfig{Attempts: 20, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2},
	})
}

func (s *PGServiceSuite) create(ext string, qty int64) (Order, error) {
	o, _, err := s.svc.Create(s.Ctx, CreateInput{
		ExternalID: ext,
		CustomerID: "school-1",
		Method:     payment.MethodUSSD,
		Items:      []ItemInput{{ProductID: "crayons", Qty: qty}},
	})
	return o, err
}

func (s *PGServiceSuite) TestCreateAndConfirmCommitsOnce() {
	o, err := s.create("pg-1", 4)
	s.Require().NoError(err)
	s.Equal(StatusPendingPayment, o.Status)

	stored, err := s.repo.Get(s.Ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(int64(3600), stored.TotalAmount)
	s.Require().Len(stored.Items, 1)
	s.Equal(int64(900), stored.Items[0].UnitPrice)

	for i := 0; i < 3; i++ {
		_, err = s.svc.ConfirmPayment(s.Ctx, o.ID, "pay-1")
		s.Require().NoError(err)
	}

	p, err := s.ledger.Product(s.Ctx, "crayons")
	s.Require().NoError(err)
	s.Equal(int64(16), p.Stock)
	s.Equal(int64(0), p.Reserved)
}

func (s *PGServiceSuite) TestReservationsNeverOversell() {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.create("pg-race-"+string(rune('a'+i)), 3)
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
				return
			}
			s.True(errors.Is(err, inventory.ErrInsufficientStock), err)
		}(i)
	}
	wg.Wait()

	s.Equal(6, granted)
	p, err := s.ledger.Product(s.Ctx, "crayons")
	s.Require().NoError(err)
	s.Equal(int64(18), p.Reserved)
	s.LessOrEqual(p.Reserved, p.Stock)
}

func (s *PGServiceSuite) TestConfirmRacingExpiryHasOneWinner() {
	o, err := s.create("pg-2", 5)
	s.Require().NoError(err)

	var wg sync.WaitGroup
	var confirmErr, expireErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, confirmErr = s.svc.ConfirmPayment(s.Ctx, o.ID, "pay-2")
	}()
	go func() {
		defer wg.Done()
		_, expireErr = s.svc.ExpireStale(s.Ctx, o.ID, time.Now().Add(time.Hour))
	}()
	wg.Wait()

	s.True((confirmErr == nil) != (expireErr == nil), "confirm=%v expire=%v", confirmErr, expireErr)

	final, err := s.repo.Get(s.Ctx, o.ID)
	s.Require().NoError(err)
	p, err := s.ledger.Product(s.Ctx, "crayons")
	s.Require().NoError(err)
	s.Equal(int64(0), p.Reserved)
	switch final.Status {
	case StatusConfirmed:
		s.Equal(int64(15), p.Stock)
	case StatusPaymentFailed:
		s.Equal(int64(20), p.Stock)
	default:
		s.Failf("unexpected status", "%s", final.Status)
	}
}

func (s *PGServiceSuite) TestUpdateIsVersionGuarded() {
	o, err := s.create("pg-3", 1)
	s.Require().NoError(err)

	next := o
	next.Status = StatusCancelled
	_, err = s.repo.Update(s.Ctx, next, o.Version-1)
	s.ErrorIs(err, ErrStaleWrite)

	_, err = s.repo.Update(context.Background(), Order{ID: "missing"}, 1)
	s.ErrorIs(err, ErrOrderNotFound)
}

func (s *PGServiceSuite) TestListStaleAndDelete() {
	o, err := s.create("pg-4", 1)
	s.Require().NoError(err)

	stale, err := s.repo.ListStale(s.Ctx, []Status{StatusPendingPayment}, time.Now().Add(time.Minute), 0)
	s.Require().NoError(err)
	s.Require().Len(stale, 1)
	s.Equal(o.ID, stale[0].ID)

	s.Require().NoError(s.repo.Delete(s.Ctx, o.ID))
	s.ErrorIs(s.repo.Delete(s.Ctx, o.ID), ErrOrderNotFound)
}

func TestPGServiceSuite(t *testing.T) {
	testinfra.SkipUnlessEnabled(t)
	suite.Run(t, new(PGServiceSuite))
}

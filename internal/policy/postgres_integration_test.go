package policy

import (
	"testing"

	"github.com/ariefcatur/schoolmart-orders/internal/testinfra"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type PGPersisterSuite struct {
	testinfra.BaseSuite
	persister *PGPersister
}

func (s *PGPersisterSuite) SetupSuite()    { s.SetupPostgres("../../migrations") }
func (s *PGPersisterSuite) TearDownSuite() { s.TearDownInfrastructure() }

func (s *PGPersisterSuite) SetupTest() {
	s.TruncateTables("system_preferences")
	s.persister = &PGPersister{DB: s.DbPool}
}

func (s *PGPersisterSuite) TestReloadSeedsThenFollowsTable() {
	_, found, err := s.persister.Load(s.Ctx)
	s.Require().NoError(err)
	s.False(found)

	store, err := NewStore(Defaults(), s.persister, zap.NewNop())
	s.Require().NoError(err)
	_, err = store.Reload(s.Ctx)
	s.Require().NoError(err)

	snap, found, err := s.persister.Load(s.Ctx)
	s.Require().NoError(err)
	s.True(found)
	s.Equal(Defaults(), snap.Config)

	cfg := Defaults()
	cfg.AutoApproveOrders = true
	cfg.LowStockThreshold = 3
	updated, err := store.Update(s.Ctx, cfg)
	s.Require().NoError(err)

	other, err := NewStore(Defaults(), s.persister, zap.NewNop())
	s.Require().NoError(err)
	got, err := other.Reload(s.Ctx)
	s.Require().NoError(err)
	s.Equal(updated.Version, got.Version)
	s.True(other.Config().AutoApproveOrders)
	s.Equal(int64(3), other.Config().LowStockThreshold)
}

func TestPGPersisterSuite(t *testing.T) {
	testinfra.SkipUnlessEnabled(t)
	suite.Run(t, new(PGPersisterSuite))
}

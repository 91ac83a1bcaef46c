package notify

import (
	"testing"

	"github.com/ariefcatur/schoolmart-orders/internal/testinfra"
	"github.com/stretchr/testify/suite"
)

type PGPreferencesSuite struct {
	testinfra.BaseSuite
	store *PGPreferences
}

func (s *PGPreferencesSuite) SetupSuite()    { s.SetupPostgres("../../migrations") }
func (s *PGPreferencesSuite) TearDownSuite() { s.TearDownInfrastructure() }

func (s *PGPreferencesSuite) SetupTest() {
	s.TruncateTables("notification_preferences", "admins")
	s.store = &PGPreferences{DB: s.DbPool}
	_, err := s.DbPool.Exec(s.Ctx, `
		INSERT INTO admins (id, email, active) VALUES
			('ops', 'ops@school.test', TRUE),
			('finance', 'finance@school.test', TRUE),
			('former', 'former@school.test', FALSE)`)
	s.Require().NoError(err)
}

func (s *PGPreferencesSuite) TestAllListsActiveAdmins() {
	s.Require().NoError(s.store.Set(s.Ctx, "finance", CategoryDeliveryUpdates, false))
	s.Require().NoError(s.store.Set(s.Ctx, "finance", CategoryDeliveryUpdates, false))
	s.Require().NoError(s.store.Set(s.Ctx, "finance", CategoryPaymentUpdates, true))

	all, err := s.store.All(s.Ctx)
	s.Require().NoError(err)
	s.Len(all, 2)
	s.NotContains(all, "former")

	s.Empty(all["ops"])
	s.True(all["ops"].Enabled(CategoryDeliveryUpdates))
	s.False(all["finance"].Enabled(CategoryDeliveryUpdates))
	s.True(all["finance"].Enabled(CategoryPaymentUpdates))
}

func (s *PGPreferencesSuite) TestSetRejectsUnknownCategory() {
	s.Error(s.store.Set(s.Ctx, "ops", Category("marketing"), true))
}

func TestPGPreferencesSuite(t *testing.T) {
	testinfra.SkipUnlessEnabled(t)
	suite.Run(t, new(PGPreferencesSuite))
}

package realtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"fieldops/internal/compliance/models"
	id "fieldops/pkg/domain"
)

// =============================================================================
// Hub Test Suite
// =============================================================================
// Justification: fan-out filtering and the drop-on-full policy are the only
// places tenant isolation is enforced for the stream; they are pure in-memory
// logic and cheapest to pin down here.

type HubSuite struct {
	suite.Suite
	hub     *Hub
	company id.CompanyID
	job     id.JobID
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func (s *HubSuite) SetupTest() {
	s.hub = NewHub()
	s.company = id.CompanyID(uuid.New())
	s.job = id.JobID(uuid.New())
}

func (s *HubSuite) view(company id.CompanyID, job id.JobID) models.AuditView {
	return models.AuditView{
		ID:             id.AuditID(uuid.New()),
		CompanyID:      company,
		JobID:          job,
		RequirementRef: "1926.501",
		Status:         models.AuditStatusNonCompliant,
	}
}

func (s *HubSuite) TestPublish() {
	s.Run("delivers only to the matching job", func() {
		sub := s.hub.Subscribe(s.company, s.job, 4)
		other := s.hub.Subscribe(s.company, id.JobID(uuid.New()), 4)
		defer s.hub.Unsubscribe(sub)
		defer s.hub.Unsubscribe(other)

		v := s.view(s.company, s.job)
		s.Equal(1, s.hub.Publish(v))

		got := <-sub.C()
		s.Equal(v.ID, got.ID)
		s.Empty(other.C())
	})

	s.Run("same job id under another company is not delivered", func() {
		sub := s.hub.Subscribe(s.company, s.job, 4)
		defer s.hub.Unsubscribe(sub)

		s.Zero(s.hub.Publish(s.view(id.CompanyID(uuid.New()), s.job)))
		s.Empty(sub.C())
	})

	s.Run("full buffers drop instead of blocking", func() {
		sub := s.hub.Subscribe(s.company, s.job, 1)
		defer s.hub.Unsubscribe(sub)

		s.Equal(1, s.hub.Publish(s.view(s.company, s.job)))
		s.Zero(s.hub.Publish(s.view(s.company, s.job)))
		s.Len(sub.C(), 1)
	})
}

func (s *HubSuite) TestUnsubscribeClosesChannel() {
	sub := s.hub.Subscribe(s.company, s.job, 0)
	s.Equal(1, s.hub.Subscribers())

	s.hub.Unsubscribe(sub)
	s.hub.Unsubscribe(sub)

	_, ok := <-sub.C()
	s.False(ok)
	s.Zero(s.hub.Subscribers())
	s.Zero(s.hub.Publish(s.view(s.company, s.job)))
}

func (s *HubSuite) TestClose() {
	sub := s.hub.Subscribe(s.company, s.job, 0)
	s.hub.Close()

	_, ok := <-sub.C()
	s.False(ok)

	late := s.hub.Subscribe(s.company, s.job, 0)
	_, ok = <-late.C()
	s.False(ok)
	s.hub.Unsubscribe(late)
}

func (s *HubSuite) TestPublishAudit() {
	sub := s.hub.Subscribe(s.company, s.job, 1)
	defer s.hub.Unsubscribe(sub)

	s.hub.PublishAudit(models.Audit{
		ID:        id.AuditID(uuid.New()),
		CompanyID: s.company,
		JobID:     s.job,
		Status:    models.AuditStatusPending,
	})

	got := <-sub.C()
	s.JSONEq(`{}`, string(got.AuditData))
}

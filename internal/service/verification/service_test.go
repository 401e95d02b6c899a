package verification

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinichub-backend/internal/domain"
	"clinichub-backend/internal/repository/memory"
	apperrors "clinichub-backend/pkg/errors"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []emittedEvent
	err    error
}

type emittedEvent struct {
	name    string
	payload any
}

func (p *recordingPublisher) Emit(_ context.Context, name string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, emittedEvent{name: name, payload: payload})
	return nil
}

func (p *recordingPublisher) last(t *testing.T) emittedEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.events)
	return p.events[len(p.events)-1]
}

func newVerificationFixture(t *testing.T) (*Service, *memory.UserRepository, *recordingPublisher) {
	t.Helper()
	users := memory.NewUserRepository()
	publisher := &recordingPublisher{}
	return NewService(users, publisher, nil), users, publisher
}

func seedDoctor(t *testing.T, users *memory.UserRepository, id string) {
	t.Helper()
	require.NoError(t, users.Insert(context.Background(), &domain.User{
		ID:                 id,
		Role:               domain.RoleDoctor,
		VerificationStatus: domain.VerificationPending,
	}))
}

func TestRegisterDoctor(t *testing.T) {
	svc, users, publisher := newVerificationFixture(t)
	ctx := context.Background()

	user, err := svc.RegisterDoctor(ctx, &RegisterInput{
		Email:     "new.doc@clinic.test",
		FirstName: "New",
		LastName:  "Doc",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.RoleDoctor, user.Role)
	assert.Equal(t, domain.VerificationPending, user.VerificationStatus)

	stored, err := users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	event := publisher.last(t)
	assert.Equal(t, domain.EventNewDoctorRegistration, event.name)
	payload, ok := event.payload.(domain.NewDoctorRegistration)
	require.True(t, ok)
	assert.Equal(t, user.ID, payload.DoctorID)
	assert.NotEmpty(t, payload.RegistrationTime)
}

func TestRegisterDoctor_MissingFields(t *testing.T) {
	svc, _, publisher := newVerificationFixture(t)

	_, err := svc.RegisterDoctor(context.Background(), &RegisterInput{Email: "  "})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))
	assert.Empty(t, publisher.events)
}

func TestApproveDoctor(t *testing.T) {
	svc, users, publisher := newVerificationFixture(t)
	ctx := context.Background()
	seedDoctor(t, users, "doctor-1")

	require.NoError(t, svc.ApproveDoctor(ctx, "doctor-1"))

	stored, err := users.FindByID(ctx, "doctor-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationApproved, stored.VerificationStatus)

	event := publisher.last(t)
	assert.Equal(t, domain.EventVerificationStatusUpdate, event.name)
	payload := event.payload.(domain.VerificationStatusUpdate)
	assert.Equal(t, "doctor-1", payload.DoctorID)
	assert.Equal(t, domain.VerificationApproved, payload.Status)
	assert.Empty(t, payload.RejectionReason)
}

func TestRejectDoctor(t *testing.T) {
	svc, users, publisher := newVerificationFixture(t)
	ctx := context.Background()
	seedDoctor(t, users, "doctor-1")

	require.NoError(t, svc.RejectDoctor(ctx, "doctor-1", "license number could not be verified"))

	stored, err := users.FindByID(ctx, "doctor-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationRejected, stored.VerificationStatus)

	payload := publisher.last(t).payload.(domain.VerificationStatusUpdate)
	assert.Equal(t, domain.VerificationRejected, payload.Status)
	assert.Equal(t, "license number could not be verified", payload.RejectionReason)
}

func TestRejectDoctor_ReasonRequired(t *testing.T) {
	svc, users, _ := newVerificationFixture(t)
	seedDoctor(t, users, "doctor-1")

	err := svc.RejectDoctor(context.Background(), "doctor-1", "")

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))
}

func TestApproveDoctor_NotFound(t *testing.T) {
	svc, _, _ := newVerificationFixture(t)

	err := svc.ApproveDoctor(context.Background(), "ghost")

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserNotFound))
}

func TestApproveDoctor_NotADoctor(t *testing.T) {
	svc, users, _ := newVerificationFixture(t)
	require.NoError(t, users.Insert(context.Background(), &domain.User{
		ID:   "patient-1",
		Role: domain.RolePatient,
	}))

	err := svc.ApproveDoctor(context.Background(), "patient-1")

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
}

func TestApproveDoctor_BusFailureDoesNotFailRequest(t *testing.T) {
	svc, users, publisher := newVerificationFixture(t)
	ctx := context.Background()
	seedDoctor(t, users, "doctor-1")
	publisher.err = assert.AnError

	require.NoError(t, svc.ApproveDoctor(ctx, "doctor-1"))

	stored, err := users.FindByID(ctx, "doctor-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationApproved, stored.VerificationStatus)
}

func TestVerificationPayloadShape(t *testing.T) {
	payload := domain.VerificationStatusUpdate{
		DoctorID: "doctor-1",
		Status:   domain.VerificationApproved,
		Message:  "approved",
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	// rejectionReason is omitted entirely when unset.
	assert.NotContains(t, string(data), "rejectionReason")
	assert.Contains(t, string(data), `"doctorId":"doctor-1"`)
}

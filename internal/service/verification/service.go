package verification

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinichub-backend/internal/domain"
	apperrors "clinichub-backend/pkg/errors"
)

// UserRepository is the persistence surface the verification flow needs.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Insert(ctx context.Context, user *domain.User) error
	UpdateVerificationStatus(ctx context.Context, id, status string) (bool, error)
}

// Publisher broadcasts cross-context events.
type Publisher interface {
	Emit(ctx context.Context, name string, payload any) error
}

// Service handles the doctor verification lifecycle: registration puts
// an account into the pending queue, an admin decision moves it to
// approved or rejected. Every transition is broadcast on the event bus
// so sibling contexts (admin dashboard, the doctor's own session) react
// without polling.
type Service struct {
	users  UserRepository
	events Publisher
	logger *zap.Logger
}

// NewService creates a verification service.
func NewService(users UserRepository, events Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		users:  users,
		events: events,
		logger: log,
	}
}

// RegisterInput holds the profile data for a new doctor account.
type RegisterInput struct {
	Email     string `json:"email" binding:"required,email"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
}

// RegisterDoctor creates a doctor account in the pending state and
// announces it to the admin context.
func (s *Service) RegisterDoctor(ctx context.Context, input *RegisterInput) (*domain.User, error) {
	if strings.TrimSpace(input.Email) == "" {
		return nil, apperrors.MissingFieldError("email")
	}
	if strings.TrimSpace(input.FirstName) == "" || strings.TrimSpace(input.LastName) == "" {
		return nil, apperrors.MissingFieldError("name")
	}

	now := time.Now()
	user := &domain.User{
		ID:                 uuid.NewString(),
		Email:              strings.TrimSpace(input.Email),
		FirstName:          strings.TrimSpace(input.FirstName),
		LastName:           strings.TrimSpace(input.LastName),
		Role:               domain.RoleDoctor,
		VerificationStatus: domain.VerificationPending,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.users.Insert(ctx, user); err != nil {
		return nil, apperrors.StorageUnavailableError(err)
	}

	s.emit(ctx, domain.EventNewDoctorRegistration, domain.NewDoctorRegistration{
		DoctorID:         user.ID,
		Role:             user.Role,
		RegistrationTime: now.Format(time.RFC3339),
	})

	return user, nil
}

// ApproveDoctor marks a pending doctor as verified and broadcasts the
// decision.
func (s *Service) ApproveDoctor(ctx context.Context, doctorID string) error {
	if err := s.decide(ctx, doctorID, domain.VerificationApproved); err != nil {
		return err
	}

	s.emit(ctx, domain.EventVerificationStatusUpdate, domain.VerificationStatusUpdate{
		DoctorID: doctorID,
		Status:   domain.VerificationApproved,
		Message:  "Your account has been verified. You now have full access to doctor features.",
	})
	return nil
}

// RejectDoctor marks a pending doctor as rejected with a reason and
// broadcasts the decision.
func (s *Service) RejectDoctor(ctx context.Context, doctorID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return apperrors.MissingFieldError("reason")
	}

	if err := s.decide(ctx, doctorID, domain.VerificationRejected); err != nil {
		return err
	}

	s.emit(ctx, domain.EventVerificationStatusUpdate, domain.VerificationStatusUpdate{
		DoctorID:        doctorID,
		Status:          domain.VerificationRejected,
		Message:         "Your verification request was rejected.",
		RejectionReason: reason,
	})
	return nil
}

func (s *Service) decide(ctx context.Context, doctorID, status string) error {
	user, err := s.users.FindByID(ctx, doctorID)
	if err != nil {
		return apperrors.StorageUnavailableError(err)
	}
	if user == nil {
		return apperrors.UserNotFoundError()
	}
	if user.Role != domain.RoleDoctor {
		return apperrors.ValidationError("user is not a doctor")
	}

	updated, err := s.users.UpdateVerificationStatus(ctx, doctorID, status)
	if err != nil {
		return apperrors.StorageUnavailableError(err)
	}
	if !updated {
		return apperrors.UserNotFoundError()
	}
	return nil
}

// emit broadcasts best-effort: the state change already persisted, so a
// bus failure is logged and the request still succeeds. Sibling
// contexts recover by refetching.
func (s *Service) emit(ctx context.Context, name string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, name, payload); err != nil {
		s.logger.Warn("event broadcast failed", zap.String("event", name), zap.Error(err))
	}
}

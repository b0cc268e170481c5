package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"subcontracting-service/internal/model"
	"subcontracting-service/internal/repository"
	"subcontracting-service/internal/utils"
)

// DriverService manages subcontractor accounts and owns the late-cancellation
// penalty rules. Accounts start inactive and are vetted by an administrator.
type DriverService struct {
	drivers DriverStore
	courses CourseStore
	events  CourseEventStore

	publisher EventPublisher
	notifier  Notifier
	metrics   MetricsRecorder
	log       zerolog.Logger

	lateThreshold time.Duration
	now           func() time.Time
}

func NewDriverService(
	drivers DriverStore,
	courses CourseStore,
	events CourseEventStore,
	publisher EventPublisher,
	notifier Notifier,
	metrics MetricsRecorder,
	log zerolog.Logger,
	lateThreshold time.Duration,
) *DriverService {
	return &DriverService{
		drivers:       drivers,
		courses:       courses,
		events:        events,
		publisher:     publisher,
		notifier:      notifier,
		metrics:       metrics,
		log:           log,
		lateThreshold: lateThreshold,
		now:           time.Now,
	}
}

type RegisterDriverInput struct {
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	CompanyName   string  `json:"company_name"`
	Name          string  `json:"name"`
	Phone         string  `json:"phone"`
	Address       string  `json:"address"`
	Siret         string  `json:"siret"`
	VatApplicable bool    `json:"vat_applicable"`
	VatNumber     *string `json:"vat_number"`
}

// Register creates an inactive driver account awaiting admin review.
func (s *DriverService) Register(ctx context.Context, input RegisterDriverInput) (*model.Driver, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))

	switch {
	case input.Email == "" || !strings.Contains(input.Email, "@"):
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	case len(input.Password) < 8:
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	case input.CompanyName == "":
		return nil, fmt.Errorf("%w: company_name is required", ErrInvalidInput)
	case input.Name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	case input.Phone == "":
		return nil, fmt.Errorf("%w: phone is required", ErrInvalidInput)
	case input.Address == "":
		return nil, fmt.Errorf("%w: address is required", ErrInvalidInput)
	case input.Siret == "":
		return nil, fmt.Errorf("%w: siret is required", ErrInvalidInput)
	}

	phone, err := utils.NormalizePhone(input.Phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if _, err := s.drivers.GetByEmail(ctx, input.Email); err == nil {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	driver := &model.Driver{
		Email:         input.Email,
		PasswordHash:  string(hash),
		CompanyName:   strings.TrimSpace(input.CompanyName),
		Name:          strings.TrimSpace(input.Name),
		Phone:         phone,
		Address:       strings.TrimSpace(input.Address),
		Siret:         strings.TrimSpace(input.Siret),
		VatApplicable: input.VatApplicable,
		VatNumber:     input.VatNumber,
		IsActive:      false,
	}
	if err := s.drivers.Create(ctx, driver); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("driver_id", driver.ID.String()).
		Str("email", driver.Email).
		Msg("driver registered, awaiting activation")

	return driver, nil
}

func (s *DriverService) Profile(ctx context.Context, principal model.Principal) (*model.Driver, error) {
	if !principal.IsDriver() {
		return nil, ErrPermissionDenied
	}
	driver, err := s.drivers.GetByID(ctx, *principal.DriverID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return driver, nil
}

type UpdateProfileInput struct {
	CompanyName   *string `json:"company_name"`
	Name          *string `json:"name"`
	Phone         *string `json:"phone"`
	Address       *string `json:"address"`
	VatApplicable *bool   `json:"vat_applicable"`
	VatNumber     *string `json:"vat_number"`
}

func (s *DriverService) UpdateProfile(ctx context.Context, principal model.Principal, input UpdateProfileInput) (*model.Driver, error) {
	if !principal.IsDriver() {
		return nil, ErrPermissionDenied
	}

	fields := map[string]interface{}{}
	if input.CompanyName != nil {
		if *input.CompanyName == "" {
			return nil, fmt.Errorf("%w: company_name cannot be empty", ErrInvalidInput)
		}
		fields["company_name"] = strings.TrimSpace(*input.CompanyName)
	}
	if input.Name != nil {
		if *input.Name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		fields["name"] = strings.TrimSpace(*input.Name)
	}
	if input.Phone != nil {
		phone, err := utils.NormalizePhone(*input.Phone)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		fields["phone"] = phone
	}
	if input.Address != nil {
		fields["address"] = strings.TrimSpace(*input.Address)
	}
	if input.VatApplicable != nil {
		fields["vat_applicable"] = *input.VatApplicable
	}
	if input.VatNumber != nil {
		fields["vat_number"] = *input.VatNumber
	}

	if err := s.drivers.UpdateProfile(ctx, *principal.DriverID, fields); err != nil {
		return nil, err
	}
	return s.Profile(ctx, principal)
}

// MyCourses lists the courses currently assigned to the calling driver.
func (s *DriverService) MyCourses(ctx context.Context, principal model.Principal) ([]model.Course, error) {
	if !principal.IsDriver() {
		return nil, ErrPermissionDenied
	}
	return s.courses.List(ctx, repository.CourseListFilter{AssignedDriverID: principal.DriverID})
}

// MyCourse fetches one assigned course with full client contact details.
func (s *DriverService) MyCourse(ctx context.Context, principal model.Principal, courseID uuid.UUID) (*model.Course, error) {
	if !principal.IsDriver() {
		return nil, ErrPermissionDenied
	}
	course, err := s.courses.GetByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if course.AssignedDriverID == nil || *course.AssignedDriverID != *principal.DriverID {
		return nil, ErrNotFound
	}
	return course, nil
}

// CancelAssignedOutcome reports a cancellation's timing and its penalty
// consequences separately: Late is about the clock, Penalized about the actor.
type CancelAssignedOutcome struct {
	Late            bool `json:"late"`
	Penalized       bool `json:"penalized"`
	LateCancelCount int  `json:"late_cancel_count,omitempty"`
	AutoDeactivated bool `json:"auto_deactivated,omitempty"`
}

// CancelAssigned cancels an assigned course. A driver cancelling less than
// the late threshold before pickup takes a penalty strike; the third strike
// deactivates the account. Client- and admin-initiated cancellations never
// penalize, whatever the timing.
func (s *DriverService) CancelAssigned(ctx context.Context, principal model.Principal, courseID uuid.UUID, actor model.CancelActor, reason string) (*CancelAssignedOutcome, error) {
	course, err := s.courses.GetByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if course.Status != model.CourseStatusAssigned || course.AssignedDriverID == nil {
		return nil, fmt.Errorf("%w: course is not assigned", ErrConflict)
	}
	assignedDriver := *course.AssignedDriverID

	if principal.IsDriver() {
		if *principal.DriverID != assignedDriver {
			return nil, ErrPermissionDenied
		}
		actor = model.CancelActorDriver
	} else if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	if actor != model.CancelActorDriver && actor != model.CancelActorClient && actor != model.CancelActorAdmin {
		return nil, fmt.Errorf("%w: unknown cancel actor", ErrInvalidInput)
	}

	now := s.now()
	late := course.ScheduledAt.Sub(now) < s.lateThreshold
	penalize := late && actor == model.CancelActorDriver

	params := repository.CancelAssignedParams{
		CourseID: courseID,
		Actor:    actor,
		Reason:   reason,
		Late:     late,
		Now:      now,
	}
	if penalize {
		params.PenalizeDriver = &assignedDriver
	}

	result, err := s.courses.CancelAssigned(ctx, params)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: course is not assigned", ErrConflict)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordCancellation(string(actor), late)
		if result.AutoDeactivated {
			s.metrics.RecordDriverDeactivated()
		}
	}
	appendEvent(ctx, s.events, s.log, courseID,
		model.CourseStatusAssigned, model.CourseStatusCancelled,
		string(actor)+":"+principal.Subject, reason)
	if s.publisher != nil {
		s.publisher.Publish(ctx, "course.cancelled", courseID, map[string]interface{}{
			"actor": string(actor),
			"late":  late,
		})
	}
	if s.notifier != nil {
		s.notifier.CourseCancelled(course, actor)
	}

	outcome := &CancelAssignedOutcome{Late: late, Penalized: penalize}
	if penalize {
		outcome.LateCancelCount = result.LateCancelCount
		outcome.AutoDeactivated = result.AutoDeactivated

		s.log.Warn().
			Str("course_id", courseID.String()).
			Str("driver_id", assignedDriver.String()).
			Int("late_cancel_count", result.LateCancelCount).
			Bool("auto_deactivated", result.AutoDeactivated).
			Msg("late driver cancellation")

		if result.AutoDeactivated && s.notifier != nil {
			if driver, derr := s.drivers.GetByID(ctx, assignedDriver); derr == nil {
				s.notifier.DriverDeactivated(driver)
			}
		}
	}

	return outcome, nil
}

func (s *DriverService) List(ctx context.Context, principal model.Principal) ([]model.Driver, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	return s.drivers.List(ctx)
}

func (s *DriverService) Get(ctx context.Context, principal model.Principal, driverID uuid.UUID) (*model.Driver, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	driver, err := s.drivers.GetByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return driver, nil
}

// Activate turns an account on and wipes the penalty counter. Reactivating a
// driver deactivated for strikes without the wipe would re-trip the limit on
// their next late cancellation.
func (s *DriverService) Activate(ctx context.Context, principal model.Principal, driverID uuid.UUID) error {
	if !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	ok, err := s.drivers.SetActive(ctx, driverID, true, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return s.drivers.UpdateProfile(ctx, driverID, map[string]interface{}{"late_cancel_count": 0})
}

func (s *DriverService) Deactivate(ctx context.Context, principal model.Principal, driverID uuid.UUID) error {
	if !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	ok, err := s.drivers.SetActive(ctx, driverID, false, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Delete removes a driver account. Refused while any course history points at
// the driver; deactivate instead.
func (s *DriverService) Delete(ctx context.Context, principal model.Principal, driverID uuid.UUID) error {
	if !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	count, err := s.courses.CountAssignedToDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: driver has assigned courses", ErrConflict)
	}
	ok, err := s.drivers.Delete(ctx, driverID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

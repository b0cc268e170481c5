package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/jaevor/go-nanoid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"subcontracting-service/internal/model"
	"subcontracting-service/internal/repository"
)

// claimTokenLength gives ~256 bits of entropy with the nanoid alphabet.
const claimTokenLength = 43

func defaultTokenGenerator() func() string {
	gen, err := gonanoid.Standard(claimTokenLength)
	if err != nil {
		panic(err)
	}
	return gen
}

// CourseService owns the course lifecycle from the operator's side: creation,
// claim-token issuance, admin overrides and commission reporting.
type CourseService struct {
	courses  CourseStore
	tokens   ClaimTokenStore
	payments PaymentStore
	drivers  DriverStore
	events   CourseEventStore

	driverService *DriverService
	publisher     EventPublisher
	metrics       MetricsRecorder
	log           zerolog.Logger

	commissionRate float64
	tokenTTL       time.Duration
	claimBaseURL   string
	newToken       func() string
	now            func() time.Time
}

func NewCourseService(
	courses CourseStore,
	tokens ClaimTokenStore,
	payments PaymentStore,
	drivers DriverStore,
	events CourseEventStore,
	driverService *DriverService,
	publisher EventPublisher,
	metrics MetricsRecorder,
	log zerolog.Logger,
	commissionRate float64,
	tokenTTL time.Duration,
	claimBaseURL string,
) *CourseService {
	return &CourseService{
		courses:        courses,
		tokens:         tokens,
		payments:       payments,
		drivers:        drivers,
		events:         events,
		driverService:  driverService,
		publisher:      publisher,
		metrics:        metrics,
		log:            log,
		commissionRate: commissionRate,
		tokenTTL:       tokenTTL,
		claimBaseURL:   claimBaseURL,
		newToken:       defaultTokenGenerator(),
		now:            time.Now,
	}
}

type CreateCourseInput struct {
	ClientName     string   `json:"client_name"`
	ClientEmail    string   `json:"client_email"`
	ClientPhone    string   `json:"client_phone"`
	PickupAddress  string   `json:"pickup_address"`
	DropoffAddress string   `json:"dropoff_address"`
	Date           string   `json:"date"` // 2006-01-02
	Time           string   `json:"time"` // 15:04
	DistanceKm     *float64 `json:"distance_km"`
	PriceTotal     float64  `json:"price_total"`
	Notes          string   `json:"notes"`
	IsTest         bool     `json:"is_test"`
}

type CourseWithClaim struct {
	Course     *model.Course `json:"course"`
	ClaimToken string        `json:"claim_token"`
	ClaimURL   string        `json:"claim_url"`
	ExpiresAt  time.Time     `json:"claim_expires_at"`
}

// Create opens a course and issues its first claim token.
func (s *CourseService) Create(ctx context.Context, principal model.Principal, input CreateCourseInput) (*CourseWithClaim, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}

	switch {
	case strings.TrimSpace(input.ClientName) == "":
		return nil, fmt.Errorf("%w: client_name is required", ErrInvalidInput)
	case strings.TrimSpace(input.PickupAddress) == "":
		return nil, fmt.Errorf("%w: pickup_address is required", ErrInvalidInput)
	case strings.TrimSpace(input.DropoffAddress) == "":
		return nil, fmt.Errorf("%w: dropoff_address is required", ErrInvalidInput)
	case input.PriceTotal <= 0:
		return nil, fmt.Errorf("%w: price_total must be positive", ErrInvalidInput)
	}

	scheduledAt, err := time.Parse("2006-01-02 15:04", input.Date+" "+input.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date or time", ErrInvalidInput)
	}

	course := &model.Course{
		ClientName:       strings.TrimSpace(input.ClientName),
		ClientEmail:      strings.TrimSpace(input.ClientEmail),
		ClientPhone:      strings.TrimSpace(input.ClientPhone),
		PickupAddress:    strings.TrimSpace(input.PickupAddress),
		DropoffAddress:   strings.TrimSpace(input.DropoffAddress),
		ScheduledAt:      scheduledAt,
		DistanceKm:       input.DistanceKm,
		PriceTotal:       input.PriceTotal,
		Notes:            input.Notes,
		Status:           model.CourseStatusOpen,
		CommissionRate:   s.commissionRate,
		CommissionAmount: commissionFor(input.PriceTotal, s.commissionRate),
		IsTest:           input.IsTest,
	}
	if err := s.courses.Create(ctx, course); err != nil {
		return nil, err
	}

	claim, err := s.issueToken(ctx, course.ID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("course_id", course.ID.String()).
		Float64("price_total", course.PriceTotal).
		Float64("commission_amount", course.CommissionAmount).
		Msg("course created")

	return &CourseWithClaim{
		Course:     course,
		ClaimToken: claim.Token,
		ClaimURL:   s.claimURL(claim.Token),
		ExpiresAt:  claim.ExpiresAt,
	}, nil
}

type CourseDetails struct {
	Course         *model.Course             `json:"course"`
	AssignedDriver *model.Driver             `json:"assigned_driver,omitempty"`
	ReservedBy     *model.Driver             `json:"reserved_by,omitempty"`
	ClaimTokens    []model.ClaimToken        `json:"claim_tokens"`
	Payments       []model.CommissionPayment `json:"payments"`
	Events         []model.CourseEvent       `json:"events"`
}

// Get returns the full admin view of a course, reverting a lapsed lock first.
func (s *CourseService) Get(ctx context.Context, principal model.Principal, courseID uuid.UUID) (*CourseDetails, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}

	course, err := s.resolveExpiry(ctx, courseID)
	if err != nil {
		return nil, err
	}

	details := &CourseDetails{Course: course}

	if course.AssignedDriverID != nil {
		if driver, derr := s.drivers.GetByID(ctx, *course.AssignedDriverID); derr == nil {
			details.AssignedDriver = driver
		}
	}
	if course.ReservedByDriverID != nil {
		if driver, derr := s.drivers.GetByID(ctx, *course.ReservedByDriverID); derr == nil {
			details.ReservedBy = driver
		}
	}

	if details.ClaimTokens, err = s.tokens.ListByCourse(ctx, courseID); err != nil {
		return nil, err
	}
	if details.Payments, err = s.payments.ListByCourse(ctx, courseID); err != nil {
		return nil, err
	}
	if details.Events, err = s.events.ListByCourse(ctx, courseID); err != nil {
		return nil, err
	}

	return details, nil
}

// List returns courses for the admin dashboard. Lapsed locks are reverted
// row by row so the listing never shows a stale RESERVED.
func (s *CourseService) List(ctx context.Context, principal model.Principal, filter repository.CourseListFilter) ([]model.Course, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}

	courses, err := s.courses.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i := range courses {
		if !courses[i].LockExpired(now) {
			continue
		}
		released, rerr := s.courses.ReleaseExpired(ctx, courses[i].ID, now)
		if rerr != nil {
			return nil, rerr
		}
		if released {
			if s.metrics != nil {
				s.metrics.RecordReleased("expired")
			}
			appendEvent(ctx, s.events, s.log, courses[i].ID,
				model.CourseStatusReserved, model.CourseStatusOpen,
				"system", "reservation expired")
			courses[i].Status = model.CourseStatusOpen
			courses[i].ReservedByDriverID = nil
			courses[i].ReservedUntil = nil
		}
	}

	return courses, nil
}

// RegenerateToken invalidates every outstanding claim link for the course and
// issues a fresh one.
func (s *CourseService) RegenerateToken(ctx context.Context, principal model.Principal, courseID uuid.UUID) (*CourseWithClaim, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}

	course, err := s.getCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: course is %s", ErrConflict, course.Status)
	}

	if err := s.tokens.DeactivateByCourse(ctx, courseID); err != nil {
		return nil, err
	}
	claim, err := s.issueToken(ctx, courseID)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("course_id", courseID.String()).Msg("claim token regenerated")

	return &CourseWithClaim{
		Course:     course,
		ClaimToken: claim.Token,
		ClaimURL:   s.claimURL(claim.Token),
		ExpiresAt:  claim.ExpiresAt,
	}, nil
}

// ResetToOpen clears any lock or assignment. Refused once the commission is
// paid: at that point the money trail has to be resolved first.
func (s *CourseService) ResetToOpen(ctx context.Context, principal model.Principal, courseID uuid.UUID) (*model.Course, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}

	course, err := s.getCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course.CommissionPaid {
		return nil, fmt.Errorf("%w: commission already paid, handle the payment first", ErrConflict)
	}

	if err := s.courses.ResetToOpen(ctx, courseID); err != nil {
		return nil, err
	}

	appendEvent(ctx, s.events, s.log, courseID,
		course.Status, model.CourseStatusOpen,
		"admin:"+principal.Subject, "reset to open")

	return s.getCourse(ctx, courseID)
}

// Cancel handles operator-side cancellation. For assigned courses it defers
// to the penalty rules; before assignment it is a plain transition.
func (s *CourseService) Cancel(ctx context.Context, principal model.Principal, courseID uuid.UUID, actor model.CancelActor, reason string) (*CancelAssignedOutcome, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	if actor == "" {
		actor = model.CancelActorAdmin
	}

	course, err := s.getCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	switch course.Status {
	case model.CourseStatusAssigned:
		return s.driverService.CancelAssigned(ctx, principal, courseID, actor, reason)
	case model.CourseStatusOpen, model.CourseStatusReserved:
		ok, err := s.courses.CancelFrom(ctx, courseID, course.Status, actor, reason)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: course changed state, retry", ErrConflict)
		}
		if s.metrics != nil {
			s.metrics.RecordCancellation(string(actor), false)
		}
		appendEvent(ctx, s.events, s.log, courseID,
			course.Status, model.CourseStatusCancelled,
			string(actor)+":"+principal.Subject, reason)
		if s.publisher != nil {
			s.publisher.Publish(ctx, "course.cancelled", courseID, map[string]interface{}{
				"actor": string(actor),
				"late":  false,
			})
		}
		return &CancelAssignedOutcome{}, nil
	default:
		return nil, fmt.Errorf("%w: course is %s", ErrConflict, course.Status)
	}
}

// MarkDone closes out a completed course.
func (s *CourseService) MarkDone(ctx context.Context, principal model.Principal, courseID uuid.UUID) (*model.Course, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}

	ok, err := s.courses.Transition(ctx, courseID, model.CourseStatusAssigned, model.CourseStatusDone)
	if err != nil {
		return nil, err
	}
	if !ok {
		course, gerr := s.getCourse(ctx, courseID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("%w: course is %s, only assigned courses can be marked done", ErrConflict, course.Status)
	}

	appendEvent(ctx, s.events, s.log, courseID,
		model.CourseStatusAssigned, model.CourseStatusDone,
		"admin:"+principal.Subject, "marked done")

	return s.getCourse(ctx, courseID)
}

// ToggleTest flips the test flag used to keep rehearsal courses out of
// commission reporting.
func (s *CourseService) ToggleTest(ctx context.Context, principal model.Principal, courseID uuid.UUID) (*model.Course, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}

	course, err := s.getCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := s.courses.SetTestFlag(ctx, courseID, !course.IsTest); err != nil {
		return nil, err
	}
	return s.getCourse(ctx, courseID)
}

type CommissionSummary struct {
	TotalCollected float64                   `json:"total_collected"`
	PaymentCount   int                       `json:"payment_count"`
	RefundNeeded   []model.CommissionPayment `json:"refund_needed"`
	Payments       []model.CommissionPayment `json:"payments"`
}

// Commissions reports settled commission revenue. Payments flagged is_test
// are listed but excluded from the total.
func (s *CourseService) Commissions(ctx context.Context, principal model.Principal) (*CommissionSummary, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}

	paid, err := s.payments.ListByStatus(ctx, model.PaymentStatusPaid)
	if err != nil {
		return nil, err
	}
	refunds, err := s.payments.ListByStatus(ctx, model.PaymentStatusRefundNeeded)
	if err != nil {
		return nil, err
	}

	summary := &CommissionSummary{
		Payments:     paid,
		RefundNeeded: refunds,
	}
	for _, p := range paid {
		if p.IsTest {
			continue
		}
		summary.TotalCollected += p.Amount
		summary.PaymentCount++
	}

	return summary, nil
}

func (s *CourseService) getCourse(ctx context.Context, courseID uuid.UUID) (*model.Course, error) {
	course, err := s.courses.GetByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return course, nil
}

func (s *CourseService) resolveExpiry(ctx context.Context, courseID uuid.UUID) (*model.Course, error) {
	course, err := s.getCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !course.LockExpired(now) {
		return course, nil
	}

	released, err := s.courses.ReleaseExpired(ctx, courseID, now)
	if err != nil {
		return nil, err
	}
	if released {
		if s.metrics != nil {
			s.metrics.RecordReleased("expired")
		}
		appendEvent(ctx, s.events, s.log, courseID,
			model.CourseStatusReserved, model.CourseStatusOpen,
			"system", "reservation expired")
	}
	return s.getCourse(ctx, courseID)
}

func (s *CourseService) issueToken(ctx context.Context, courseID uuid.UUID) (*model.ClaimToken, error) {
	claim := &model.ClaimToken{
		CourseID:  courseID,
		Token:     s.newToken(),
		Active:    true,
		ExpiresAt: s.now().Add(s.tokenTTL),
	}
	if err := s.tokens.Create(ctx, claim); err != nil {
		return nil, err
	}
	return claim, nil
}

func (s *CourseService) claimURL(token string) string {
	return strings.TrimRight(s.claimBaseURL, "/") + "/subcontracting/claim/" + token
}

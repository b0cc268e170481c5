package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"subcontracting-service/internal/client"
	"subcontracting-service/internal/model"
)

// CheckoutProvider is the hosted payment page. Satisfied by
// client.CheckoutClient; tests use a scripted fake.
type CheckoutProvider interface {
	CreateSession(ctx context.Context, params client.CreateSessionParams) (*client.CheckoutSession, error)
	GetSession(ctx context.Context, sessionID string) (*client.CheckoutSession, error)
}

// PaymentService runs the commission checkout flow: a driver with an active
// reservation pays the commission, the provider confirmation finalizes the
// assignment. Confirmation is idempotent on the provider session id.
type PaymentService struct {
	payments PaymentStore
	courses  CourseStore
	drivers  DriverStore
	tokens   ClaimTokenStore
	events   CourseEventStore

	checkout  CheckoutProvider
	publisher EventPublisher
	notifier  Notifier
	metrics   MetricsRecorder
	log       zerolog.Logger

	successURL string
	cancelURL  string
	now        func() time.Time
}

func NewPaymentService(
	payments PaymentStore,
	courses CourseStore,
	drivers DriverStore,
	tokens ClaimTokenStore,
	events CourseEventStore,
	checkout CheckoutProvider,
	publisher EventPublisher,
	notifier Notifier,
	metrics MetricsRecorder,
	log zerolog.Logger,
	successURL, cancelURL string,
) *PaymentService {
	return &PaymentService{
		payments:   payments,
		courses:    courses,
		drivers:    drivers,
		tokens:     tokens,
		events:     events,
		checkout:   checkout,
		publisher:  publisher,
		notifier:   notifier,
		metrics:    metrics,
		log:        log,
		successURL: successURL,
		cancelURL:  cancelURL,
		now:        time.Now,
	}
}

type InitiatePaymentResult struct {
	SessionID   string  `json:"session_id"`
	CheckoutURL string  `json:"checkout_url"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}

// Initiate starts checkout for the commission on the course behind a claim
// token the calling driver currently holds. The reservation must still be
// live: paying on a lapsed lock is refused rather than silently racing other
// drivers.
func (s *PaymentService) Initiate(ctx context.Context, principal model.Principal, token string) (*InitiatePaymentResult, error) {
	if !principal.IsDriver() {
		return nil, ErrPermissionDenied
	}
	driverID := *principal.DriverID

	driver, err := s.drivers.GetByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPermissionDenied
		}
		return nil, err
	}
	if !driver.IsActive {
		return nil, ErrDriverInactive
	}

	now := s.now()
	claim, err := s.tokens.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !claim.Valid(now) {
		return nil, ErrExpired
	}

	course, err := s.courses.GetByID(ctx, claim.CourseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if course.Status != model.CourseStatusReserved ||
		course.ReservedByDriverID == nil || *course.ReservedByDriverID != driverID {
		return nil, ErrNotOpen
	}
	if course.LockExpired(now) {
		return nil, ErrExpired
	}

	amount := commissionFor(course.PriceTotal, course.CommissionRate)
	session, err := s.checkout.CreateSession(ctx, client.CreateSessionParams{
		AmountCents:   int64(math.Round(amount * 100)),
		Currency:      "eur",
		Description:   fmt.Sprintf("Commission course %s -> %s", course.PickupAddress, course.DropoffAddress),
		CustomerEmail: driver.Email,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		Metadata: map[string]string{
			"course_id": course.ID.String(),
			"driver_id": driverID.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	payment := &model.CommissionPayment{
		CourseID:          course.ID,
		DriverID:          driverID,
		Provider:          "checkout",
		ProviderSessionID: session.ID,
		Amount:            amount,
		Currency:          "eur",
		Status:            model.PaymentStatusPending,
		IsTest:            course.IsTest,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("course_id", course.ID.String()).
		Str("driver_id", driverID.String()).
		Str("session_id", session.ID).
		Float64("amount", amount).
		Msg("checkout session created")

	return &InitiatePaymentResult{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		Amount:      amount,
		Currency:    "eur",
	}, nil
}

type ConfirmResult struct {
	CourseID string  `json:"course_id"`
	DriverID string  `json:"driver_id"`
	Amount   float64 `json:"amount"`
	Assigned bool    `json:"assigned"`
}

// Confirm settles a payment and finalizes the assignment. Called from the
// provider webhook and from success-page polling; duplicates collapse on the
// pending->paid compare-and-swap. A payment that lands after the lock lapsed
// still wins the course if nobody reclaimed it; otherwise it is parked as
// refund_needed for manual handling.
func (s *PaymentService) Confirm(ctx context.Context, sessionID, providerPaymentID string) (*ConfirmResult, error) {
	payment, err := s.payments.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if payment.Status != model.PaymentStatusPending {
		return nil, ErrAlreadyProcessed
	}

	now := s.now()
	ok, err := s.payments.MarkPaid(ctx, sessionID, providerPaymentID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A concurrent confirmation won the swap.
		return nil, ErrAlreadyProcessed
	}
	if s.metrics != nil {
		s.metrics.RecordPayment(string(model.PaymentStatusPaid))
	}

	course, err := s.courses.GetByID(ctx, payment.CourseID)
	if err != nil {
		return nil, err
	}
	commission := commissionFor(course.PriceTotal, course.CommissionRate)

	assigned, fromStatus, err := s.tryAssign(ctx, course, payment.DriverID, commission, now)
	if err != nil {
		return nil, err
	}

	if !assigned {
		// The course went to someone else while this payment settled.
		if _, err := s.payments.UpdateStatus(ctx, sessionID, model.PaymentStatusPaid, model.PaymentStatusRefundNeeded); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.RecordPayment(string(model.PaymentStatusRefundNeeded))
		}
		s.log.Error().
			Str("course_id", course.ID.String()).
			Str("driver_id", payment.DriverID.String()).
			Str("session_id", sessionID).
			Msg("payment settled but course no longer attributable, refund needed")
		return nil, ErrExpired
	}

	if s.metrics != nil {
		s.metrics.RecordAssignment(commission)
	}
	appendEvent(ctx, s.events, s.log, course.ID,
		fromStatus, model.CourseStatusAssigned,
		"driver:"+payment.DriverID.String(), "commission paid, course assigned")
	if s.publisher != nil {
		s.publisher.Publish(ctx, "course.assigned", course.ID, map[string]interface{}{
			"driver_id": payment.DriverID.String(),
			"amount":    commission,
		})
	}
	if s.notifier != nil {
		if driver, derr := s.drivers.GetByID(ctx, payment.DriverID); derr == nil {
			s.notifier.CourseAssigned(course, driver)
		}
	}

	s.log.Info().
		Str("course_id", course.ID.String()).
		Str("driver_id", payment.DriverID.String()).
		Float64("amount", commission).
		Msg("commission paid, course assigned")

	return &ConfirmResult{
		CourseID: course.ID.String(),
		DriverID: payment.DriverID.String(),
		Amount:   commission,
		Assigned: true,
	}, nil
}

// tryAssign attempts the RESERVED path first, then the post-expiry grace path
// through OPEN. Reports the status the course was assigned from.
func (s *PaymentService) tryAssign(ctx context.Context, course *model.Course, driverID uuid.UUID, commission float64, now time.Time) (bool, model.CourseStatus, error) {
	ok, err := s.courses.Assign(ctx, course.ID, driverID, model.CourseStatusReserved, commission, now)
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, model.CourseStatusReserved, nil
	}

	// Reopen a lapsed lock, then take the course from OPEN if it is still free.
	if _, err := s.courses.ReleaseExpired(ctx, course.ID, now); err != nil {
		return false, "", err
	}
	ok, err = s.courses.Assign(ctx, course.ID, driverID, model.CourseStatusOpen, commission, now)
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, model.CourseStatusOpen, nil
	}

	// Duplicate settlement after the same driver already got the course.
	current, err := s.courses.GetByID(ctx, course.ID)
	if err != nil {
		return false, "", err
	}
	if current.Status == model.CourseStatusAssigned &&
		current.AssignedDriverID != nil && *current.AssignedDriverID == driverID {
		return true, model.CourseStatusReserved, nil
	}

	return false, "", nil
}

// Fail settles a payment whose provider session ended without payment. The
// pending->failed swap collapses duplicate failure notifications the same way
// Confirm collapses duplicate settlements; the reservation lock is untouched
// and simply lapses.
func (s *PaymentService) Fail(ctx context.Context, sessionID string) error {
	payment, err := s.payments.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if payment.Status != model.PaymentStatusPending {
		return ErrAlreadyProcessed
	}

	ok, err := s.payments.UpdateStatus(ctx, sessionID, model.PaymentStatusPending, model.PaymentStatusFailed)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyProcessed
	}
	if s.metrics != nil {
		s.metrics.RecordPayment(string(model.PaymentStatusFailed))
	}

	s.log.Info().
		Str("course_id", payment.CourseID.String()).
		Str("driver_id", payment.DriverID.String()).
		Str("session_id", sessionID).
		Msg("checkout session failed, payment marked failed")

	return nil
}

type PaymentStatusResult struct {
	Status         model.PaymentStatus `json:"status"`
	ProviderStatus string              `json:"provider_status"`
	CourseID       string              `json:"course_id"`
	Amount         float64             `json:"amount"`
	Currency       string              `json:"currency"`
}

// Status reports where a payment stands, polling the provider for sessions
// still pending so the success page converges without waiting for the webhook.
func (s *PaymentService) Status(ctx context.Context, principal model.Principal, sessionID string) (*PaymentStatusResult, error) {
	payment, err := s.payments.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !principal.IsAdmin() {
		if !principal.IsDriver() || *principal.DriverID != payment.DriverID {
			return nil, ErrPermissionDenied
		}
	}

	providerStatus := ""
	if payment.Status == model.PaymentStatusPending {
		session, err := s.checkout.GetSession(ctx, sessionID)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("provider session lookup failed")
		} else {
			providerStatus = session.PaymentStatus
			switch {
			case session.Paid():
				if _, err := s.Confirm(ctx, sessionID, session.PaymentIntentID); err != nil &&
					!errors.Is(err, ErrAlreadyProcessed) && !errors.Is(err, ErrExpired) {
					return nil, err
				}
			case session.Failed():
				if err := s.Fail(ctx, sessionID); err != nil && !errors.Is(err, ErrAlreadyProcessed) {
					return nil, err
				}
			}
			if session.Paid() || session.Failed() {
				payment, err = s.payments.GetBySessionID(ctx, sessionID)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	return &PaymentStatusResult{
		Status:         payment.Status,
		ProviderStatus: providerStatus,
		CourseID:       payment.CourseID.String(),
		Amount:         payment.Amount,
		Currency:       payment.Currency,
	}, nil
}

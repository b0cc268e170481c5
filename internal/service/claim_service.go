package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"subcontracting-service/internal/model"
)

// ClaimService handles the public claim page and the reservation lock. The
// lock is advisory and lazily expired: no background job reverts lapsed
// reservations, the next touch does.
type ClaimService struct {
	courses CourseStore
	tokens  ClaimTokenStore
	drivers DriverStore
	events  CourseEventStore

	publisher EventPublisher
	metrics   MetricsRecorder
	log       zerolog.Logger

	reservationWindow time.Duration
	now               func() time.Time
}

func NewClaimService(
	courses CourseStore,
	tokens ClaimTokenStore,
	drivers DriverStore,
	events CourseEventStore,
	publisher EventPublisher,
	metrics MetricsRecorder,
	log zerolog.Logger,
	reservationWindow time.Duration,
) *ClaimService {
	return &ClaimService{
		courses:           courses,
		tokens:            tokens,
		drivers:           drivers,
		events:            events,
		publisher:         publisher,
		metrics:           metrics,
		log:               log,
		reservationWindow: reservationWindow,
		now:               time.Now,
	}
}

// ClaimCourseView is the subset of a course shown on the claim page. Client
// contact details are withheld until the commission is paid.
type ClaimCourseView struct {
	ID             string             `json:"id"`
	PickupAddress  string             `json:"pickup_address"`
	DropoffAddress string             `json:"dropoff_address"`
	ScheduledAt    time.Time          `json:"scheduled_at"`
	DistanceKm     *float64           `json:"distance_km"`
	PriceTotal     float64            `json:"price_total"`
	Notes          string             `json:"notes"`
	Status         model.CourseStatus `json:"status"`
}

type ClaimInfo struct {
	Course               ClaimCourseView `json:"course"`
	CommissionRate       float64         `json:"commission_rate"`
	CommissionAmount     float64         `json:"commission_amount"`
	ReservedBy           *string         `json:"reserved_by,omitempty"`
	ReservedByMe         bool            `json:"reserved_by_me"`
	TimeRemainingSeconds *int64          `json:"time_remaining_seconds,omitempty"`
	TokenExpiresAt       time.Time       `json:"token_expires_at"`
}

// GetClaimInfo resolves a claim token for the public claim page. principal may
// be zero-valued: the page is readable before login, reserving is not.
func (s *ClaimService) GetClaimInfo(ctx context.Context, principal model.Principal, token string) (*ClaimInfo, error) {
	now := s.now()

	claim, course, err := s.resolveToken(ctx, token, now)
	if err != nil {
		return nil, err
	}

	info := &ClaimInfo{
		Course: ClaimCourseView{
			ID:             course.ID.String(),
			PickupAddress:  course.PickupAddress,
			DropoffAddress: course.DropoffAddress,
			ScheduledAt:    course.ScheduledAt,
			DistanceKm:     course.DistanceKm,
			PriceTotal:     course.PriceTotal,
			Notes:          course.Notes,
			Status:         course.Status,
		},
		CommissionRate:   course.CommissionRate,
		CommissionAmount: commissionFor(course.PriceTotal, course.CommissionRate),
		TokenExpiresAt:   claim.ExpiresAt,
	}

	if course.Status == model.CourseStatusReserved && course.ReservedUntil != nil {
		remaining := int64(course.ReservedUntil.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		info.TimeRemainingSeconds = &remaining
		if course.ReservedByDriverID != nil {
			if holder, herr := s.drivers.GetByID(ctx, *course.ReservedByDriverID); herr == nil {
				info.ReservedBy = &holder.CompanyName
			}
			if principal.IsDriver() && *course.ReservedByDriverID == *principal.DriverID {
				info.ReservedByMe = true
			}
		}
	}

	return info, nil
}

type ReserveResult struct {
	CourseID         string    `json:"course_id"`
	ReservedUntil    time.Time `json:"reserved_until"`
	CommissionAmount float64   `json:"commission_amount"`
	AlreadyHeld      bool      `json:"already_held"`
}

// Reserve places the 3-minute claim lock for the calling driver. Reserving a
// course already held by the same driver is idempotent and does not extend
// the window.
func (s *ClaimService) Reserve(ctx context.Context, principal model.Principal, token string) (*ReserveResult, error) {
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
	_, course, err := s.resolveToken(ctx, token, now)
	if err != nil {
		return nil, err
	}

	switch course.Status {
	case model.CourseStatusReserved:
		if course.ReservedByDriverID != nil && *course.ReservedByDriverID == driverID {
			return &ReserveResult{
				CourseID:         course.ID.String(),
				ReservedUntil:    *course.ReservedUntil,
				CommissionAmount: commissionFor(course.PriceTotal, course.CommissionRate),
				AlreadyHeld:      true,
			}, nil
		}
		return nil, ErrAlreadyReserved
	case model.CourseStatusOpen:
		// fall through to the claim attempt
	default:
		return nil, ErrNotOpen
	}

	until := now.Add(s.reservationWindow)
	ok, err := s.courses.ReserveOpen(ctx, course.ID, driverID, until)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another driver won the row between our read and the update.
		return nil, ErrAlreadyReserved
	}

	if s.metrics != nil {
		s.metrics.RecordReservation()
	}
	appendEvent(ctx, s.events, s.log, course.ID,
		model.CourseStatusOpen, model.CourseStatusReserved,
		"driver:"+driverID.String(), "claim lock placed")
	if s.publisher != nil {
		s.publisher.Publish(ctx, "course.reserved", course.ID, map[string]interface{}{
			"driver_id":      driverID.String(),
			"reserved_until": until,
		})
	}

	s.log.Info().
		Str("course_id", course.ID.String()).
		Str("driver_id", driverID.String()).
		Time("reserved_until", until).
		Msg("course reserved")

	return &ReserveResult{
		CourseID:         course.ID.String(),
		ReservedUntil:    until,
		CommissionAmount: commissionFor(course.PriceTotal, course.CommissionRate),
	}, nil
}

// Release gives up a held reservation before it expires. Only the holder (or
// an admin) can release; a lock that already lapsed or was handed over is a
// conflict, not an error worth retrying.
func (s *ClaimService) Release(ctx context.Context, principal model.Principal, token string) error {
	now := s.now()
	_, course, err := s.resolveToken(ctx, token, now)
	if err != nil {
		return err
	}

	if course.Status != model.CourseStatusReserved || course.ReservedByDriverID == nil {
		return ErrConflict
	}

	holder := *course.ReservedByDriverID
	if !principal.IsAdmin() {
		if !principal.IsDriver() || *principal.DriverID != holder {
			return ErrPermissionDenied
		}
	}

	ok, err := s.courses.ReleaseLock(ctx, course.ID, holder)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}

	if s.metrics != nil {
		s.metrics.RecordReleased("manual")
	}
	appendEvent(ctx, s.events, s.log, course.ID,
		model.CourseStatusReserved, model.CourseStatusOpen,
		string(principal.Role)+":"+principal.Subject, "claim lock released")
	if s.publisher != nil {
		s.publisher.Publish(ctx, "course.released", course.ID, map[string]interface{}{
			"driver_id": holder.String(),
		})
	}

	return nil
}

// resolveToken validates a claim token and loads its course, lazily reverting
// a lapsed reservation first so callers always see post-expiry state.
func (s *ClaimService) resolveToken(ctx context.Context, token string, now time.Time) (*model.ClaimToken, *model.Course, error) {
	claim, err := s.tokens.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	if !claim.Valid(now) {
		return nil, nil, ErrExpired
	}

	course, err := s.courses.GetByID(ctx, claim.CourseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	if course.LockExpired(now) {
		released, err := s.courses.ReleaseExpired(ctx, course.ID, now)
		if err != nil {
			return nil, nil, err
		}
		if released {
			if s.metrics != nil {
				s.metrics.RecordReleased("expired")
			}
			appendEvent(ctx, s.events, s.log, course.ID,
				model.CourseStatusReserved, model.CourseStatusOpen,
				"system", "reservation expired")
		}
		course, err = s.courses.GetByID(ctx, course.ID)
		if err != nil {
			return nil, nil, err
		}
	}

	return claim, course, nil
}

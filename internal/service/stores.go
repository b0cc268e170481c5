package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"subcontracting-service/internal/model"
	"subcontracting-service/internal/repository"
)

// Store interfaces are satisfied by the gorm repositories; tests swap in
// in-memory fakes with the same compare-and-swap semantics.

type CourseStore interface {
	Create(ctx context.Context, course *model.Course) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Course, error)
	List(ctx context.Context, filter repository.CourseListFilter) ([]model.Course, error)
	ReserveOpen(ctx context.Context, id, driverID uuid.UUID, until time.Time) (bool, error)
	ReleaseLock(ctx context.Context, id, driverID uuid.UUID) (bool, error)
	ReleaseExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Assign(ctx context.Context, id, driverID uuid.UUID, from model.CourseStatus, commission float64, at time.Time) (bool, error)
	CancelFrom(ctx context.Context, id uuid.UUID, from model.CourseStatus, actor model.CancelActor, reason string) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from, to model.CourseStatus) (bool, error)
	ResetToOpen(ctx context.Context, id uuid.UUID) error
	SetTestFlag(ctx context.Context, id uuid.UUID, isTest bool) error
	CountAssignedToDriver(ctx context.Context, driverID uuid.UUID) (int64, error)
	CancelAssigned(ctx context.Context, params repository.CancelAssignedParams) (*repository.CancelAssignedResult, error)
}

type ClaimTokenStore interface {
	Create(ctx context.Context, token *model.ClaimToken) error
	GetByToken(ctx context.Context, token string) (*model.ClaimToken, error)
	DeactivateByCourse(ctx context.Context, courseID uuid.UUID) error
	ListByCourse(ctx context.Context, courseID uuid.UUID) ([]model.ClaimToken, error)
}

type PaymentStore interface {
	Create(ctx context.Context, payment *model.CommissionPayment) error
	GetBySessionID(ctx context.Context, sessionID string) (*model.CommissionPayment, error)
	ListByCourse(ctx context.Context, courseID uuid.UUID) ([]model.CommissionPayment, error)
	ListByStatus(ctx context.Context, status model.PaymentStatus) ([]model.CommissionPayment, error)
	MarkPaid(ctx context.Context, sessionID, providerPaymentID string, at time.Time) (bool, error)
	UpdateStatus(ctx context.Context, sessionID string, from, to model.PaymentStatus) (bool, error)
}

type DriverStore interface {
	Create(ctx context.Context, driver *model.Driver) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Driver, error)
	GetByEmail(ctx context.Context, email string) (*model.Driver, error)
	List(ctx context.Context) ([]model.Driver, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

type CourseEventStore interface {
	Create(ctx context.Context, event *model.CourseEvent) error
	ListByCourse(ctx context.Context, courseID uuid.UUID) ([]model.CourseEvent, error)
}

// EventPublisher pushes course lifecycle events to the broker. Implementations
// must never block the request path on broker availability.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, courseID uuid.UUID, payload map[string]interface{})
}

// Notifier delivers best-effort mail notifications.
type Notifier interface {
	CourseAssigned(course *model.Course, driver *model.Driver)
	CourseCancelled(course *model.Course, actor model.CancelActor)
	DriverDeactivated(driver *model.Driver)
}

// MetricsRecorder is implemented by the prometheus metrics bundle. Services
// tolerate a nil recorder so tests need no registry.
type MetricsRecorder interface {
	RecordReservation()
	RecordReleased(reason string)
	RecordAssignment(amount float64)
	RecordPayment(status string)
	RecordCancellation(actor string, late bool)
	RecordDriverDeactivated()
}

package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"subcontracting-service/internal/client"
	"subcontracting-service/internal/model"
	"subcontracting-service/internal/repository"
)

// In-memory stores mirroring the conditional-UPDATE semantics of the gorm
// repositories: every transition checks the expected prior state under the
// lock and reports false when it no longer holds.

type fakeCourseStore struct {
	mu      sync.Mutex
	courses map[uuid.UUID]*model.Course
	drivers *fakeDriverStore // penalty writes share the cancel transaction
}

func newFakeCourseStore(drivers *fakeDriverStore) *fakeCourseStore {
	return &fakeCourseStore{courses: make(map[uuid.UUID]*model.Course), drivers: drivers}
}

func (f *fakeCourseStore) put(course *model.Course) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if course.ID == uuid.Nil {
		course.ID = uuid.New()
	}
	copied := *course
	f.courses[course.ID] = &copied
}

func (f *fakeCourseStore) Create(ctx context.Context, course *model.Course) error {
	f.put(course)
	return nil
}

func (f *fakeCourseStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *course
	return &copied, nil
}

func (f *fakeCourseStore) List(ctx context.Context, filter repository.CourseListFilter) ([]model.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []model.Course
	for _, course := range f.courses {
		if filter.Status != nil && course.Status != *filter.Status {
			continue
		}
		if filter.AssignedDriverID != nil &&
			(course.AssignedDriverID == nil || *course.AssignedDriverID != *filter.AssignedDriverID) {
			continue
		}
		if filter.IsTest != nil && course.IsTest != *filter.IsTest {
			continue
		}
		result = append(result, *course)
	}
	return result, nil
}

func (f *fakeCourseStore) ReserveOpen(ctx context.Context, id, driverID uuid.UUID, until time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[id]
	if !ok || course.Status != model.CourseStatusOpen {
		return false, nil
	}
	course.Status = model.CourseStatusReserved
	course.ReservedByDriverID = &driverID
	course.ReservedUntil = &until
	return true, nil
}

func (f *fakeCourseStore) ReleaseLock(ctx context.Context, id, driverID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[id]
	if !ok || course.Status != model.CourseStatusReserved ||
		course.ReservedByDriverID == nil || *course.ReservedByDriverID != driverID {
		return false, nil
	}
	course.Status = model.CourseStatusOpen
	course.ReservedByDriverID = nil
	course.ReservedUntil = nil
	return true, nil
}

func (f *fakeCourseStore) ReleaseExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[id]
	if !ok || course.Status != model.CourseStatusReserved ||
		course.ReservedUntil == nil || !course.ReservedUntil.Before(now) {
		return false, nil
	}
	course.Status = model.CourseStatusOpen
	course.ReservedByDriverID = nil
	course.ReservedUntil = nil
	return true, nil
}

func (f *fakeCourseStore) Assign(ctx context.Context, id, driverID uuid.UUID, from model.CourseStatus, commission float64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[id]
	if !ok || course.Status != from {
		return false, nil
	}
	if from == model.CourseStatusReserved &&
		(course.ReservedByDriverID == nil || *course.ReservedByDriverID != driverID) {
		return false, nil
	}
	course.Status = model.CourseStatusAssigned
	course.AssignedDriverID = &driverID
	course.AssignedAt = &at
	course.CommissionAmount = commission
	course.CommissionPaid = true
	course.CommissionPaidAt = &at
	course.ReservedByDriverID = nil
	course.ReservedUntil = nil
	return true, nil
}

func (f *fakeCourseStore) CancelFrom(ctx context.Context, id uuid.UUID, from model.CourseStatus, actor model.CancelActor, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[id]
	if !ok || course.Status != from {
		return false, nil
	}
	course.Status = model.CourseStatusCancelled
	course.CancelledBy = &actor
	course.CancelReason = &reason
	course.ReservedByDriverID = nil
	course.ReservedUntil = nil
	return true, nil
}

func (f *fakeCourseStore) Transition(ctx context.Context, id uuid.UUID, from, to model.CourseStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[id]
	if !ok || course.Status != from {
		return false, nil
	}
	course.Status = to
	return true, nil
}

func (f *fakeCourseStore) ResetToOpen(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	course.Status = model.CourseStatusOpen
	course.ReservedByDriverID = nil
	course.ReservedUntil = nil
	course.AssignedDriverID = nil
	course.AssignedAt = nil
	return nil
}

func (f *fakeCourseStore) SetTestFlag(ctx context.Context, id uuid.UUID, isTest bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	course.IsTest = isTest
	return nil
}

func (f *fakeCourseStore) CountAssignedToDriver(ctx context.Context, driverID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, course := range f.courses {
		if course.AssignedDriverID != nil && *course.AssignedDriverID == driverID {
			count++
		}
	}
	return count, nil
}

func (f *fakeCourseStore) CancelAssigned(ctx context.Context, params repository.CancelAssignedParams) (*repository.CancelAssignedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[params.CourseID]
	if !ok || course.Status != model.CourseStatusAssigned {
		return nil, gorm.ErrRecordNotFound
	}
	course.Status = model.CourseStatusCancelled
	course.CancelledBy = &params.Actor
	course.CancelledLate = params.Late
	course.CancelReason = &params.Reason

	result := &repository.CancelAssignedResult{}
	if params.PenalizeDriver != nil {
		driver := f.drivers.get(*params.PenalizeDriver)
		if driver == nil {
			return nil, gorm.ErrRecordNotFound
		}
		driver.LateCancelCount++
		result.LateCancelCount = driver.LateCancelCount
		if driver.LateCancelCount >= model.AutoDeactivateLimit && driver.IsActive {
			driver.IsActive = false
			at := params.Now
			driver.DeactivatedAt = &at
			result.AutoDeactivated = true
		}
	}
	return result, nil
}

type fakeClaimTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*model.ClaimToken
}

func newFakeClaimTokenStore() *fakeClaimTokenStore {
	return &fakeClaimTokenStore{tokens: make(map[string]*model.ClaimToken)}
}

func (f *fakeClaimTokenStore) Create(ctx context.Context, token *model.ClaimToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	copied := *token
	f.tokens[token.Token] = &copied
	return nil
}

func (f *fakeClaimTokenStore) GetByToken(ctx context.Context, token string) (*model.ClaimToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claim, ok := f.tokens[token]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *claim
	return &copied, nil
}

func (f *fakeClaimTokenStore) DeactivateByCourse(ctx context.Context, courseID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, claim := range f.tokens {
		if claim.CourseID == courseID {
			claim.Active = false
		}
	}
	return nil
}

func (f *fakeClaimTokenStore) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]model.ClaimToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []model.ClaimToken
	for _, claim := range f.tokens {
		if claim.CourseID == courseID {
			result = append(result, *claim)
		}
	}
	return result, nil
}

type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[string]*model.CommissionPayment
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{payments: make(map[string]*model.CommissionPayment)}
}

func (f *fakePaymentStore) Create(ctx context.Context, payment *model.CommissionPayment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	copied := *payment
	f.payments[payment.ProviderSessionID] = &copied
	return nil
}

func (f *fakePaymentStore) GetBySessionID(ctx context.Context, sessionID string) (*model.CommissionPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.payments[sessionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *payment
	return &copied, nil
}

func (f *fakePaymentStore) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]model.CommissionPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []model.CommissionPayment
	for _, payment := range f.payments {
		if payment.CourseID == courseID {
			result = append(result, *payment)
		}
	}
	return result, nil
}

func (f *fakePaymentStore) ListByStatus(ctx context.Context, status model.PaymentStatus) ([]model.CommissionPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []model.CommissionPayment
	for _, payment := range f.payments {
		if payment.Status == status {
			result = append(result, *payment)
		}
	}
	return result, nil
}

func (f *fakePaymentStore) MarkPaid(ctx context.Context, sessionID, providerPaymentID string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.payments[sessionID]
	if !ok || payment.Status != model.PaymentStatusPending {
		return false, nil
	}
	payment.Status = model.PaymentStatusPaid
	payment.ProviderPaymentID = &providerPaymentID
	paidAt := at
	payment.PaidAt = &paidAt
	return true, nil
}

func (f *fakePaymentStore) UpdateStatus(ctx context.Context, sessionID string, from, to model.PaymentStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.payments[sessionID]
	if !ok || payment.Status != from {
		return false, nil
	}
	payment.Status = to
	return true, nil
}

type fakeDriverStore struct {
	mu      sync.Mutex
	drivers map[uuid.UUID]*model.Driver
}

func newFakeDriverStore() *fakeDriverStore {
	return &fakeDriverStore{drivers: make(map[uuid.UUID]*model.Driver)}
}

func (f *fakeDriverStore) get(id uuid.UUID) *model.Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drivers[id]
}

func (f *fakeDriverStore) put(driver *model.Driver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if driver.ID == uuid.Nil {
		driver.ID = uuid.New()
	}
	copied := *driver
	f.drivers[driver.ID] = &copied
}

func (f *fakeDriverStore) Create(ctx context.Context, driver *model.Driver) error {
	f.put(driver)
	return nil
}

func (f *fakeDriverStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	driver, ok := f.drivers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *driver
	return &copied, nil
}

func (f *fakeDriverStore) GetByEmail(ctx context.Context, email string) (*model.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, driver := range f.drivers {
		if driver.Email == email {
			copied := *driver
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeDriverStore) List(ctx context.Context) ([]model.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []model.Driver
	for _, driver := range f.drivers {
		result = append(result, *driver)
	}
	return result, nil
}

func (f *fakeDriverStore) UpdateProfile(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	driver, ok := f.drivers[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for key, value := range fields {
		switch key {
		case "company_name":
			driver.CompanyName = value.(string)
		case "name":
			driver.Name = value.(string)
		case "phone":
			driver.Phone = value.(string)
		case "address":
			driver.Address = value.(string)
		case "vat_applicable":
			driver.VatApplicable = value.(bool)
		case "vat_number":
			number := value.(string)
			driver.VatNumber = &number
		case "late_cancel_count":
			driver.LateCancelCount = value.(int)
		}
	}
	return nil
}

func (f *fakeDriverStore) SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	driver, ok := f.drivers[id]
	if !ok {
		return false, nil
	}
	driver.IsActive = active
	if active {
		driver.DeactivatedAt = nil
	} else {
		deactivatedAt := at
		driver.DeactivatedAt = &deactivatedAt
	}
	return true, nil
}

func (f *fakeDriverStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.drivers[id]; !ok {
		return false, nil
	}
	delete(f.drivers, id)
	return true, nil
}

type fakeEventStore struct {
	mu     sync.Mutex
	events []model.CourseEvent
}

func (f *fakeEventStore) Create(ctx context.Context, event *model.CourseEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeEventStore) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]model.CourseEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []model.CourseEvent
	for _, event := range f.events {
		if event.CourseID == courseID {
			result = append(result, event)
		}
	}
	return result, nil
}

// fakeCheckout scripts the provider: sessions are numbered, paid status is
// set per test.
type fakeCheckout struct {
	mu       sync.Mutex
	counter  int
	sessions map[string]*client.CheckoutSession
}

func newFakeCheckout() *fakeCheckout {
	return &fakeCheckout{sessions: make(map[string]*client.CheckoutSession)}
}

func (f *fakeCheckout) CreateSession(ctx context.Context, params client.CreateSessionParams) (*client.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	session := &client.CheckoutSession{
		ID:            fmt.Sprintf("cs_test_%d", f.counter),
		URL:           fmt.Sprintf("https://checkout.example/cs_test_%d", f.counter),
		PaymentStatus: "unpaid",
		Metadata:      params.Metadata,
	}
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeCheckout) GetSession(ctx context.Context, sessionID string) (*client.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("checkout session %s not found", sessionID)
	}
	copied := *session
	return &copied, nil
}

func (f *fakeCheckout) markFailed(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[sessionID]; ok {
		session.PaymentStatus = "failed"
	}
}

func (f *fakeCheckout) markPaid(sessionID, paymentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[sessionID]; ok {
		session.PaymentStatus = "paid"
		session.PaymentIntentID = paymentID
	}
}

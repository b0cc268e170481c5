package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"subcontracting-service/internal/model"
)

var testBase = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

// testEnv wires all services against the in-memory stores with a shared,
// settable clock.
type testEnv struct {
	drivers  *fakeDriverStore
	courses  *fakeCourseStore
	tokens   *fakeClaimTokenStore
	payments *fakePaymentStore
	events   *fakeEventStore
	checkout *fakeCheckout

	claimService   *ClaimService
	paymentService *PaymentService
	courseService  *CourseService
	driverService  *DriverService

	clock        time.Time
	tokenCounter int
}

func newTestEnv() *testEnv {
	env := &testEnv{
		drivers:  newFakeDriverStore(),
		tokens:   newFakeClaimTokenStore(),
		payments: newFakePaymentStore(),
		events:   &fakeEventStore{},
		checkout: newFakeCheckout(),
		clock:    testBase,
	}
	env.courses = newFakeCourseStore(env.drivers)

	log := zerolog.Nop()
	now := func() time.Time { return env.clock }

	env.driverService = NewDriverService(env.drivers, env.courses, env.events, nil, nil, nil, log, time.Hour)
	env.driverService.now = now

	env.courseService = NewCourseService(
		env.courses, env.tokens, env.payments, env.drivers, env.events,
		env.driverService, nil, nil, log,
		0.10, 30*time.Minute, "https://booking.example",
	)
	env.courseService.now = now
	env.courseService.newToken = func() string {
		env.tokenCounter++
		return fmt.Sprintf("tok_%03d", env.tokenCounter)
	}

	env.claimService = NewClaimService(env.courses, env.tokens, env.drivers, env.events, nil, nil, log, 3*time.Minute)
	env.claimService.now = now

	env.paymentService = NewPaymentService(
		env.payments, env.courses, env.drivers, env.tokens, env.events,
		env.checkout, nil, nil, nil, log,
		"https://booking.example/pay/success", "https://booking.example/pay/cancel",
	)
	env.paymentService.now = now

	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.clock = env.clock.Add(d)
}

func (env *testEnv) addDriver(active bool) *model.Driver {
	driver := &model.Driver{
		ID:           uuid.New(),
		Email:        fmt.Sprintf("driver-%s@example.com", uuid.New().String()[:8]),
		PasswordHash: "$2a$10$unused",
		CompanyName:  "VTC Express",
		Name:         "Jean Martin",
		Phone:        "+33612345678",
		Address:      "1 rue de la Paix, Paris",
		Siret:        "12345678900011",
		IsActive:     active,
	}
	env.drivers.put(driver)
	return driver
}

// addOpenCourse creates an OPEN course scheduled pickupIn from the current
// clock, with an active claim token.
func (env *testEnv) addOpenCourse(price float64, pickupIn time.Duration) (*model.Course, string) {
	course := &model.Course{
		ID:               uuid.New(),
		ClientName:       "Mme Dupont",
		ClientEmail:      "dupont@example.com",
		ClientPhone:      "+33698765432",
		PickupAddress:    "Aéroport CDG T2",
		DropoffAddress:   "15 avenue Montaigne, Paris",
		ScheduledAt:      env.clock.Add(pickupIn),
		PriceTotal:       price,
		Status:           model.CourseStatusOpen,
		CommissionRate:   0.10,
		CommissionAmount: commissionFor(price, 0.10),
	}
	env.courses.put(course)

	env.tokenCounter++
	token := fmt.Sprintf("tok_%03d", env.tokenCounter)
	_ = env.tokens.Create(context.Background(), &model.ClaimToken{
		ID:        uuid.New(),
		CourseID:  course.ID,
		Token:     token,
		Active:    true,
		ExpiresAt: env.clock.Add(30 * time.Minute),
	})
	return course, token
}

func driverPrincipal(driver *model.Driver) model.Principal {
	id := driver.ID
	return model.Principal{Subject: id.String(), Role: model.RoleDriver, DriverID: &id}
}

func adminPrincipal() model.Principal {
	return model.Principal{Subject: "admin", Role: model.RoleAdmin}
}

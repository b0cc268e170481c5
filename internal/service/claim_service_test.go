package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"subcontracting-service/internal/model"
)

func TestReservePlacesLock(t *testing.T) {
	env := newTestEnv()
	driver := env.addDriver(true)
	course, token := env.addOpenCourse(100.00, 4*time.Hour)

	result, err := env.claimService.Reserve(context.Background(), driverPrincipal(driver), token)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if result.AlreadyHeld {
		t.Error("fresh reservation reported as already held")
	}
	if want := testBase.Add(3 * time.Minute); !result.ReservedUntil.Equal(want) {
		t.Errorf("ReservedUntil = %v, want %v", result.ReservedUntil, want)
	}
	if result.CommissionAmount != 10.00 {
		t.Errorf("CommissionAmount = %v, want 10.00", result.CommissionAmount)
	}

	stored, _ := env.courses.GetByID(context.Background(), course.ID)
	if stored.Status != model.CourseStatusReserved {
		t.Errorf("course status = %s, want RESERVED", stored.Status)
	}
	if stored.ReservedByDriverID == nil || *stored.ReservedByDriverID != driver.ID {
		t.Error("course not reserved by the calling driver")
	}
}

func TestReserveSecondDriverRefused(t *testing.T) {
	env := newTestEnv()
	first := env.addDriver(true)
	second := env.addDriver(true)
	_, token := env.addOpenCourse(100.00, 4*time.Hour)

	if _, err := env.claimService.Reserve(context.Background(), driverPrincipal(first), token); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}

	_, err := env.claimService.Reserve(context.Background(), driverPrincipal(second), token)
	if !errors.Is(err, ErrAlreadyReserved) {
		t.Fatalf("second Reserve err = %v, want ErrAlreadyReserved", err)
	}
}

func TestReserveConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv()
	drivers := []*model.Driver{env.addDriver(true), env.addDriver(true)}
	course, token := env.addOpenCourse(100.00, 4*time.Hour)

	start := make(chan struct{})
	results := make(chan error, len(drivers))
	for _, driver := range drivers {
		driver := driver
		go func() {
			<-start
			_, err := env.claimService.Reserve(context.Background(), driverPrincipal(driver), token)
			results <- err
		}()
	}
	close(start)

	var won, refused int
	for range drivers {
		switch err := <-results; {
		case err == nil:
			won++
		case errors.Is(err, ErrAlreadyReserved):
			refused++
		default:
			t.Fatalf("Reserve: %v", err)
		}
	}
	if won != 1 || refused != 1 {
		t.Fatalf("won = %d refused = %d, want exactly one winner", won, refused)
	}

	stored, _ := env.courses.GetByID(context.Background(), course.ID)
	if stored.Status != model.CourseStatusReserved || stored.ReservedByDriverID == nil {
		t.Errorf("course status = %s, want RESERVED with a holder", stored.Status)
	}
}

func TestReserveIdempotentForHolder(t *testing.T) {
	env := newTestEnv()
	driver := env.addDriver(true)
	_, token := env.addOpenCourse(100.00, 4*time.Hour)

	first, err := env.claimService.Reserve(context.Background(), driverPrincipal(driver), token)
	if err != nil {
		t.Fatalf("first Reserve: %v", err)
	}

	// Re-reserving one minute in must not extend the window.
	env.advance(time.Minute)
	second, err := env.claimService.Reserve(context.Background(), driverPrincipal(driver), token)
	if err != nil {
		t.Fatalf("second Reserve: %v", err)
	}
	if !second.AlreadyHeld {
		t.Error("repeat reservation not reported as already held")
	}
	if !second.ReservedUntil.Equal(first.ReservedUntil) {
		t.Errorf("ReservedUntil changed from %v to %v", first.ReservedUntil, second.ReservedUntil)
	}
}

func TestReserveHandoverAfterExpiry(t *testing.T) {
	env := newTestEnv()
	first := env.addDriver(true)
	second := env.addDriver(true)
	course, token := env.addOpenCourse(100.00, 4*time.Hour)

	if _, err := env.claimService.Reserve(context.Background(), driverPrincipal(first), token); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}

	// One second past the 3-minute window the course is claimable again.
	env.advance(3*time.Minute + time.Second)
	result, err := env.claimService.Reserve(context.Background(), driverPrincipal(second), token)
	if err != nil {
		t.Fatalf("Reserve after expiry: %v", err)
	}
	if result.AlreadyHeld {
		t.Error("handover reported as already held")
	}

	stored, _ := env.courses.GetByID(context.Background(), course.ID)
	if stored.ReservedByDriverID == nil || *stored.ReservedByDriverID != second.ID {
		t.Error("lock not handed to the second driver")
	}
}

func TestReserveJustBeforeExpiryStillHeld(t *testing.T) {
	env := newTestEnv()
	first := env.addDriver(true)
	second := env.addDriver(true)
	_, token := env.addOpenCourse(100.00, 4*time.Hour)

	if _, err := env.claimService.Reserve(context.Background(), driverPrincipal(first), token); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}

	env.advance(3*time.Minute - time.Second)
	if _, err := env.claimService.Reserve(context.Background(), driverPrincipal(second), token); !errors.Is(err, ErrAlreadyReserved) {
		t.Fatalf("Reserve before expiry err = %v, want ErrAlreadyReserved", err)
	}
}

func TestReserveInactiveDriverRefused(t *testing.T) {
	env := newTestEnv()
	driver := env.addDriver(false)
	_, token := env.addOpenCourse(100.00, 4*time.Hour)

	if _, err := env.claimService.Reserve(context.Background(), driverPrincipal(driver), token); !errors.Is(err, ErrDriverInactive) {
		t.Fatalf("Reserve err = %v, want ErrDriverInactive", err)
	}
}

func TestReserveAnonymousRefused(t *testing.T) {
	env := newTestEnv()
	_, token := env.addOpenCourse(100.00, 4*time.Hour)

	if _, err := env.claimService.Reserve(context.Background(), model.Principal{}, token); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Reserve err = %v, want ErrPermissionDenied", err)
	}
}

func TestReserveExpiredTokenRefused(t *testing.T) {
	env := newTestEnv()
	driver := env.addDriver(true)
	_, token := env.addOpenCourse(100.00, 4*time.Hour)

	env.advance(31 * time.Minute)
	if _, err := env.claimService.Reserve(context.Background(), driverPrincipal(driver), token); !errors.Is(err, ErrExpired) {
		t.Fatalf("Reserve err = %v, want ErrExpired", err)
	}
}

func TestReserveUnknownTokenNotFound(t *testing.T) {
	env := newTestEnv()
	driver := env.addDriver(true)

	if _, err := env.claimService.Reserve(context.Background(), driverPrincipal(driver), "tok_nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Reserve err = %v, want ErrNotFound", err)
	}
}

func TestGetClaimInfoCountdown(t *testing.T) {
	env := newTestEnv()
	driver := env.addDriver(true)
	_, token := env.addOpenCourse(100.00, 4*time.Hour)

	if _, err := env.claimService.Reserve(context.Background(), driverPrincipal(driver), token); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	env.advance(time.Minute)

	info, err := env.claimService.GetClaimInfo(context.Background(), driverPrincipal(driver), token)
	if err != nil {
		t.Fatalf("GetClaimInfo: %v", err)
	}
	if info.TimeRemainingSeconds == nil || *info.TimeRemainingSeconds != 120 {
		t.Errorf("TimeRemainingSeconds = %v, want 120", info.TimeRemainingSeconds)
	}
	if !info.ReservedByMe {
		t.Error("holder not flagged as reserved_by_me")
	}
	if info.ReservedBy == nil || *info.ReservedBy != driver.CompanyName {
		t.Errorf("ReservedBy = %v, want %q", info.ReservedBy, driver.CompanyName)
	}
}

func TestGetClaimInfoLazyExpiry(t *testing.T) {
	env := newTestEnv()
	driver := env.addDriver(true)
	course, token := env.addOpenCourse(100.00, 4*time.Hour)

	if _, err := env.claimService.Reserve(context.Background(), driverPrincipal(driver), token); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	env.advance(5 * time.Minute)
	info, err := env.claimService.GetClaimInfo(context.Background(), model.Principal{}, token)
	if err != nil {
		t.Fatalf("GetClaimInfo: %v", err)
	}
	if info.Course.Status != model.CourseStatusOpen {
		t.Errorf("claim page status = %s, want OPEN after lapse", info.Course.Status)
	}

	stored, _ := env.courses.GetByID(context.Background(), course.ID)
	if stored.Status != model.CourseStatusOpen {
		t.Errorf("stored status = %s, want OPEN", stored.Status)
	}
}

func TestReleaseByHolder(t *testing.T) {
	env := newTestEnv()
	driver := env.addDriver(true)
	course, token := env.addOpenCourse(100.00, 4*time.Hour)

	if _, err := env.claimService.Reserve(context.Background(), driverPrincipal(driver), token); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := env.claimService.Release(context.Background(), driverPrincipal(driver), token); err != nil {
		t.Fatalf("Release: %v", err)
	}

	stored, _ := env.courses.GetByID(context.Background(), course.ID)
	if stored.Status != model.CourseStatusOpen {
		t.Errorf("status = %s, want OPEN", stored.Status)
	}
}

func TestReleaseByOtherDriverRefused(t *testing.T) {
	env := newTestEnv()
	holder := env.addDriver(true)
	other := env.addDriver(true)
	_, token := env.addOpenCourse(100.00, 4*time.Hour)

	if _, err := env.claimService.Reserve(context.Background(), driverPrincipal(holder), token); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := env.claimService.Release(context.Background(), driverPrincipal(other), token); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Release err = %v, want ErrPermissionDenied", err)
	}
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"subcontracting-service/internal/model"
)

type fakeIssuer struct{}

func (fakeIssuer) IssueDriver(driverID uuid.UUID) (string, error) {
	return "driver-token-" + driverID.String(), nil
}

func (fakeIssuer) IssueAdmin() (string, error) {
	return "admin-token", nil
}

func newAuthHarness(adminPassword string) (*AuthService, *fakeDriverStore) {
	drivers := newFakeDriverStore()
	return NewAuthService(drivers, fakeIssuer{}, adminPassword, zerolog.Nop()), drivers
}

func addCredentialedDriver(drivers *fakeDriverStore, email, password string, active bool) *model.Driver {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	driver := &model.Driver{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		CompanyName:  "VTC Express",
		Name:         "Jean Martin",
		Phone:        "+33612345678",
		Address:      "1 rue de la Paix, Paris",
		Siret:        "12345678900011",
		IsActive:     active,
	}
	drivers.put(driver)
	return driver
}

func TestDriverLogin(t *testing.T) {
	svc, drivers := newAuthHarness("")
	driver := addCredentialedDriver(drivers, "jean@example.com", "s3cret-pass", true)

	result, err := svc.DriverLogin(context.Background(), "  Jean@Example.COM ", "s3cret-pass")
	if err != nil {
		t.Fatalf("DriverLogin: %v", err)
	}
	if result.Token == "" {
		t.Error("no token issued")
	}
	if result.Driver == nil || result.Driver.ID != driver.ID {
		t.Error("driver not returned")
	}
}

func TestDriverLoginWrongPassword(t *testing.T) {
	svc, drivers := newAuthHarness("")
	addCredentialedDriver(drivers, "jean@example.com", "s3cret-pass", true)

	if _, err := svc.DriverLogin(context.Background(), "jean@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestDriverLoginUnknownEmail(t *testing.T) {
	svc, _ := newAuthHarness("")

	if _, err := svc.DriverLogin(context.Background(), "nobody@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestDriverLoginInactiveAccount(t *testing.T) {
	svc, drivers := newAuthHarness("")
	addCredentialedDriver(drivers, "jean@example.com", "s3cret-pass", false)

	if _, err := svc.DriverLogin(context.Background(), "jean@example.com", "s3cret-pass"); !errors.Is(err, ErrDriverInactive) {
		t.Fatalf("err = %v, want ErrDriverInactive", err)
	}
}

func TestAdminLogin(t *testing.T) {
	svc, _ := newAuthHarness("operator-pass")

	result, err := svc.AdminLogin(context.Background(), "operator-pass")
	if err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}
	if result.Token != "admin-token" {
		t.Errorf("token = %q", result.Token)
	}

	if _, err := svc.AdminLogin(context.Background(), "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
}

func TestAdminLoginDisabledWithoutPassword(t *testing.T) {
	svc, _ := newAuthHarness("")

	if _, err := svc.AdminLogin(context.Background(), ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE EXTENSION IF NOT EXISTS "pgcrypto";`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'course_status') THEN
			CREATE TYPE course_status AS ENUM ('OPEN', 'RESERVED', 'ASSIGNED', 'DONE', 'CANCELLED');
		END IF;
	END
	$$;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'payment_status') THEN
			CREATE TYPE payment_status AS ENUM ('pending', 'paid', 'failed', 'refund_needed');
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS drivers (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		company_name VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		phone VARCHAR(32) NOT NULL,
		address TEXT NOT NULL,
		siret VARCHAR(32) NOT NULL,
		vat_applicable BOOLEAN NOT NULL DEFAULT FALSE,
		vat_number VARCHAR(32),
		invoice_prefix VARCHAR(16) NOT NULL DEFAULT 'DRI',
		invoice_next_number INTEGER NOT NULL DEFAULT 1,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		late_cancel_count INTEGER NOT NULL DEFAULT 0,
		deactivated_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS courses (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		client_name VARCHAR(255) NOT NULL,
		client_email VARCHAR(255),
		client_phone VARCHAR(32),
		pickup_address TEXT NOT NULL,
		dropoff_address TEXT NOT NULL,
		scheduled_at TIMESTAMPTZ NOT NULL,
		distance_km DOUBLE PRECISION,
		price_total DOUBLE PRECISION NOT NULL,
		notes TEXT,
		status course_status NOT NULL DEFAULT 'OPEN',
		reserved_by_driver_id UUID REFERENCES drivers(id) ON DELETE SET NULL,
		reserved_until TIMESTAMPTZ,
		assigned_driver_id UUID REFERENCES drivers(id) ON DELETE SET NULL,
		assigned_at TIMESTAMPTZ,
		commission_rate DOUBLE PRECISION NOT NULL,
		commission_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		commission_paid BOOLEAN NOT NULL DEFAULT FALSE,
		commission_paid_at TIMESTAMPTZ,
		cancelled_by VARCHAR(16),
		cancelled_late BOOLEAN NOT NULL DEFAULT FALSE,
		cancel_reason TEXT,
		is_test BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_courses_status ON courses (status);`,
	`CREATE INDEX IF NOT EXISTS idx_courses_scheduled_at ON courses (scheduled_at);`,
	`CREATE INDEX IF NOT EXISTS idx_courses_reserved_by_driver_id ON courses (reserved_by_driver_id);`,
	`CREATE INDEX IF NOT EXISTS idx_courses_assigned_driver_id ON courses (assigned_driver_id);`,
	`CREATE TABLE IF NOT EXISTS claim_tokens (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		course_id UUID NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		token VARCHAR(64) NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_claim_tokens_course_id ON claim_tokens (course_id);`,
	`CREATE TABLE IF NOT EXISTS commission_payments (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		course_id UUID NOT NULL REFERENCES courses(id) ON DELETE RESTRICT,
		driver_id UUID NOT NULL REFERENCES drivers(id) ON DELETE RESTRICT,
		provider VARCHAR(32) NOT NULL DEFAULT 'checkout',
		provider_session_id VARCHAR(255) NOT NULL UNIQUE,
		provider_payment_id VARCHAR(255),
		amount DOUBLE PRECISION NOT NULL,
		currency VARCHAR(8) NOT NULL DEFAULT 'eur',
		status payment_status NOT NULL DEFAULT 'pending',
		is_test BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		paid_at TIMESTAMPTZ
	);`,
	`CREATE INDEX IF NOT EXISTS idx_commission_payments_course_id ON commission_payments (course_id);`,
	`CREATE INDEX IF NOT EXISTS idx_commission_payments_driver_id ON commission_payments (driver_id);`,
	`CREATE INDEX IF NOT EXISTS idx_commission_payments_status ON commission_payments (status);`,
	`CREATE TABLE IF NOT EXISTS course_events (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		course_id UUID NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		from_status course_status NOT NULL,
		to_status course_status NOT NULL,
		actor VARCHAR(64) NOT NULL,
		detail TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_course_events_course_id ON course_events (course_id);`,
	`CREATE INDEX IF NOT EXISTS idx_course_events_created_at ON course_events (created_at);`,
	`CREATE OR REPLACE FUNCTION set_updated_at()
	RETURNS TRIGGER AS $$
	BEGIN
		NEW.updated_at = NOW();
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_courses_updated_at') THEN
			CREATE TRIGGER trg_courses_updated_at
				BEFORE UPDATE ON courses
				FOR EACH ROW
				EXECUTE PROCEDURE set_updated_at();
		END IF;
	END
	$$;`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_drivers_updated_at') THEN
			CREATE TRIGGER trg_drivers_updated_at
				BEFORE UPDATE ON drivers
				FOR EACH ROW
				EXECUTE PROCEDURE set_updated_at();
		END IF;
	END
	$$;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

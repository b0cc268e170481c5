package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret  string
	AccessTTL     time.Duration
	AdminPassword string
}

// SubcontractingConfig holds the business tunables of the claim workflow.
type SubcontractingConfig struct {
	CommissionRate    float64
	ReservationWindow time.Duration
	ClaimTokenTTL     time.Duration
	LateThreshold     time.Duration
	ClaimBaseURL      string
}

type CheckoutConfig struct {
	BaseURL      string
	APIKey       string
	WebhookToken string
	SuccessURL   string
	CancelURL    string
	Timeout      time.Duration
}

type MailConfig struct {
	APIURL     string
	APIKey     string
	FromEmail  string
	AdminEmail string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type Config struct {
	Environment    string
	HTTP           HTTPConfig
	DB             DBConfig
	Auth           AuthConfig
	Subcontracting SubcontractingConfig
	Checkout       CheckoutConfig
	Mail           MailConfig
	Kafka          KafkaConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret:  v.GetString("JWT_ACCESS_SECRET"),
			AccessTTL:     v.GetDuration("JWT_ACCESS_TTL"),
			AdminPassword: v.GetString("ADMIN_PASSWORD"),
		},
		Subcontracting: SubcontractingConfig{
			CommissionRate:    v.GetFloat64("COMMISSION_RATE"),
			ReservationWindow: v.GetDuration("RESERVATION_WINDOW"),
			ClaimTokenTTL:     v.GetDuration("CLAIM_TOKEN_TTL"),
			LateThreshold:     v.GetDuration("LATE_CANCEL_THRESHOLD"),
			ClaimBaseURL:      v.GetString("CLAIM_BASE_URL"),
		},
		Checkout: CheckoutConfig{
			BaseURL:      v.GetString("CHECKOUT_BASE_URL"),
			APIKey:       v.GetString("CHECKOUT_API_KEY"),
			WebhookToken: v.GetString("CHECKOUT_WEBHOOK_TOKEN"),
			SuccessURL:   v.GetString("CHECKOUT_SUCCESS_URL"),
			CancelURL:    v.GetString("CHECKOUT_CANCEL_URL"),
			Timeout:      v.GetDuration("CHECKOUT_TIMEOUT"),
		},
		Mail: MailConfig{
			APIURL:     v.GetString("MAIL_API_URL"),
			APIKey:     v.GetString("MAIL_API_KEY"),
			FromEmail:  v.GetString("MAIL_FROM_EMAIL"),
			AdminEmail: v.GetString("MAIL_ADMIN_EMAIL"),
		},
		Kafka: KafkaConfig{
			Brokers: v.GetStringSlice("KAFKA_BROKERS"),
			Topic:   v.GetString("KAFKA_COURSE_EVENTS_TOPIC"),
		},
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Auth.AccessTTL == 0 {
		cfg.Auth.AccessTTL = 24 * time.Hour
	}
	if cfg.Subcontracting.CommissionRate == 0 {
		cfg.Subcontracting.CommissionRate = 0.10
	}
	if cfg.Subcontracting.ReservationWindow == 0 {
		cfg.Subcontracting.ReservationWindow = 3 * time.Minute
	}
	if cfg.Subcontracting.ClaimTokenTTL == 0 {
		cfg.Subcontracting.ClaimTokenTTL = 30 * time.Minute
	}
	if cfg.Subcontracting.LateThreshold == 0 {
		cfg.Subcontracting.LateThreshold = time.Hour
	}
	if cfg.Subcontracting.ClaimBaseURL == "" {
		cfg.Subcontracting.ClaimBaseURL = "http://localhost:3000"
	}
	if cfg.Checkout.Timeout == 0 {
		cfg.Checkout.Timeout = 15 * time.Second
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "subcontracting.course-events"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.Subcontracting.CommissionRate < 0 || cfg.Subcontracting.CommissionRate > 1 {
		return fmt.Errorf("COMMISSION_RATE must be between 0 and 1")
	}
	return nil
}

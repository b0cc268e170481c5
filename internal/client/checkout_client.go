package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// CheckoutClient talks to the hosted payment page provider. Session creation
// is retried on transport errors; lookups are not, callers poll anyway.
type CheckoutClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	log        zerolog.Logger
}

func NewCheckoutClient(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *CheckoutClient {
	return &CheckoutClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
		log:        log,
	}
}

type CreateSessionParams struct {
	AmountCents   int64             `json:"amount_cents"`
	Currency      string            `json:"currency"`
	Description   string            `json:"description"`
	CustomerEmail string            `json:"customer_email"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`
	Metadata      map[string]string `json:"metadata"`
}

type CheckoutSession struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	PaymentStatus   string            `json:"payment_status"`
	PaymentIntentID string            `json:"payment_intent_id"`
	Metadata        map[string]string `json:"metadata"`
}

// Paid reports whether the provider considers the session settled.
func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == "paid"
}

// Failed reports a terminal provider state with no settlement: the session
// failed outright or expired unpaid.
func (s *CheckoutSession) Failed() bool {
	return s.PaymentStatus == "failed" || s.PaymentStatus == "expired"
}

func (c *CheckoutClient) CreateSession(ctx context.Context, params CreateSessionParams) (*CheckoutSession, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal session params: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		session, err := c.postSession(ctx, body)
		if err == nil {
			return session, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("checkout session creation failed")
	}

	return nil, fmt.Errorf("create checkout session: %w", lastErr)
}

func (c *CheckoutClient) postSession(ctx context.Context, body []byte) (*CheckoutSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(data))
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	return &session, nil
}

func (c *CheckoutClient) GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/checkout/sessions/"+sessionID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("checkout session %s not found", sessionID)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(data))
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	return &session, nil
}

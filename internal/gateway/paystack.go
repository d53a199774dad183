// Package gateway talks to the Paystack payment gateway.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"vtu-service/internal/models"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "X-Paystack-Signature"

const maxBodyLength = 1 << 20

type Config struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	// RetryTimeout bounds the total time spent retrying a verification.
	RetryTimeout time.Duration
}

// APIError is a non-retryable answer from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack: status %d: %s", e.StatusCode, e.Message)
}

// UnavailableError means the gateway could not be reached or kept failing.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return "paystack unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is worth retrying later.
func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: httpClient}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialization is the checkout session created for a funding.
type Initialization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Initialize creates a checkout session for amount kobo under our reference.
func (c *Client) Initialize(ctx context.Context, reference, email string, amount int64) (Initialization, error) {
	payload := map[string]any{
		"reference": reference,
		"email":     email,
		"amount":    amount,
		"currency":  "NGN",
	}
	if c.cfg.CallbackURL != "" {
		payload["callback_url"] = c.cfg.CallbackURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Initialization{}, fmt.Errorf("failed to marshal initialize request: %w", err)
	}

	var session Initialization
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &session); err != nil {
		return Initialization{}, err
	}
	return session, nil
}

type verifyData struct {
	Reference       string `json:"reference"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	GatewayResponse string `json:"gateway_response"`
}

// Verify asks the gateway for the authoritative state of a payment. Network
// failures and 5xx answers are retried with exponential backoff.
func (c *Client) Verify(ctx context.Context, reference string) (models.Verification, error) {
	var data verifyData
	path := "/transaction/verify/" + url.PathEscape(reference)

	bckoff := backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(c.cfg.RetryTimeout))
	err := backoff.Retry(func() error {
		err := c.do(ctx, http.MethodGet, path, nil, &data)
		if err == nil {
			return nil
		}
		if IsUnavailable(err) {
			log.Warn().Err(err).Str("reference", reference).Msg("Verification attempt failed, retrying")
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bckoff, ctx))
	if err != nil {
		return models.Verification{}, err
	}

	return models.Verification{
		Reference: data.Reference,
		Status:    data.Status,
		Amount:    data.Amount,
		Currency:  data.Currency,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyLength))
	if err != nil {
		return &UnavailableError{Err: fmt.Errorf("error reading body: %w", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &UnavailableError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode >= 400 || !env.Status {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// VerifySignature checks the webhook signature over the raw request body in
// constant time.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	return ValidSignature(c.cfg.SecretKey, body, signature)
}

func ValidSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(secret, body))
}

// Sign computes the raw HMAC-SHA512 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"vtu-service/internal/config"
	"vtu-service/internal/gateway"
	"vtu-service/internal/ledger"
	"vtu-service/internal/metrics"
	"vtu-service/internal/models"
)

var (
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	ErrMalformedWebhook = errors.New("malformed webhook payload")
	ErrUnknownReference = errors.New("unknown funding reference")
)

type Outcome string

const (
	OutcomeCredited        Outcome = "credited"
	OutcomeFailed          Outcome = "failed"
	OutcomePending         Outcome = "pending"
	OutcomeAlreadyTerminal Outcome = "already_terminal"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeQueued          Outcome = "queued"
)

type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceQueue   Source = "queue"
)

const gatewayCurrency = "NGN"

// PaymentGateway is the part of the payment provider the reconciler and the
// funding flow depend on.
type PaymentGateway interface {
	Initialize(ctx context.Context, reference, email string, amount int64) (gateway.Initialization, error)
	Verify(ctx context.Context, reference string) (models.Verification, error)
	VerifySignature(body []byte, signature string) bool
}

// VerifyQueue accepts verifications to retry later.
type VerifyQueue interface {
	Enqueue(ctx context.Context, job models.VerifyJob) error
}

// PaymentReconciler settles funding transactions. The webhook, the user's poll
// and the retry queue all go through Reconcile, and the ledger's check-and-set
// decides which of them applies the credit.
type PaymentReconciler struct {
	ledger  *ledger.Ledger
	gateway PaymentGateway
	queue   VerifyQueue
	cfg     *config.Config
}

func NewPaymentReconciler(l *ledger.Ledger, gw PaymentGateway, queue VerifyQueue, cfg *config.Config) *PaymentReconciler {
	return &PaymentReconciler{ledger: l, gateway: gw, queue: queue, cfg: cfg}
}

// HandleWebhook authenticates and applies a gateway event. The signature is
// checked over the raw body before anything else is looked at.
func (r *PaymentReconciler) HandleWebhook(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if !r.gateway.VerifySignature(body, signature) {
		metrics.InvalidSignatures.Inc()
		return "", ErrSignatureInvalid
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if !strings.HasPrefix(event.Event, "charge.") {
		log.Debug().Str("event", event.Event).Msg("Ignoring webhook event")
		return OutcomeIgnored, nil
	}

	var charge models.WebhookCharge
	if err := json.Unmarshal(event.Data, &charge); err != nil || charge.Reference == "" {
		return "", fmt.Errorf("%w: missing charge reference", ErrMalformedWebhook)
	}

	outcome, err := r.Reconcile(ctx, charge.Reference, SourceWebhook)
	switch {
	case errors.Is(err, ErrUnknownReference):
		// Charges made outside this service share the webhook endpoint.
		log.Warn().Str("reference", charge.Reference).Msg("Webhook for unknown reference")
		return OutcomeIgnored, nil
	case err != nil && gateway.IsUnavailable(err) && r.queue != nil:
		if qErr := r.enqueue(ctx, charge.Reference); qErr != nil {
			return "", fmt.Errorf("verification failed (%v) and could not be queued: %w", err, qErr)
		}
		log.Warn().Err(err).Str("reference", charge.Reference).Msg("Gateway unavailable, verification queued")
		return OutcomeQueued, nil
	case err == nil && outcome == OutcomePending && r.queue != nil:
		// The gateway will not call again, so keep checking until it settles.
		if qErr := r.enqueue(ctx, charge.Reference); qErr != nil {
			return "", fmt.Errorf("payment pending and could not be queued: %w", qErr)
		}
		log.Info().Str("reference", charge.Reference).Msg("Payment pending, verification queued")
		return OutcomeQueued, nil
	default:
		return outcome, err
	}
}

func (r *PaymentReconciler) enqueue(ctx context.Context, reference string) error {
	return r.queue.Enqueue(context.WithoutCancel(ctx), models.VerifyJob{
		Reference:  reference,
		Source:     string(SourceWebhook),
		MaxRetries: r.cfg.VerifyMaxRetries,
	})
}

// Reconcile re-verifies a funding transaction with the gateway and moves it to
// its terminal state. A transaction that is already terminal is left alone.
func (r *PaymentReconciler) Reconcile(ctx context.Context, reference string, source Source) (Outcome, error) {
	outcome, err := r.reconcile(ctx, reference, source)
	if err == nil {
		metrics.Credits.WithLabelValues(string(source), string(outcome)).Inc()
	}
	return outcome, err
}

func (r *PaymentReconciler) reconcile(ctx context.Context, reference string, source Source) (Outcome, error) {
	logger := log.With().Str("reference", reference).Str("source", string(source)).Logger()

	txn, err := r.ledger.GetByReference(ctx, reference)
	if errors.Is(err, ledger.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrUnknownReference, reference)
	}
	if err != nil {
		return "", err
	}
	if txn.Kind != models.KindFunding {
		return "", fmt.Errorf("%w: %s is a %s", ErrUnknownReference, reference, txn.Kind)
	}
	if txn.Status.Terminal() {
		return OutcomeAlreadyTerminal, nil
	}

	verification, err := r.gateway.Verify(ctx, reference)
	if err != nil {
		return "", fmt.Errorf("failed to verify %s: %w", reference, err)
	}

	// The transaction must be settled even if the caller goes away now.
	ctx = context.WithoutCancel(ctx)
	details := map[string]any{
		"gatewayStatus":   verification.Status,
		"gatewayAmount":   verification.Amount,
		"gatewayCurrency": verification.Currency,
		"settledBy":       source,
	}

	switch verification.Status {
	case models.GatewaySuccess:
		if verification.Amount != txn.Amount || !currencyMatches(verification.Currency) {
			logger.Error().Int64("expected", txn.Amount).Int64("verified", verification.Amount).Str("currency", verification.Currency).
				Msg("Verified payment does not match funding request")
			return r.fail(ctx, txn, models.ReasonAmountMismatch, details)
		}
		balance, err := r.ledger.Credit(ctx, txn.ID, verification.Amount, details)
		if errors.Is(err, ledger.ErrAlreadyTerminal) {
			return OutcomeAlreadyTerminal, nil
		}
		if err != nil {
			return "", err
		}
		logger.Info().Int64("amount", verification.Amount).Int64("balance", balance).Msg("Wallet funded")
		return OutcomeCredited, nil

	case models.GatewayFailed, models.GatewayAbandoned, models.GatewayReversed:
		return r.fail(ctx, txn, models.ReasonGatewayDeclined, details)

	default:
		logger.Debug().Str("gateway_status", verification.Status).Msg("Payment not settled yet")
		return OutcomePending, nil
	}
}

func (r *PaymentReconciler) fail(ctx context.Context, txn *models.Transaction, reason string, details map[string]any) (Outcome, error) {
	err := r.ledger.Fail(ctx, txn.ID, reason, details)
	if errors.Is(err, ledger.ErrAlreadyTerminal) {
		return OutcomeAlreadyTerminal, nil
	}
	if err != nil {
		return "", err
	}
	log.Info().Str("reference", txn.Reference).Str("reason", reason).Msg("Funding failed")
	return OutcomeFailed, nil
}

func currencyMatches(currency string) bool {
	return currency == "" || strings.EqualFold(currency, gatewayCurrency)
}

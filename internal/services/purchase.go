package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"vtu-service/internal/ledger"
	"vtu-service/internal/metrics"
	"vtu-service/internal/models"
	"vtu-service/internal/pricing"
	"vtu-service/internal/vendors"
)

var ErrInvalidPin = errors.New("invalid authorization pin")

// ValidationError is a malformed request. Nothing was recorded.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

type PurchaseService struct {
	ledger   *ledger.Ledger
	resolver *pricing.Resolver
	router   *VendorRouter
	locker   Locker
}

func NewPurchaseService(l *ledger.Ledger, resolver *pricing.Resolver, router *VendorRouter, locker Locker) *PurchaseService {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &PurchaseService{ledger: l, resolver: resolver, router: router, locker: locker}
}

// Purchase buys a service for a user's wallet.
//
// Errors are returned only when nothing was attempted: a bad request, a bad PIN,
// a missing price or a duplicate reference. Once a transaction is opened the
// outcome is reported in the response, with Reason set when it FAILED.
func (s *PurchaseService) Purchase(ctx context.Context, userID string, req models.PurchaseRequest) (models.PurchaseResponse, error) {
	if err := validatePurchase(&req); err != nil {
		return models.PurchaseResponse{}, err
	}

	if err := s.checkPin(ctx, userID, req.Pin); err != nil {
		return models.PurchaseResponse{}, err
	}

	quote, err := s.resolver.Resolve(pricing.Request{
		ServiceType: req.ServiceType,
		Network:     req.Network,
		PlanID:      req.PlanID,
		Amount:      req.Amount,
	})
	if err != nil {
		return models.PurchaseResponse{}, err
	}
	if quote.Plan != nil && req.Network == "" {
		req.Network = quote.Plan.Network
	}

	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return models.PurchaseResponse{}, fmt.Errorf("failed to lock wallet: %w", err)
	}
	defer unlock()

	txn, err := s.ledger.Open(ctx, ledger.OpenParams{
		UserID:      userID,
		Kind:        models.KindPurchase,
		ServiceType: req.ServiceType,
		Amount:      quote.SellingPrice,
		Reference:   req.Reference,
		Details: map[string]any{
			"target":      req.Target,
			"network":     req.Network,
			"planId":      req.PlanID,
			"priceSource": quote.Source,
		},
	})
	if err != nil {
		return models.PurchaseResponse{}, err
	}
	logger := log.With().Str("reference", txn.Reference).Str("user", userID).Logger()

	// Everything after this point must settle the transaction.
	settleCtx := context.WithoutCancel(ctx)

	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return s.fail(settleCtx, txn, "", err, nil)
	}
	if balance < quote.SellingPrice {
		return s.fail(settleCtx, txn, models.ReasonInsufficientFunds, &ledger.InsufficientFundsError{Balance: balance, Amount: quote.SellingPrice}, nil)
	}

	fulfillment, err := s.router.Route(ctx, RouteRequest{
		ServiceType: req.ServiceType,
		Params: vendors.Params{
			Reference: txn.Reference,
			Target:    req.Target,
			Network:   req.Network,
			PlanID:    req.PlanID,
			MeterType: req.MeterType,
			Phone:     req.Phone,
		},
		SellingPrice: quote.SellingPrice,
		CostPrice:    quote.CostPrice,
	})
	if err != nil {
		return s.fail(settleCtx, txn, failureReason(err), err, fulfillment.Attempts)
	}

	newBalance, err := s.ledger.DebitAndComplete(settleCtx, txn.ID, fulfillment.VendorID, quote.CostPrice, quote.Profit(), map[string]any{
		"vendorId":          fulfillment.VendorID,
		"providerReference": fulfillment.Result.ProviderReference,
		"attempts":          fulfillment.Attempts,
	})
	if err != nil {
		// The vendor has delivered. Keep the evidence on the transaction for
		// manual settlement.
		logger.Error().Err(err).Str("vendor", fulfillment.VendorID).Str("provider_reference", fulfillment.Result.ProviderReference).
			Msg("Fulfilled purchase could not be debited")
		reason := ""
		if ledger.IsInsufficientFunds(err) {
			reason = models.ReasonInsufficientFunds
		}
		return s.fail(settleCtx, txn, reason, err, fulfillment.Attempts)
	}

	metrics.Purchases.WithLabelValues(string(req.ServiceType), string(models.StatusCompleted)).Inc()
	logger.Info().Str("vendor", fulfillment.VendorID).Int64("amount", quote.SellingPrice).Int64("profit", quote.Profit()).Msg("Purchase completed")
	return models.PurchaseResponse{
		Reference:  txn.Reference,
		Status:     models.StatusCompleted,
		NewBalance: &newBalance,
	}, nil
}

// fail marks the transaction FAILED and builds the caller's response. An empty
// reason means an internal error, which is also returned.
func (s *PurchaseService) fail(ctx context.Context, txn *models.Transaction, reason string, cause error, attempts []Attempt) (models.PurchaseResponse, error) {
	details := map[string]any{"error": cause.Error()}
	if len(attempts) > 0 {
		details["attempts"] = attempts
	}
	stored := reason
	if stored == "" {
		stored = "internal_error"
	}

	if err := s.ledger.Fail(ctx, txn.ID, stored, details); err != nil && !errors.Is(err, ledger.ErrAlreadyTerminal) {
		log.Error().Err(err).Str("reference", txn.Reference).Msg("Error marking purchase as failed")
	}
	metrics.Purchases.WithLabelValues(string(txn.ServiceType), string(models.StatusFailed)).Inc()

	if reason == "" {
		return models.PurchaseResponse{}, cause
	}

	resp := models.PurchaseResponse{
		Reference: txn.Reference,
		Status:    models.StatusFailed,
		Reason:    reason,
		Message:   failureMessage(reason, cause),
	}
	if balance, err := s.ledger.Balance(ctx, txn.UserID); err == nil {
		resp.NewBalance = &balance
	}
	return resp, nil
}

func (s *PurchaseService) checkPin(ctx context.Context, userID, pin string) error {
	hash, err := s.ledger.PinHash(ctx, userID)
	if err != nil {
		return err
	}
	if hash == "" || pin == "" {
		return ErrInvalidPin
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		return ErrInvalidPin
	}
	return nil
}

func validatePurchase(req *models.PurchaseRequest) error {
	st, err := models.ParseServiceType(string(req.ServiceType))
	if err != nil {
		return &ValidationError{Field: "serviceType", Message: err.Error()}
	}
	req.ServiceType = st
	req.Target = strings.TrimSpace(req.Target)
	req.Network = strings.ToLower(strings.TrimSpace(req.Network))

	if req.Target == "" {
		return &ValidationError{Field: "target", Message: "is required"}
	}
	if req.PlanID == "" && req.Amount <= 0 {
		return &ValidationError{Field: "amount", Message: "a plan or a positive amount is required"}
	}
	if req.Amount < 0 {
		return &ValidationError{Field: "amount", Message: "must not be negative"}
	}
	if st == models.ServiceElectricity && req.MeterType == "" {
		return &ValidationError{Field: "meterType", Message: "is required for electricity"}
	}
	return nil
}

func failureReason(err error) string {
	var noCapacity *NoCapacityError
	switch {
	case vendors.IsRejected(err):
		return models.ReasonInvalidDestination
	case errors.As(err, &noCapacity):
		return models.ReasonTemporarilyUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.ReasonTemporarilyUnavailable
	default:
		return ""
	}
}

func failureMessage(reason string, cause error) string {
	var rej *vendors.RejectedError
	switch {
	case errors.As(cause, &rej):
		return rej.Message
	case reason == models.ReasonInsufficientFunds:
		return "wallet balance is too low for this purchase"
	case reason == models.ReasonTemporarilyUnavailable:
		return "service is temporarily unavailable, try again later"
	default:
		return cause.Error()
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/rs/zerolog/log"

	"vtu-service/internal/ledger"
	"vtu-service/internal/models"
)

// FundingService starts wallet top-ups and lets the user poll for their result.
type FundingService struct {
	ledger      *ledger.Ledger
	gateway     PaymentGateway
	reconciler  *PaymentReconciler
	emailDomain string
}

// NewFundingService builds the funding flow. Checkouts without an email use
// <userID>@emailDomain, since the gateway requires one and users carry none.
func NewFundingService(l *ledger.Ledger, gw PaymentGateway, reconciler *PaymentReconciler, emailDomain string) *FundingService {
	return &FundingService{ledger: l, gateway: gw, reconciler: reconciler, emailDomain: emailDomain}
}

// Fund opens a PENDING funding transaction and a gateway checkout for it.
func (s *FundingService) Fund(ctx context.Context, userID string, req models.FundingRequest) (models.FundingResponse, error) {
	if req.Amount <= 0 {
		return models.FundingResponse{}, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	email, err := s.checkoutEmail(userID, req.Email)
	if err != nil {
		return models.FundingResponse{}, err
	}

	txn, err := s.ledger.Open(ctx, ledger.OpenParams{
		UserID:  userID,
		Kind:    models.KindFunding,
		Amount:  req.Amount,
		Details: map[string]any{"email": email},
	})
	if err != nil {
		return models.FundingResponse{}, err
	}

	session, err := s.gateway.Initialize(ctx, txn.Reference, email, req.Amount)
	if err != nil {
		if failErr := s.ledger.Fail(context.WithoutCancel(ctx), txn.ID, "gateway_unavailable", map[string]any{"error": err.Error()}); failErr != nil {
			log.Error().Err(failErr).Str("reference", txn.Reference).Msg("Error failing funding transaction")
		}
		return models.FundingResponse{}, fmt.Errorf("failed to initialize payment: %w", err)
	}

	log.Info().Str("reference", txn.Reference).Str("user", userID).Int64("amount", req.Amount).Msg("Funding initialized")
	return models.FundingResponse{
		Reference:        txn.Reference,
		AuthorizationURL: session.AuthorizationURL,
		AccessCode:       session.AccessCode,
	}, nil
}

func (s *FundingService) checkoutEmail(userID, email string) (string, error) {
	if email == "" {
		if s.emailDomain == "" {
			return "", &ValidationError{Field: "email", Message: "is required"}
		}
		email = userID + "@" + s.emailDomain
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", &ValidationError{Field: "email", Message: "must be a valid address"}
	}
	return email, nil
}

// Verify is the user-initiated poll for a funding reference.
func (s *FundingService) Verify(ctx context.Context, userID, reference string) (models.VerifyResponse, error) {
	txn, err := s.ledger.GetByReference(ctx, reference)
	if err != nil {
		return models.VerifyResponse{}, err
	}
	if txn.UserID != userID || txn.Kind != models.KindFunding {
		return models.VerifyResponse{}, ledger.ErrNotFound
	}

	if _, err := s.reconciler.Reconcile(ctx, reference, SourcePoll); err != nil {
		if errors.Is(err, ErrUnknownReference) {
			return models.VerifyResponse{}, ledger.ErrNotFound
		}
		return models.VerifyResponse{}, err
	}

	txn, err = s.ledger.GetByReference(ctx, reference)
	if err != nil {
		return models.VerifyResponse{}, err
	}
	resp := models.VerifyResponse{Reference: txn.Reference, Status: txn.Status}
	if balance, err := s.ledger.Balance(ctx, userID); err == nil {
		resp.NewBalance = &balance
	}
	return resp, nil
}

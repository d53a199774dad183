package vendors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"vtu-service/internal/models"
)

// VTPass integrates https://vtpass.com.
type VTPass struct {
	id     string
	creds  models.VTPassCredentials
	client *http.Client
}

func NewVTPass(cfg models.VendorConfig, client *http.Client) (Adapter, error) {
	if cfg.Credentials.VTPass == nil {
		return nil, errors.New("vtpass: missing credentials")
	}
	if err := cfg.Credentials.VTPass.Validate(); err != nil {
		return nil, err
	}
	creds := *cfg.Credentials.VTPass
	creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")
	return &VTPass{id: cfg.ID, creds: creds, client: client}, nil
}

type vtpassPayRequest struct {
	RequestID     string      `json:"request_id"`
	ServiceID     string      `json:"serviceID"`
	BillersCode   string      `json:"billersCode,omitempty"`
	VariationCode string      `json:"variation_code,omitempty"`
	Amount        json.Number `json:"amount,omitempty"`
	Phone         string      `json:"phone"`
}

type vtpassPayResponse struct {
	Code                string `json:"code"`
	ResponseDescription string `json:"response_description"`
	Content             struct {
		Transactions struct {
			Status        string `json:"status"`
			TransactionID string `json:"transactionId"`
		} `json:"transactions"`
	} `json:"content"`
}

// Response codes that mean the order was accepted.
var vtpassAccepted = map[string]bool{
	"000": true, // successful or pending delivery
	"099": true, // processing
}

// Response codes that are about the vendor, not the request.
var vtpassTransient = map[string]bool{
	"016": true, // transaction failed
	"018": true, // low wallet balance
	"021": true, // account locked
	"022": true, // account suspended
	"024": true, // account inactive
	"027": true, // service suspended
	"030": true, // biller not reachable
	"034": true, // service suspended
	"035": true, // service inactive
	"083": true, // system error
	"085": true, // invalid credentials
	"087": true, // invalid credentials
}

func (v *VTPass) serviceID(service models.ServiceType, params Params) string {
	network := strings.ToLower(params.Network)
	switch service {
	case models.ServiceData:
		return network + "-data"
	case models.ServiceExamPin:
		if network == "" {
			return "waec"
		}
		return network
	default:
		return network
	}
}

func (v *VTPass) Purchase(ctx context.Context, service models.ServiceType, params Params, amount int64) (PurchaseResult, error) {
	payload := vtpassPayRequest{
		RequestID:   params.Reference,
		ServiceID:   v.serviceID(service, params),
		BillersCode: params.Target,
		Phone:       params.Phone,
		Amount:      json.Number(nairaString(amount)),
	}
	if payload.Phone == "" {
		payload.Phone = params.Target
	}
	switch service {
	case models.ServiceElectricity:
		payload.VariationCode = params.MeterType
	case models.ServiceData, models.ServiceCable, models.ServiceExamPin:
		payload.VariationCode = params.PlanID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return PurchaseResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.creds.BaseURL+"/api/pay", bytes.NewReader(body))
	if err != nil {
		return PurchaseResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", v.creds.APIKey)
	req.Header.Set("secret-key", v.creds.SecretKey)

	raw, status, err := send(v.client, v.id, req)
	if err != nil {
		return PurchaseResult{}, err
	}

	var resp vtpassPayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return PurchaseResult{}, transient(v.id, fmt.Errorf("status %d, undecodable response: %w", status, err))
	}

	switch {
	case vtpassAccepted[resp.Code] && resp.Content.Transactions.Status != "failed":
		return PurchaseResult{ProviderReference: resp.Content.Transactions.TransactionID, Raw: raw}, nil
	case vtpassTransient[resp.Code]:
		return PurchaseResult{}, transient(v.id, fmt.Errorf("code %s: %s", resp.Code, resp.ResponseDescription))
	default:
		return PurchaseResult{}, rejected(v.id, resp.Code, resp.ResponseDescription)
	}
}

type vtpassVariationsResponse struct {
	Content struct {
		Variations []vtpassVariation `json:"variations"`
		// the API has shipped both spellings
		Varations []vtpassVariation `json:"varations"`
	} `json:"content"`
}

type vtpassVariation struct {
	Code   string `json:"variation_code"`
	Amount string `json:"variation_amount"`
}

func (v *VTPass) Quote(ctx context.Context, service models.ServiceType, params Params) (int64, error) {
	if params.PlanID == "" {
		return 0, rejected(v.id, "", "quote requires a plan")
	}

	q := url.Values{"serviceID": {v.serviceID(service, params)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.creds.BaseURL+"/api/service-variations?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("api-key", v.creds.APIKey)
	req.Header.Set("public-key", v.creds.PublicKey)

	raw, _, err := send(v.client, v.id, req)
	if err != nil {
		return 0, err
	}

	var resp vtpassVariationsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, transient(v.id, fmt.Errorf("undecodable variations: %w", err))
	}
	for _, variation := range append(resp.Content.Variations, resp.Content.Varations...) {
		if variation.Code == params.PlanID {
			return parseNaira(variation.Amount)
		}
	}
	return 0, rejected(v.id, "", fmt.Sprintf("unknown plan %q", params.PlanID))
}

type vtpassBalanceResponse struct {
	Code     json.Number `json:"code"`
	Contents struct {
		Balance json.Number `json:"balance"`
	} `json:"contents"`
}

func (v *VTPass) Balance(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.creds.BaseURL+"/api/balance", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("api-key", v.creds.APIKey)
	req.Header.Set("public-key", v.creds.PublicKey)

	raw, status, err := send(v.client, v.id, req)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, transient(v.id, fmt.Errorf("balance status %d: %s", status, truncate(raw)))
	}

	var resp vtpassBalanceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, transient(v.id, fmt.Errorf("undecodable balance: %w", err))
	}
	if resp.Code.String() != "1" {
		return 0, transient(v.id, fmt.Errorf("balance code %s", resp.Code))
	}
	return parseNaira(resp.Contents.Balance.String())
}

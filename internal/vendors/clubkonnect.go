package vendors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"vtu-service/internal/models"
)

// ClubKonnect integrates the Nellobytes/ClubKonnect query-string API.
type ClubKonnect struct {
	id     string
	creds  models.ClubKonnectCredentials
	client *http.Client
}

func NewClubKonnect(cfg models.VendorConfig, client *http.Client) (Adapter, error) {
	if cfg.Credentials.ClubKonnect == nil {
		return nil, errors.New("clubkonnect: missing credentials")
	}
	if err := cfg.Credentials.ClubKonnect.Validate(); err != nil {
		return nil, err
	}
	creds := *cfg.Credentials.ClubKonnect
	creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")
	return &ClubKonnect{id: cfg.ID, creds: creds, client: client}, nil
}

var clubKonnectNetworks = map[string]string{
	"mtn":      "01",
	"glo":      "02",
	"9mobile":  "03",
	"etisalat": "03",
	"airtel":   "04",
}

var clubKonnectAccepted = map[string]bool{
	"ORDER_RECEIVED":  true,
	"ORDER_COMPLETED": true,
	"ORDER_ONHOLD":    true,
}

var clubKonnectTransient = map[string]bool{
	"INSUFFICIENT_BALANCE": true,
	"INVALID_CREDENTIALS":  true,
	"MISSING_CREDENTIALS":  true,
	"MISSING_USERID":       true,
	"MISSING_APIKEY":       true,
	"SERVICE_UNAVAILABLE":  true,
	"SYSTEM_BUSY":          true,
}

type clubKonnectResponse struct {
	OrderID    string `json:"orderid"`
	StatusCode string `json:"statuscode"`
	Status     string `json:"status"`
}

func (c *ClubKonnect) endpoint(service models.ServiceType, params Params, amount int64) (string, url.Values, error) {
	q := url.Values{
		"UserID":    {c.creds.UserID},
		"APIKey":    {c.creds.APIKey},
		"RequestID": {params.Reference},
	}
	network := strings.ToLower(params.Network)

	switch service {
	case models.ServiceAirtime, models.ServiceData:
		code, ok := clubKonnectNetworks[network]
		if !ok {
			return "", nil, rejected(c.id, "INVALID_MOBILENETWORK", fmt.Sprintf("unsupported network %q", params.Network))
		}
		q.Set("MobileNetwork", code)
		q.Set("MobileNumber", params.Target)
		if service == models.ServiceAirtime {
			q.Set("Amount", nairaString(amount))
			return "/APIAirtimeV1.asp", q, nil
		}
		q.Set("DataPlan", params.PlanID)
		return "/APIDatabundleV1.asp", q, nil
	case models.ServiceElectricity:
		q.Set("ElectricCompany", network)
		q.Set("MeterType", params.MeterType)
		q.Set("MeterNo", params.Target)
		q.Set("Amount", nairaString(amount))
		q.Set("PhoneNo", params.Phone)
		return "/APIElectricityV1.asp", q, nil
	case models.ServiceCable:
		q.Set("CableTV", network)
		q.Set("Package", params.PlanID)
		q.Set("SmartCardNo", params.Target)
		q.Set("PhoneNo", params.Phone)
		return "/APICableTVV1.asp", q, nil
	case models.ServiceExamPin:
		q.Set("ExamType", params.PlanID)
		q.Set("PhoneNo", params.Target)
		return "/APIWAECV1.asp", q, nil
	default:
		return "", nil, rejected(c.id, "", fmt.Sprintf("unsupported service %s", service))
	}
}

func (c *ClubKonnect) Purchase(ctx context.Context, service models.ServiceType, params Params, amount int64) (PurchaseResult, error) {
	path, q, err := c.endpoint(service, params, amount)
	if err != nil {
		return PurchaseResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.creds.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return PurchaseResult{}, err
	}

	raw, status, err := send(c.client, c.id, req)
	if err != nil {
		return PurchaseResult{}, err
	}

	var resp clubKonnectResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return PurchaseResult{}, transient(c.id, fmt.Errorf("status %d, undecodable response: %w", status, err))
	}

	switch {
	case clubKonnectAccepted[resp.Status]:
		return PurchaseResult{ProviderReference: resp.OrderID, Raw: raw}, nil
	case clubKonnectTransient[resp.Status]:
		return PurchaseResult{}, transient(c.id, fmt.Errorf("status %s", resp.Status))
	default:
		return PurchaseResult{}, rejected(c.id, resp.StatusCode, resp.Status)
	}
}

type clubKonnectPlan struct {
	ID     string `json:"PRODUCT_ID"`
	Amount string `json:"PRODUCT_AMOUNT"`
}

type clubKonnectPlansResponse struct {
	MobileNetwork map[string][]struct {
		ID      string            `json:"ID"`
		Product []clubKonnectPlan `json:"PRODUCT"`
	} `json:"MOBILE_NETWORK"`
}

// Quote looks up the price of a data plan. Other services are priced by amount.
func (c *ClubKonnect) Quote(ctx context.Context, service models.ServiceType, params Params) (int64, error) {
	if service != models.ServiceData || params.PlanID == "" {
		return 0, rejected(c.id, "", "quote requires a data plan")
	}

	q := url.Values{"UserID": {c.creds.UserID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.creds.BaseURL+"/APIDatabundlePlansV2.asp?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	raw, _, err := send(c.client, c.id, req)
	if err != nil {
		return 0, err
	}

	var resp clubKonnectPlansResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, transient(c.id, fmt.Errorf("undecodable plans: %w", err))
	}
	code := clubKonnectNetworks[strings.ToLower(params.Network)]
	for _, networks := range resp.MobileNetwork {
		for _, n := range networks {
			if n.ID != code {
				continue
			}
			for _, plan := range n.Product {
				if plan.ID == params.PlanID {
					return parseNaira(plan.Amount)
				}
			}
		}
	}
	return 0, rejected(c.id, "", fmt.Sprintf("unknown plan %q", params.PlanID))
}

type clubKonnectBalanceResponse struct {
	Balance string `json:"balance"`
	Status  string `json:"status"`
}

func (c *ClubKonnect) Balance(ctx context.Context) (int64, error) {
	q := url.Values{"UserID": {c.creds.UserID}, "APIKey": {c.creds.APIKey}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.creds.BaseURL+"/APIWalletBalanceV1.asp?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	raw, _, err := send(c.client, c.id, req)
	if err != nil {
		return 0, err
	}

	var resp clubKonnectBalanceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, transient(c.id, fmt.Errorf("undecodable balance: %w", err))
	}
	if resp.Balance == "" {
		return 0, transient(c.id, fmt.Errorf("balance unavailable: %s", resp.Status))
	}
	return parseNaira(resp.Balance)
}

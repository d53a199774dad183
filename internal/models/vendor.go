package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ServiceType string

const (
	ServiceData        ServiceType = "DATA"
	ServiceAirtime     ServiceType = "AIRTIME"
	ServiceElectricity ServiceType = "ELECTRICITY"
	ServiceCable       ServiceType = "CABLE"
	ServiceExamPin     ServiceType = "EXAM_PIN"
)

// AllServiceTypes lists every service type in capability bit order.
var AllServiceTypes = []ServiceType{
	ServiceData,
	ServiceAirtime,
	ServiceElectricity,
	ServiceCable,
	ServiceExamPin,
}

func ParseServiceType(s string) (ServiceType, error) {
	st := ServiceType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllServiceTypes {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown service type %q", s)
}

// Capability is a bit set with one bit per ServiceType.
type Capability uint8

func CapabilityOf(services ...ServiceType) Capability {
	var c Capability
	for _, s := range services {
		c |= s.bit()
	}
	return c
}

func (c Capability) Has(s ServiceType) bool {
	b := s.bit()
	return b != 0 && c&b == b
}

func (s ServiceType) bit() Capability {
	for i, known := range AllServiceTypes {
		if s == known {
			return 1 << uint(i)
		}
	}
	return 0
}

// AdapterKind identifies one of the supplier integrations compiled into the binary.
type AdapterKind string

const (
	AdapterVTPass      AdapterKind = "vtpass"
	AdapterClubKonnect AdapterKind = "clubkonnect"
)

// VTPassCredentials authenticate against the VTpass API.
type VTPassCredentials struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	PublicKey string `yaml:"public_key"`
}

func (c *VTPassCredentials) Validate() error {
	var errs error
	if c.BaseURL == "" {
		errs = errors.Join(errs, errors.New("vtpass: base_url is required"))
	}
	if c.APIKey == "" {
		errs = errors.Join(errs, errors.New("vtpass: api_key is required"))
	}
	if c.SecretKey == "" {
		errs = errors.Join(errs, errors.New("vtpass: secret_key is required"))
	}
	if c.PublicKey == "" {
		errs = errors.Join(errs, errors.New("vtpass: public_key is required"))
	}
	return errs
}

// ClubKonnectCredentials authenticate against the ClubKonnect (Nellobytes) API.
type ClubKonnectCredentials struct {
	BaseURL string `yaml:"base_url"`
	UserID  string `yaml:"user_id"`
	APIKey  string `yaml:"api_key"`
}

func (c *ClubKonnectCredentials) Validate() error {
	var errs error
	if c.BaseURL == "" {
		errs = errors.Join(errs, errors.New("clubkonnect: base_url is required"))
	}
	if c.UserID == "" {
		errs = errors.Join(errs, errors.New("clubkonnect: user_id is required"))
	}
	if c.APIKey == "" {
		errs = errors.Join(errs, errors.New("clubkonnect: api_key is required"))
	}
	return errs
}

// Credentials holds exactly one adapter-specific credential set. The set that is
// populated must match the vendor's AdapterKind.
type Credentials struct {
	VTPass      *VTPassCredentials      `yaml:"vtpass,omitempty"`
	ClubKonnect *ClubKonnectCredentials `yaml:"clubkonnect,omitempty"`
}

func (c Credentials) Validate(kind AdapterKind) error {
	set := 0
	if c.VTPass != nil {
		set++
	}
	if c.ClubKonnect != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("expected exactly one credential set, got %d", set)
	}

	switch kind {
	case AdapterVTPass:
		if c.VTPass == nil {
			return errors.New("vtpass adapter requires vtpass credentials")
		}
		return c.VTPass.Validate()
	case AdapterClubKonnect:
		if c.ClubKonnect == nil {
			return errors.New("clubkonnect adapter requires clubkonnect credentials")
		}
		return c.ClubKonnect.Validate()
	default:
		return fmt.Errorf("unknown adapter %q", kind)
	}
}

// VendorConfig is the routing and health state for one supplier.
//
// Health fields (Healthy, Failures, CachedBalance, LastHealthCheck) are only
// written by the router failure path and the health monitor.
type VendorConfig struct {
	ID       string      `json:"id" yaml:"id"`
	Adapter  AdapterKind `json:"adapter" yaml:"adapter"`
	Enabled  bool        `json:"enabled" yaml:"enabled"`
	Priority int         `json:"priority" yaml:"priority"`
	// Postpaid vendors bill us in arrears, so their float is not checked before routing.
	Postpaid     bool          `json:"postpaid" yaml:"postpaid"`
	Services     []ServiceType `json:"services" yaml:"services"`
	Capabilities Capability    `json:"-" yaml:"-"`
	Credentials  Credentials   `json:"-" yaml:"credentials"`

	CachedBalance   int64     `json:"cachedBalance" yaml:"-"`
	Healthy         bool      `json:"healthy" yaml:"-"`
	Failures        int       `json:"failures" yaml:"-"`
	LastHealthCheck time.Time `json:"lastHealthCheck" yaml:"-"`
}

func (v VendorConfig) Supports(s ServiceType) bool {
	return v.Capabilities.Has(s)
}

package model

import (
	"fmt"
	"strings"
)

// SignerType is the role of the person signing a contract
type SignerType string

const (
	SignerTenant  SignerType = "tenant"
	SignerOwner   SignerType = "owner"
	SignerAgency  SignerType = "agency"
	SignerWitness SignerType = "witness"
)

// ParseSignerType validates a signer type as sent by the API
func ParseSignerType(s string) (SignerType, error) {
	switch t := SignerType(strings.ToLower(strings.TrimSpace(s))); t {
	case SignerTenant, SignerOwner, SignerAgency, SignerWitness:
		return t, nil
	}
	return "", fmt.Errorf("unknown signer type %q", s)
}

// IsWitness reports whether witness identity fields are mandatory
func (t SignerType) IsWitness() bool {
	return t == SignerWitness
}

// Party is one of the contract parties shown to the signer
type Party struct {
	Role  string `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Property is the rented property shown to the signer
type Property struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
}

// SigningPackage identifies a pending signature request. It is read-only
// on the client side.
type SigningPackage struct {
	LinkToken     string     `json:"linkToken"`
	SignerType    SignerType `json:"signerType"`
	SignerName    string     `json:"signerName"`
	SignerEmail   string     `json:"signerEmail"`
	ContractToken string     `json:"contractToken"`
	Property      Property   `json:"property"`
	Parties       []Party    `json:"parties,omitempty"`
	StartDate     string     `json:"startDate,omitempty"`
	EndDate       string     `json:"endDate,omitempty"`
	MonthlyRent   float64    `json:"monthlyRent,omitempty"`
}

// SigningSubmission is the write-once payload posted for a link token
type SigningSubmission struct {
	Signature       string  `json:"signature"`
	GeoLat          float64 `json:"geoLat"`
	GeoLng          float64 `json:"geoLng"`
	GeoConsent      bool    `json:"geoConsent"`
	WitnessName     string  `json:"witnessName,omitempty"`
	WitnessDocument string  `json:"witnessDocument,omitempty"`
}

// SubmitResult is returned by the API after a successful submission
type SubmitResult struct {
	ContractToken string `json:"contractToken"`
}

// Flow status constants
const (
	StatusLoading   = "loading"
	StatusReady     = "ready"
	StatusFailed    = "failed"
	StatusSubmitted = "submitted"
)

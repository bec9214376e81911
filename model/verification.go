package model

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DocumentType identifies the kind of document behind a public token
type DocumentType string

const (
	DocumentAuto         DocumentType = "AUTO"
	DocumentContract     DocumentType = "CONTRACT"
	DocumentAgreement    DocumentType = "AGREEMENT"
	DocumentInspection   DocumentType = "INSPECTION"
	DocumentNotification DocumentType = "EXTRAJUDICIAL_NOTIFICATION"
)

// DocumentTypes lists every explicit document type
var DocumentTypes = []DocumentType{
	DocumentContract,
	DocumentAgreement,
	DocumentInspection,
	DocumentNotification,
}

// ParseDocumentType accepts any case. Empty input means AUTO.
func ParseDocumentType(s string) (DocumentType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == string(DocumentAuto) {
		return DocumentAuto, nil
	}
	for _, t := range DocumentTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown document type %q", s)
}

// QueryValue returns the ?type= value; AUTO leaves detection to the server.
func (t DocumentType) QueryValue() string {
	if t == DocumentAuto || t == "" {
		return ""
	}
	return string(t)
}

// VerificationResult is returned by every verification call
type VerificationResult struct {
	Valid        bool            `json:"valid"`
	Message      string          `json:"message"`
	DocumentType DocumentType    `json:"documentType,omitempty"`
	Token        string          `json:"token,omitempty"`
	Hash         string          `json:"hash,omitempty"`
	StoredHash   string          `json:"storedHash,omitempty"`
	ComputedHash string          `json:"computedHash,omitempty"`
	Status       string          `json:"status,omitempty"`
	CreatedAt    string          `json:"createdAt,omitempty"`
	SignedAt     string          `json:"signedAt,omitempty"`
	Details      map[string]bool `json:"details,omitempty"`
}

// IsMismatch reports a verified negative comparison, as opposed to a
// document that simply is not valid yet.
func (r *VerificationResult) IsMismatch() bool {
	return r != nil && !r.Valid && r.StoredHash != "" && r.ComputedHash != ""
}

// Clone returns a deep copy of r, or nil
func (r *VerificationResult) Clone() *VerificationResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Details = maps.Clone(r.Details)
	return &c
}

// ParseTimestamp parses API timestamps, which arrive in mixed layouts.
// Zone-less values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	return dateparse.ParseIn(s, time.UTC)
}

package signing

import (
	"strings"

	"github.com/AnTengye/contractsign/model"
)

// Precondition names one requirement of a signing submission
type Precondition string

const (
	NeedSignature       Precondition = "signature"
	NeedGeoConsent      Precondition = "geo_consent"
	NeedLocation        Precondition = "location"
	NeedWitnessName     Precondition = "witness_name"
	NeedWitnessDocument Precondition = "witness_document"
)

var preconditionMessages = map[Precondition]string{
	NeedSignature:       "Draw your signature before submitting.",
	NeedGeoConsent:      "Consent to location capture before submitting.",
	NeedLocation:        "Your location has not been obtained yet.",
	NeedWitnessName:     "Enter the witness's full name.",
	NeedWitnessDocument: "Enter the witness's document number.",
}

// Message is the user-facing text for p
func (p Precondition) Message() string {
	return preconditionMessages[p]
}

// Gate is an immutable snapshot of everything submission depends on
type Gate struct {
	Signature       string
	Consent         bool
	HasLocation     bool
	SignerType      model.SignerType
	WitnessName     string
	WitnessDocument string
}

// Unmet lists every precondition g does not satisfy, in a fixed order
func Unmet(g Gate) []Precondition {
	var unmet []Precondition
	if g.Signature == "" {
		unmet = append(unmet, NeedSignature)
	}
	if !g.Consent {
		unmet = append(unmet, NeedGeoConsent)
	}
	if !g.HasLocation {
		unmet = append(unmet, NeedLocation)
	}
	if g.SignerType.IsWitness() {
		if strings.TrimSpace(g.WitnessName) == "" {
			unmet = append(unmet, NeedWitnessName)
		}
		if strings.TrimSpace(g.WitnessDocument) == "" {
			unmet = append(unmet, NeedWitnessDocument)
		}
	}
	return unmet
}

// CanSubmit is true iff the signature is present, consent was given, a
// location was obtained and, for witnesses, both witness fields are filled.
func CanSubmit(g Gate) bool {
	return len(Unmet(g)) == 0
}

// GateError is returned by Submit when a precondition no longer holds
type GateError struct {
	Unmet []Precondition
}

func (e *GateError) Error() string {
	names := make([]string, len(e.Unmet))
	for i, p := range e.Unmet {
		names[i] = string(p)
	}
	return "signing: preconditions not met: " + strings.Join(names, ", ")
}

// Message names exactly which preconditions are unmet
func (e *GateError) Message() string {
	msgs := make([]string, len(e.Unmet))
	for i, p := range e.Unmet {
		msgs[i] = p.Message()
	}
	return strings.Join(msgs, " ")
}

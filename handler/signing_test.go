package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/AnTengye/contractsign/geo"
	"github.com/AnTengye/contractsign/model"
	"github.com/AnTengye/contractsign/signing"
)

const testSignature = "data:image/png;base64,iVBORw0KGgo="

func openSigning(t *testing.T, p *testPortal, link string) (string, signing.Snapshot) {
	t.Helper()
	w := p.do(http.MethodPost, "/api/signing/sessions", "", CreateSigningRequest{LinkToken: link})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var env sessionEnvelope
	decode(t, w, &env)
	if env.SessionToken == "" || env.SessionID == "" {
		t.Fatal("Expected session id and token")
	}

	var snap signing.Snapshot
	if err := json.Unmarshal(env.Session, &snap); err != nil {
		t.Fatalf("Failed to parse session: %v", err)
	}
	return env.SessionToken, snap
}

func TestSigningHappyPath(t *testing.T) {
	p := newTestPortal(t)
	token, snap := openSigning(t, p, "link-ok")

	if snap.Status != model.StatusReady {
		t.Fatalf("Expected ready, got %s", snap.Status)
	}
	if snap.Package == nil || snap.Package.SignerName != "Ana Souza" {
		t.Errorf("Expected package to be returned, got %+v", snap.Package)
	}
	if snap.CanSubmit {
		t.Error("Expected submit to be disabled before capture")
	}

	// Submitting early reports what is missing and never reaches the API
	w := p.do(http.MethodPost, "/api/signing/session/submit", token, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", w.Code)
	}
	if len(p.mock.submitted()) != 0 {
		t.Fatal("Expected no submission while preconditions are unmet")
	}

	w = p.do(http.MethodPost, "/api/signing/session/signature", token, SignatureRequest{Signature: testSignature})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	w = p.do(http.MethodPost, "/api/signing/session/consent", token, ConsentRequest{
		Consent:  true,
		Position: &geo.Position{Lat: -23.5505, Lng: -46.6333, Accuracy: 10},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	decode(t, w, &snap)
	if snap.Geo.Status != signing.GeoLocated {
		t.Fatalf("Expected located, got %+v", snap.Geo)
	}
	if !snap.CanSubmit {
		t.Fatalf("Expected submit to be enabled, unmet %v", snap.Unmet)
	}

	w = p.do(http.MethodPost, "/api/signing/session/submit", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &snap)
	if snap.Status != model.StatusSubmitted {
		t.Errorf("Expected submitted, got %s", snap.Status)
	}
	if snap.VerifyURL != "/verify?token=MR3X-CTR-2024-0001" {
		t.Errorf("Unexpected verify url %q", snap.VerifyURL)
	}
	if snap.RedirectDelayMs != 2000 {
		t.Errorf("Expected redirect delay 2000ms, got %d", snap.RedirectDelayMs)
	}

	subs := p.mock.submitted()
	if len(subs) != 1 {
		t.Fatalf("Expected 1 submission, got %d", len(subs))
	}
	if subs[0].Signature != testSignature || !subs[0].GeoConsent || subs[0].GeoLat != -23.5505 || subs[0].GeoLng != -46.6333 {
		t.Errorf("Unexpected submission %+v", subs[0])
	}
	if subs[0].WitnessName != "" {
		t.Error("Expected no witness fields for a tenant")
	}

	// The captured location is available to later pages
	w = p.do(http.MethodGet, "/api/signing/session/handoff", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var handoff map[string]any
	decode(t, w, &handoff)
	if handoff["lat"] != -23.5505 {
		t.Errorf("Unexpected handoff %v", handoff)
	}

	// Nothing is editable after submission
	w = p.do(http.MethodPost, "/api/signing/session/signature", token, SignatureRequest{Signature: testSignature})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
	w = p.do(http.MethodPost, "/api/signing/session/submit", token, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 on resubmit, got %d", w.Code)
	}
}

func TestSigningUnavailableLink(t *testing.T) {
	p := newTestPortal(t)

	w := p.do(http.MethodPost, "/api/signing/sessions", "", CreateSigningRequest{LinkToken: "link-used"})
	if w.Code != http.StatusGone {
		t.Fatalf("Expected status 410, got %d", w.Code)
	}
	var body map[string]string
	decode(t, w, &body)
	if body["error"] != "This signing link has already been used" {
		t.Errorf("Expected server message, got %q", body["error"])
	}
	if body["status"] != model.StatusFailed {
		t.Errorf("Expected failed status, got %q", body["status"])
	}
	if p.sessions.Count() != 0 {
		t.Error("Expected no session for an unusable link")
	}

	w = p.do(http.MethodPost, "/api/signing/sessions", "", CreateSigningRequest{LinkToken: "link-unknown"})
	decode(t, w, &body)
	if w.Code != http.StatusNotFound || body["error"] == "" {
		t.Errorf("Expected 404 with a fallback message, got %d %q", w.Code, body["error"])
	}
}

func TestSigningCreateRequiresLink(t *testing.T) {
	p := newTestPortal(t)

	w := p.do(http.MethodPost, "/api/signing/sessions", "", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestSigningWitnessFields(t *testing.T) {
	p := newTestPortal(t)
	token, snap := openSigning(t, p, "link-witness")
	if !snap.WitnessRequired {
		t.Fatal("Expected witness fields to be required")
	}

	p.do(http.MethodPost, "/api/signing/session/signature", token, SignatureRequest{Signature: testSignature})
	p.do(http.MethodPost, "/api/signing/session/consent", token, ConsentRequest{Consent: true, Position: &geo.Position{Lat: 1, Lng: 2}})

	w := p.do(http.MethodPost, "/api/signing/session/submit", token, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", w.Code)
	}
	var gate struct {
		Error string                 `json:"error"`
		Unmet []signing.Precondition `json:"unmet"`
	}
	decode(t, w, &gate)
	if len(gate.Unmet) != 2 || gate.Unmet[0] != signing.NeedWitnessName || gate.Unmet[1] != signing.NeedWitnessDocument {
		t.Errorf("Unexpected unmet %v", gate.Unmet)
	}

	p.do(http.MethodPost, "/api/signing/session/witness", token, WitnessRequest{Name: " Carlos Lima ", Document: "123.456.789-00"})
	w = p.do(http.MethodPost, "/api/signing/session/submit", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	subs := p.mock.submitted()
	if len(subs) != 1 || subs[0].WitnessName != "Carlos Lima" || subs[0].WitnessDocument != "123.456.789-00" {
		t.Errorf("Unexpected submission %+v", subs)
	}
}

func TestSigningConsentDenied(t *testing.T) {
	p := newTestPortal(t)
	token, _ := openSigning(t, p, "link-ok")

	w := p.do(http.MethodPost, "/api/signing/session/consent", token, ConsentRequest{Consent: true, ErrorCode: geo.CodePermissionDenied})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var snap signing.Snapshot
	decode(t, w, &snap)
	if snap.Geo.Status != signing.GeoFailed {
		t.Fatalf("Expected failed, got %+v", snap.Geo)
	}
	if snap.Geo.Message != geo.FromCode(geo.CodePermissionDenied).Message {
		t.Errorf("Unexpected message %q", snap.Geo.Message)
	}

	// No request is pending after a failure, so a late report is refused
	w = p.do(http.MethodPost, "/api/signing/session/location", token, geo.Report{Position: &geo.Position{Lat: 1, Lng: 2}})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}

	// Revoking and granting again retries through the location endpoint
	p.do(http.MethodPost, "/api/signing/session/consent", token, ConsentRequest{Consent: false})
	w = p.do(http.MethodPost, "/api/signing/session/consent", token, ConsentRequest{Consent: true})
	decode(t, w, &snap)
	if snap.Geo.Status != signing.GeoLoading {
		t.Fatalf("Expected loading, got %+v", snap.Geo)
	}

	w = p.do(http.MethodPost, "/api/signing/session/location", token, geo.Report{Position: &geo.Position{Lat: 1, Lng: 2}})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	decode(t, w, &snap)
	if snap.Geo.Status != signing.GeoLocated {
		t.Errorf("Expected located, got %+v", snap.Geo)
	}
}

func TestSigningSessionClosed(t *testing.T) {
	p := newTestPortal(t)
	token, _ := openSigning(t, p, "link-ok")

	w := p.do(http.MethodDelete, "/api/signing/session", token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}

	w = p.do(http.MethodGet, "/api/signing/session", token, nil)
	if w.Code != http.StatusGone {
		t.Errorf("Expected status 410, got %d", w.Code)
	}
}

func TestSigningHandoffBeforeLocation(t *testing.T) {
	p := newTestPortal(t)
	token, _ := openSigning(t, p, "link-ok")

	w := p.do(http.MethodGet, "/api/signing/session/handoff", token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

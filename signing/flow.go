// Package signing drives a single signer through capture, validation,
// submission and the redirect to the verification page.
package signing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AnTengye/contractsign/geo"
	"github.com/AnTengye/contractsign/model"
	"github.com/AnTengye/contractsign/pkg/logger"
)

var (
	ErrLinkUnavailable  = errors.New("signing: link is invalid, expired or already used")
	ErrNotReady         = errors.New("signing: package not loaded")
	ErrAlreadyLoaded    = errors.New("signing: package already loaded")
	ErrAlreadySubmitted = errors.New("signing: already submitted")
	ErrSubmitInFlight   = errors.New("signing: submission in progress")
	ErrClosed           = errors.New("signing: flow closed")
)

const (
	linkFallbackMessage   = "This signing link is invalid or has expired. Ask the sender for a new link."
	submitFallbackMessage = "Could not submit your signature. Please try again."
)

// API is the part of the MR3X API the flow calls
type API interface {
	GetSigningPackage(ctx context.Context, linkToken string) (*model.SigningPackage, error)
	SubmitSignature(ctx context.Context, linkToken string, sub model.SigningSubmission) (*model.SubmitResult, error)
}

// Navigator moves the page to another URL
type Navigator interface {
	Navigate(target string)
}

// NavigatorFunc adapts a function to the Navigator interface
type NavigatorFunc func(target string)

func (f NavigatorFunc) Navigate(target string) { f(target) }

// GeoHandoff receives the geolocation snapshot for reuse by later pages
type GeoHandoff interface {
	Put(key string, snap model.GeoSnapshot)
}

// Options configures a Flow. Zero values are usable except Locator.
type Options struct {
	Locator       geo.Locator
	Locate        geo.Options
	RedirectDelay time.Duration
	VerifyPageURL string
	Navigator     Navigator
	Handoff       GeoHandoff
	Now           func() time.Time
}

// GeoStatus is the tri-state of the device position request
type GeoStatus string

const (
	GeoIdle    GeoStatus = "idle"
	GeoLoading GeoStatus = "loading"
	GeoLocated GeoStatus = "located"
	GeoFailed  GeoStatus = "failed"
)

// GeoState is what the page shows about the location request
type GeoState struct {
	Status  GeoStatus `json:"status"`
	Lat     float64   `json:"lat,omitempty"`
	Lng     float64   `json:"lng,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Snapshot is an immutable view of a Flow
type Snapshot struct {
	Status          string                `json:"status"`
	Package         *model.SigningPackage `json:"package,omitempty"`
	Error           string                `json:"error,omitempty"`
	HasSignature    bool                  `json:"hasSignature"`
	Consent         bool                  `json:"geoConsent"`
	Geo             GeoState              `json:"geo"`
	WitnessRequired bool                  `json:"witnessRequired"`
	WitnessName     string                `json:"witnessName,omitempty"`
	WitnessDocument string                `json:"witnessDocument,omitempty"`
	CanSubmit       bool                  `json:"canSubmit"`
	Unmet           []Precondition        `json:"unmet,omitempty"`
	Submitting      bool                  `json:"submitting"`
	SubmitError     string                `json:"submitError,omitempty"`
	ContractToken   string                `json:"contractToken,omitempty"`
	VerifyURL       string                `json:"verifyUrl,omitempty"`
	RedirectDelayMs int64                 `json:"redirectDelayMs,omitempty"`
	RedirectTo      string                `json:"redirectTo,omitempty"`
}

// Flow is the per-page signing controller. It is safe for concurrent use.
type Flow struct {
	api       API
	linkToken string
	opts      Options

	mu     sync.Mutex
	closed bool
	status string
	pkg    *model.SigningPackage
	err    string

	signature       string
	consent         bool
	witnessName     string
	witnessDocument string

	position     geo.Position
	hasLocation  bool
	geoErr       string
	locating     bool
	locateGen    int
	geoDone      chan struct{}
	cancelLocate context.CancelFunc

	submitting    bool
	submitErr     string
	contractToken string
	verifyTarget  string
	redirectTo    string
	redirectTimer *time.Timer
}

func NewFlow(api API, linkToken string, opts Options) *Flow {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.VerifyPageURL == "" {
		opts.VerifyPageURL = "/verify"
	}
	return &Flow{
		api:       api,
		linkToken: linkToken,
		opts:      opts,
		status:    model.StatusLoading,
	}
}

// LinkToken returns the invitation token the flow was created for
func (f *Flow) LinkToken() string {
	return f.linkToken
}

// Load fetches the signing package. A failure is terminal for the flow.
func (f *Flow) Load(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.status != model.StatusLoading {
		f.mu.Unlock()
		return ErrAlreadyLoaded
	}
	f.mu.Unlock()

	pkg, err := f.api.GetSigningPackage(ctx, f.linkToken)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err != nil {
		f.status = model.StatusFailed
		f.err = model.UserMessage(err, linkFallbackMessage)
		logger.Warn(ctx, "signing package unavailable", "error", err)
		return fmt.Errorf("%w: %w", ErrLinkUnavailable, err)
	}

	if t, perr := model.ParseSignerType(string(pkg.SignerType)); perr == nil {
		pkg.SignerType = t
	} else {
		logger.Warn(ctx, "unexpected signer type", "signer_type", pkg.SignerType)
	}
	f.pkg = pkg
	f.status = model.StatusReady
	logger.Info(ctx, "signing package loaded",
		"signer_type", pkg.SignerType,
		"contract_token", pkg.ContractToken,
	)
	return nil
}

// SetSignature records the captured signature. An empty value clears it.
func (f *Flow) SetSignature(signature string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.editableLocked(); err != nil {
		return err
	}
	f.signature = strings.TrimSpace(signature)
	f.submitErr = ""
	return nil
}

// SetWitness records the witness identity fields
func (f *Flow) SetWitness(name, document string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.editableLocked(); err != nil {
		return err
	}
	f.witnessName = name
	f.witnessDocument = document
	f.submitErr = ""
	return nil
}

// SetConsent handles the consent toggle. Granting consent with no location
// and no previous error starts exactly one position request; revoking it
// cancels a request in flight and clears the error so the next grant
// retries. Failed requests are never retried automatically.
func (f *Flow) SetConsent(ctx context.Context, consent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.editableLocked(); err != nil {
		return err
	}

	f.consent = consent
	if !consent {
		f.geoErr = ""
		if f.locating {
			f.cancelLocate()
			f.locateGen++
			f.locating = false
		}
		return nil
	}

	if f.hasLocation || f.geoErr != "" || f.locating {
		return nil
	}
	f.startLocateLocked(ctx)
	return nil
}

func (f *Flow) startLocateLocked(ctx context.Context) {
	if f.opts.Locator == nil {
		f.geoErr = geo.Message(geo.FromCode(geo.CodePositionUnavailable))
		return
	}

	lctx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if f.opts.Locate.Timeout > 0 {
		lctx, cancel = context.WithTimeout(lctx, f.opts.Locate.Timeout)
	} else {
		lctx, cancel = context.WithCancel(lctx)
	}

	f.locateGen++
	gen := f.locateGen
	done := make(chan struct{})
	f.geoDone = done
	f.locating = true
	f.cancelLocate = cancel

	go f.locate(lctx, cancel, gen, done)
}

func (f *Flow) locate(ctx context.Context, cancel context.CancelFunc, gen int, done chan struct{}) {
	defer close(done)
	defer cancel()

	pos, err := f.opts.Locator.Locate(ctx, f.opts.Locate)

	f.mu.Lock()
	if f.closed || gen != f.locateGen {
		f.mu.Unlock()
		return
	}
	f.locating = false
	if err == nil && !pos.Valid() {
		err = geo.ErrInvalidPosition
	}
	if err != nil {
		f.geoErr = geo.Message(err)
		f.mu.Unlock()
		logger.Warn(ctx, "geolocation failed", "error", err)
		return
	}
	f.position = pos
	f.hasLocation = true
	snap := model.GeoSnapshot{Lat: pos.Lat, Lng: pos.Lng, Accuracy: pos.Accuracy, CapturedAt: f.opts.Now()}
	handoff := f.opts.Handoff
	f.mu.Unlock()

	logger.Info(ctx, "geolocation obtained", "accuracy", pos.Accuracy)
	if handoff != nil {
		handoff.Put(f.linkToken, snap)
	}
}

// AwaitLocation blocks until no position request is in flight
func (f *Flow) AwaitLocation(ctx context.Context) (GeoState, error) {
	f.mu.Lock()
	done, locating := f.geoDone, f.locating
	f.mu.Unlock()

	if locating && done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return f.Snapshot().Geo, ctx.Err()
		}
	}
	return f.Snapshot().Geo, nil
}

// Submit re-checks every precondition, posts the submission and on success
// schedules the redirect to the verification page. On failure all captured
// state is kept for correction.
func (f *Flow) Submit(ctx context.Context) (*model.SubmitResult, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	switch {
	case f.status == model.StatusSubmitted:
		f.mu.Unlock()
		return nil, ErrAlreadySubmitted
	case f.status != model.StatusReady:
		f.mu.Unlock()
		return nil, ErrNotReady
	case f.submitting:
		f.mu.Unlock()
		return nil, ErrSubmitInFlight
	}

	if unmet := Unmet(f.gateLocked()); len(unmet) > 0 {
		gateErr := &GateError{Unmet: unmet}
		f.submitErr = gateErr.Message()
		f.mu.Unlock()
		return nil, gateErr
	}

	sub := model.SigningSubmission{
		Signature:  f.signature,
		GeoLat:     f.position.Lat,
		GeoLng:     f.position.Lng,
		GeoConsent: f.consent,
	}
	if f.pkg.SignerType.IsWitness() {
		sub.WitnessName = strings.TrimSpace(f.witnessName)
		sub.WitnessDocument = strings.TrimSpace(f.witnessDocument)
	}
	f.submitting = true
	f.submitErr = ""
	f.mu.Unlock()

	res, err := f.api.SubmitSignature(ctx, f.linkToken, sub)

	f.mu.Lock()
	f.submitting = false
	if f.closed {
		f.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	if err != nil {
		f.submitErr = model.UserMessage(err, submitFallbackMessage)
		f.mu.Unlock()
		logger.Warn(ctx, "signature submission failed", "error", err)
		return nil, fmt.Errorf("submit signature: %w", err)
	}

	f.status = model.StatusSubmitted
	f.contractToken = res.ContractToken
	target := f.verifyURL(res.ContractToken)
	f.verifyTarget = target
	immediate := f.opts.RedirectDelay <= 0
	if immediate {
		f.redirectTo = target
	} else {
		f.redirectTimer = time.AfterFunc(f.opts.RedirectDelay, func() { f.navigate(target) })
	}
	nav := f.opts.Navigator
	f.mu.Unlock()

	logger.Info(ctx, "signature submitted", "contract_token", res.ContractToken)
	if immediate && nav != nil {
		nav.Navigate(target)
	}
	return res, nil
}

func (f *Flow) navigate(target string) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.redirectTo = target
	nav := f.opts.Navigator
	f.mu.Unlock()

	if nav != nil {
		nav.Navigate(target)
	}
}

func (f *Flow) verifyURL(contractToken string) string {
	u, err := url.Parse(f.opts.VerifyPageURL)
	if err != nil {
		return f.opts.VerifyPageURL + "?token=" + url.QueryEscape(contractToken)
	}
	q := u.Query()
	q.Set("token", contractToken)
	u.RawQuery = q.Encode()
	return u.String()
}

// Close abandons the flow: no state changes after it returns, a position
// request in flight is cancelled and a pending redirect is dropped.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if f.cancelLocate != nil {
		f.cancelLocate()
	}
	if f.redirectTimer != nil {
		f.redirectTimer.Stop()
	}
}

// Snapshot returns the current state of the flow
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Snapshot{
		Status:          f.status,
		Error:           f.err,
		HasSignature:    f.signature != "",
		Consent:         f.consent,
		Geo:             f.geoStateLocked(),
		WitnessName:     f.witnessName,
		WitnessDocument: f.witnessDocument,
		Submitting:      f.submitting,
		SubmitError:     f.submitErr,
		ContractToken:   f.contractToken,
		VerifyURL:       f.verifyTarget,
		RedirectTo:      f.redirectTo,
	}
	if f.verifyTarget != "" && f.opts.RedirectDelay > 0 {
		s.RedirectDelayMs = f.opts.RedirectDelay.Milliseconds()
	}
	if f.pkg != nil {
		pkg := *f.pkg
		s.Package = &pkg
		s.WitnessRequired = pkg.SignerType.IsWitness()
	}
	if f.status == model.StatusReady {
		s.Unmet = Unmet(f.gateLocked())
		s.CanSubmit = len(s.Unmet) == 0 && !f.submitting
	}
	return s
}

func (f *Flow) gateLocked() Gate {
	g := Gate{
		Signature:       f.signature,
		Consent:         f.consent,
		HasLocation:     f.hasLocation,
		WitnessName:     f.witnessName,
		WitnessDocument: f.witnessDocument,
	}
	if f.pkg != nil {
		g.SignerType = f.pkg.SignerType
	}
	return g
}

func (f *Flow) geoStateLocked() GeoState {
	switch {
	case f.hasLocation:
		return GeoState{Status: GeoLocated, Lat: f.position.Lat, Lng: f.position.Lng}
	case f.locating:
		return GeoState{Status: GeoLoading}
	case f.geoErr != "":
		return GeoState{Status: GeoFailed, Message: f.geoErr}
	}
	return GeoState{Status: GeoIdle}
}

func (f *Flow) editableLocked() error {
	switch {
	case f.closed:
		return ErrClosed
	case f.status == model.StatusSubmitted:
		return ErrAlreadySubmitted
	case f.status != model.StatusReady:
		return ErrNotReady
	}
	return nil
}

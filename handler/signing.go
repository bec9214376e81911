package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/AnTengye/contractsign/config"
	"github.com/AnTengye/contractsign/geo"
	"github.com/AnTengye/contractsign/pkg/logger"
	"github.com/AnTengye/contractsign/service"
	"github.com/AnTengye/contractsign/signing"
	"github.com/gin-gonic/gin"
)

// deliverWait bounds how long a posted position waits for the flow's
// request to pick it up.
const deliverWait = 2 * time.Second

type SigningHandler struct {
	api      signing.API
	sessions *service.SessionStore
	handoff  *service.HandoffStore
	config   *config.Config
}

func NewSigningHandler(api signing.API, sessions *service.SessionStore, handoff *service.HandoffStore, cfg *config.Config) *SigningHandler {
	return &SigningHandler{
		api:      api,
		sessions: sessions,
		handoff:  handoff,
		config:   cfg,
	}
}

type CreateSigningRequest struct {
	LinkToken string `json:"linkToken" binding:"required"`
}

type SignatureRequest struct {
	Signature string `json:"signature"`
}

type WitnessRequest struct {
	Name     string `json:"name"`
	Document string `json:"document"`
}

// ConsentRequest toggles geolocation consent. When granting, the page may
// include the outcome of its position request right away.
type ConsentRequest struct {
	Consent   bool          `json:"consent"`
	Position  *geo.Position `json:"position,omitempty"`
	ErrorCode int           `json:"errorCode,omitempty"`
}

func (r ConsentRequest) report() (geo.Report, bool) {
	if r.Position == nil && r.ErrorCode == 0 {
		return geo.Report{}, false
	}
	return geo.Report{Position: r.Position, ErrorCode: r.ErrorCode}, true
}

// Create loads the signing package for a link token and opens a page
// session for it. A link that cannot be loaded opens no session.
func (h *SigningHandler) Create(c *gin.Context) {
	var req CreateSigningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	relay := geo.NewRelay()
	flow := signing.NewFlow(h.api, req.LinkToken, signing.Options{
		Locator: relay,
		Locate: geo.Options{
			HighAccuracy: h.config.Signing.HighAccuracy,
			Timeout:      h.config.Signing.LocateTimeout(),
		},
		RedirectDelay: h.config.Signing.RedirectDelay(),
		VerifyPageURL: h.config.Signing.VerifyPageURL,
		Handoff:       h.handoff,
	})

	if err := flow.Load(c.Request.Context()); err != nil {
		snap := flow.Snapshot()
		flow.Close()
		c.JSON(upstreamStatus(err), gin.H{"error": snap.Error, "status": snap.Status})
		return
	}

	p := h.sessions.AddFlow(flow, relay)
	logger.Info(logger.WithSession(c.Request.Context(), p.ID, p.Kind), "signing session opened")
	issueSession(c, &h.config.Session, p, http.StatusCreated, flow.Snapshot())
}

// Get returns the current flow state
func (h *SigningHandler) Get(c *gin.Context) {
	p := pageSession(c, h.sessions, service.KindSigning)
	if p == nil {
		return
	}
	c.JSON(http.StatusOK, p.Flow.Snapshot())
}

func (h *SigningHandler) SetSignature(c *gin.Context) {
	p := pageSession(c, h.sessions, service.KindSigning)
	if p == nil {
		return
	}

	var req SignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := p.Flow.SetSignature(req.Signature); err != nil {
		flowError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Flow.Snapshot())
}

func (h *SigningHandler) SetWitness(c *gin.Context) {
	p := pageSession(c, h.sessions, service.KindSigning)
	if p == nil {
		return
	}

	var req WitnessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := p.Flow.SetWitness(req.Name, req.Document); err != nil {
		flowError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Flow.Snapshot())
}

// SetConsent toggles consent. Granting it starts one position request
// that the page answers here or through ReportLocation.
func (h *SigningHandler) SetConsent(c *gin.Context) {
	p := pageSession(c, h.sessions, service.KindSigning)
	if p == nil {
		return
	}

	var req ConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := p.Flow.SetConsent(c.Request.Context(), req.Consent); err != nil {
		flowError(c, err)
		return
	}

	if rep, ok := req.report(); ok && req.Consent && p.Flow.Snapshot().Geo.Status == signing.GeoLoading {
		h.deliver(c.Request.Context(), p, rep)
	}
	c.JSON(http.StatusOK, p.Flow.Snapshot())
}

// ReportLocation passes the page's position result to the request in flight
func (h *SigningHandler) ReportLocation(c *gin.Context) {
	p := pageSession(c, h.sessions, service.KindSigning)
	if p == nil {
		return
	}

	var rep geo.Report
	if err := c.ShouldBindJSON(&rep); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if p.Flow.Snapshot().Geo.Status != signing.GeoLoading {
		c.JSON(http.StatusConflict, gin.H{"error": "No location request is pending. Enable consent first."})
		return
	}
	h.deliver(c.Request.Context(), p, rep)
	c.JSON(http.StatusOK, p.Flow.Snapshot())
}

func (h *SigningHandler) deliver(ctx context.Context, p *service.PageSession, rep geo.Report) {
	dctx, cancel := context.WithTimeout(ctx, deliverWait)
	defer cancel()

	if err := p.Relay.Deliver(dctx, rep); err != nil {
		logger.Warn(ctx, "position report dropped", "error", err)
		return
	}
	if _, err := p.Flow.AwaitLocation(dctx); err != nil {
		logger.Warn(ctx, "position not applied in time", "error", err)
	}
}

// Submit re-validates and posts the signature. On success the page is told
// where to go once the redirect delay has passed.
func (h *SigningHandler) Submit(c *gin.Context) {
	p := pageSession(c, h.sessions, service.KindSigning)
	if p == nil {
		return
	}

	_, err := p.Flow.Submit(c.Request.Context())
	snap := p.Flow.Snapshot()

	var gateErr *signing.GateError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, snap)
	case errors.As(err, &gateErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": gateErr.Message(),
			"unmet": gateErr.Unmet,
		})
	case errors.Is(err, signing.ErrSubmitInFlight),
		errors.Is(err, signing.ErrAlreadySubmitted),
		errors.Is(err, signing.ErrNotReady),
		errors.Is(err, signing.ErrClosed):
		flowError(c, err)
	default:
		c.JSON(upstreamStatus(err), gin.H{"error": snap.SubmitError})
	}
}

// Handoff returns the geolocation captured for this link, for pages that
// follow the signing page.
func (h *SigningHandler) Handoff(c *gin.Context) {
	p := pageSession(c, h.sessions, service.KindSigning)
	if p == nil {
		return
	}

	snap, age, ok := h.handoff.Get(p.Flow.LinkToken())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No location captured yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"lat":        snap.Lat,
		"lng":        snap.Lng,
		"accuracy":   snap.Accuracy,
		"capturedAt": snap.CapturedAt.Format(time.RFC3339),
		"ageSeconds": int64(age.Seconds()),
	})
}

// Close ends the page session
func (h *SigningHandler) Close(c *gin.Context) {
	closeSession(c, h.sessions)
}

func flowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, signing.ErrClosed):
		c.JSON(http.StatusGone, gin.H{"error": sessionExpiredMessage})
	case errors.Is(err, signing.ErrAlreadySubmitted):
		c.JSON(http.StatusConflict, gin.H{"error": "This document has already been signed."})
	case errors.Is(err, signing.ErrSubmitInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "Your signature is being submitted."})
	case errors.Is(err, signing.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "The signing package is not available."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

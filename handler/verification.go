package handler

import (
	"errors"
	"net/http"

	"github.com/AnTengye/contractsign/config"
	"github.com/AnTengye/contractsign/model"
	"github.com/AnTengye/contractsign/pkg/logger"
	"github.com/AnTengye/contractsign/service"
	"github.com/AnTengye/contractsign/verification"
	"github.com/gin-gonic/gin"
)

type VerificationHandler struct {
	api      verification.API
	archive  verification.Archive
	sessions *service.SessionStore
	config   *config.Config
}

// NewVerificationHandler wires the handler; archive may be nil.
func NewVerificationHandler(api verification.API, archive verification.Archive, sessions *service.SessionStore, cfg *config.Config) *VerificationHandler {
	return &VerificationHandler{
		api:      api,
		archive:  archive,
		sessions: sessions,
		config:   cfg,
	}
}

// LookupRequest names a document token and an optional type hint
type LookupRequest struct {
	Token string `json:"token"`
	Type  string `json:"type"`
}

type HashRequest struct {
	Hash string `json:"hash"`
}

// Create opens a verification page session. A token in the request (the
// ?token= the signing page redirects with) is looked up immediately.
func (h *VerificationHandler) Create(c *gin.Context) {
	var req LookupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	docType, err := model.ParseDocumentType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown document type"})
		return
	}

	session := verification.NewSession(h.api, verification.Options{
		MaxPDFBytes: h.config.Verify.MaxPDFBytes,
		Archive:     h.archive,
	})
	p := h.sessions.AddVerification(session)
	ctx := logger.WithSession(c.Request.Context(), p.ID, p.Kind)
	logger.Info(ctx, "verification session opened")

	if req.Token != "" {
		// The outcome is part of the returned state
		_, _ = session.Lookup(ctx, req.Token, docType)
	}
	issueSession(c, &h.config.Session, p, http.StatusCreated, session.Snapshot())
}

func (h *VerificationHandler) Get(c *gin.Context) {
	p := pageSession(c, h.sessions, service.KindVerification)
	if p == nil {
		return
	}
	c.JSON(http.StatusOK, p.Verification.Snapshot())
}

// Lookup resolves a token. Not found is a 404 carrying the session state.
func (h *VerificationHandler) Lookup(c *gin.Context) {
	p := pageSession(c, h.sessions, service.KindVerification)
	if p == nil {
		return
	}

	var req LookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	docType, err := model.ParseDocumentType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown document type"})
		return
	}

	_, err = p.Verification.Lookup(c.Request.Context(), req.Token, docType)
	snap := p.Verification.Snapshot()
	switch {
	case err == nil:
		c.JSON(http.StatusOK, snap)
	case errors.Is(err, verification.ErrClosed):
		c.JSON(http.StatusGone, gin.H{"error": sessionExpiredMessage})
	case errors.Is(err, verification.ErrEmptyToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": snap.Lookup.Error, "session": snap})
	case snap.Lookup.Phase == verification.PhaseNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": snap.Lookup.Error, "session": snap})
	default:
		c.JSON(upstreamStatus(err), gin.H{"error": snap.Lookup.Error, "session": snap})
	}
}

// VerifyHash compares a hash with the active document's. A mismatch is a
// 200 with phase "invalid"; only failures to check are errors.
func (h *VerificationHandler) VerifyHash(c *gin.Context) {
	p := pageSession(c, h.sessions, service.KindVerification)
	if p == nil {
		return
	}

	var req HashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	_, err := p.Verification.VerifyHash(c.Request.Context(), req.Hash)
	h.checkResponse(c, err, p.Verification.Snapshot(), func(s verification.Snapshot) verification.CheckState { return s.Hash })
}

// VerifyPDF takes a multipart "file" upload of the document to check
func (h *VerificationHandler) VerifyPDF(c *gin.Context) {
	p := pageSession(c, h.sessions, service.KindVerification)
	if p == nil {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(h.config.Server.MaxUploadBytes))
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "The selected PDF is too large."})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	_, err = p.Verification.VerifyPDF(c.Request.Context(), header.Filename, file)
	h.checkResponse(c, err, p.Verification.Snapshot(), func(s verification.Snapshot) verification.CheckState { return s.PDF })
}

func (h *VerificationHandler) checkResponse(c *gin.Context, err error, snap verification.Snapshot, pick func(verification.Snapshot) verification.CheckState) {
	st := pick(snap)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, snap)
	case errors.Is(err, verification.ErrClosed):
		c.JSON(http.StatusGone, gin.H{"error": sessionExpiredMessage})
	case errors.Is(err, verification.ErrNoActiveDocument):
		c.JSON(http.StatusConflict, gin.H{"error": st.Error, "session": snap})
	case errors.Is(err, verification.ErrDocumentChanged):
		c.JSON(http.StatusConflict, gin.H{"error": documentChangedMessage, "session": snap})
	case errors.Is(err, verification.ErrMalformedHash):
		c.JSON(http.StatusBadRequest, gin.H{"error": st.Error, "session": snap})
	case errors.Is(err, verification.ErrNotPDF):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": st.Error, "session": snap})
	case errors.Is(err, verification.ErrPDFTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": st.Error, "session": snap})
	default:
		c.JSON(upstreamStatus(err), gin.H{"error": st.Error, "session": snap})
	}
}

func (h *VerificationHandler) Close(c *gin.Context) {
	closeSession(c, h.sessions)
}

package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/AnTengye/contractsign/config"
	"github.com/AnTengye/contractsign/middleware"
	"github.com/AnTengye/contractsign/model"
	"github.com/AnTengye/contractsign/service"
	"github.com/gin-gonic/gin"
)

const (
	sessionExpiredMessage  = "This page session has expired. Please reload the page."
	documentChangedMessage = "The document changed before the check started. Please try again."
)

// SessionResponse is returned when a page session is created
type SessionResponse struct {
	SessionID    string `json:"sessionId"`
	SessionToken string `json:"sessionToken"`
	ExpiresAt    string `json:"expiresAt"`
	Session      any    `json:"session"`
}

func issueSession(c *gin.Context, cfg *config.SessionConfig, p *service.PageSession, status int, snapshot any) {
	token, expiresAt, err := middleware.GenerateSessionToken(p.ID, p.Kind, cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.JSON(status, SessionResponse{
		SessionID:    p.ID,
		SessionToken: token,
		ExpiresAt:    expiresAt.Format(time.RFC3339),
		Session:      snapshot,
	})
}

// pageSession resolves the session named by the request's token. It writes
// a 410 and returns nil when the session is gone.
func pageSession(c *gin.Context, store *service.SessionStore, kind string) *service.PageSession {
	p := store.Get(middleware.GetSessionID(c))
	if p == nil || p.Kind != kind {
		c.JSON(http.StatusGone, gin.H{"error": sessionExpiredMessage})
		return nil
	}
	return p
}

// upstreamStatus maps an MR3X API failure to the status the page sees:
// client errors pass through, everything else is a bad gateway.
func upstreamStatus(err error) int {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return apiErr.Status
	}
	return http.StatusBadGateway
}

func closeSession(c *gin.Context, store *service.SessionStore) {
	store.Delete(middleware.GetSessionID(c))
	c.Status(http.StatusNoContent)
}

package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/AnTengye/contractsign/config"
	"github.com/AnTengye/contractsign/middleware"
	"github.com/AnTengye/contractsign/service"
	"github.com/AnTengye/contractsign/signing"
	"github.com/AnTengye/contractsign/verification"
	"github.com/gin-gonic/gin"
)

// RouterDeps are the collaborators the portal routes need. Archive may be
// nil when archiving is disabled.
type RouterDeps struct {
	Config     *config.Config
	SigningAPI signing.API
	VerifyAPI  verification.API
	Archive    verification.Archive
	Sessions   *service.SessionStore
	Handoff    *service.HandoffStore
}

// NewRouter builds the portal's gin engine
func NewRouter(d RouterDeps) *gin.Engine {
	cfg := d.Config
	signingHandler := NewSigningHandler(d.SigningAPI, d.Sessions, d.Handoff, cfg)
	verificationHandler := NewVerificationHandler(d.VerifyAPI, d.Archive, d.Sessions, cfg)

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger("/health"))
	router.Use(corsMiddleware())
	router.Use(noCacheMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"sessions":  d.Sessions.Count(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	api.Use(middleware.RateLimit(cfg.Server.RateLimit, time.Minute))

	// Opening a page session needs no token
	api.POST("/signing/sessions", signingHandler.Create)
	api.POST("/verification/sessions", verificationHandler.Create)

	signingGroup := api.Group("/signing/session")
	signingGroup.Use(middleware.SessionAuth(&cfg.Session, service.KindSigning))
	{
		signingGroup.GET("", signingHandler.Get)
		signingGroup.DELETE("", signingHandler.Close)
		signingGroup.POST("/signature", signingHandler.SetSignature)
		signingGroup.POST("/witness", signingHandler.SetWitness)
		signingGroup.POST("/consent", signingHandler.SetConsent)
		signingGroup.POST("/location", signingHandler.ReportLocation)
		signingGroup.POST("/submit", signingHandler.Submit)
		signingGroup.GET("/handoff", signingHandler.Handoff)
	}

	verificationGroup := api.Group("/verification/session")
	verificationGroup.Use(middleware.SessionAuth(&cfg.Session, service.KindVerification))
	{
		verificationGroup.GET("", verificationHandler.Get)
		verificationGroup.DELETE("", verificationHandler.Close)
		verificationGroup.POST("/lookup", verificationHandler.Lookup)
		verificationGroup.POST("/hash", verificationHandler.VerifyHash)
		verificationGroup.POST("/pdf", verificationHandler.VerifyPDF)
	}

	return router
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID, "+middleware.SessionHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// noCacheMiddleware keeps session state out of browser and proxy caches
func noCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}
		c.Next()
	}
}

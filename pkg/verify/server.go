package verify

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spamwatch/spamwatch/pkg/metrics"
)

// Server answers trust queries on demand. The retrieval stage calls it to
// verify snippet authors.
type Server struct {
	trust  *TrustList
	engine *gin.Engine
}

// VerifyEmailRequest is the body of POST /verify_email.
type VerifyEmailRequest struct {
	Email string `json:"email" binding:"required"`
}

// VerifyEmailResponse reports both halves of the trust decision.
type VerifyEmailResponse struct {
	Email          string `json:"email"`
	DomainVerified bool   `json:"domain_verified"`
	UserVerified   bool   `json:"user_verified"`
}

// NewServer creates the auxiliary verification HTTP server.
func NewServer(trust *TrustList, m *metrics.Set) *Server {
	s := &Server{trust: trust}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.POST("/verify_email", s.verifyEmail)
	engine.GET("/metrics", gin.WrapH(m.Handler()))
	s.engine = engine
	return s
}

// Handler exposes the router for http.Server wiring and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) verifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, VerifyEmailResponse{
		Email:          req.Email,
		DomainVerified: s.trust.DomainVerified(req.Email),
		UserVerified:   s.trust.UserVerified(req.Email),
	})
}

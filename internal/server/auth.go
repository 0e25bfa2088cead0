package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	identitydomain "github.com/tribes-rights-management/tribesportal/internal/identity/domain"
	"go.uber.org/zap"
)

type startSignInRequest struct {
	Email string `json:"email"`
}

// StartSignIn begins a passwordless sign-in. The response is identical for
// known and unknown emails.
func (s *Server) StartSignIn(c *gin.Context) {
	var req startSignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		AbortWithError(c, newValidationError("email", "required", "email is required"))
		return
	}

	if err := s.identitySvc.StartSignIn(c.Request.Context(), identitydomain.StartSignInRequest{
		Email: email,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

type completeSignInRequest struct {
	Token string `json:"token"`
}

func (s *Server) CompleteSignIn(c *gin.Context) {
	var req completeSignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.identitySvc.CompleteSignIn(c.Request.Context(), identitydomain.CompleteSignInRequest{
		Token:     req.Token,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Set(c, result.RawToken, result.ExpiresAt)
	s.watch.Activity(c.Request.Context(), result.SessionID)

	c.JSON(http.StatusOK, gin.H{
		"user_id":    result.UserID.String(),
		"session_id": result.SessionID.String(),
		"expires_at": result.ExpiresAt,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.identitySvc.LoginWithPassword(c.Request.Context(), identitydomain.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Set(c, result.RawToken, result.ExpiresAt)
	s.watch.Activity(c.Request.Context(), result.SessionID)

	c.JSON(http.StatusOK, gin.H{
		"user_id":    result.UserID.String(),
		"session_id": result.SessionID.String(),
		"expires_at": result.ExpiresAt,
	})
}

type logoutRequest struct {
	Reason string `json:"reason"`
}

// Logout revokes the session and clears the cookie. The cookie is cleared
// even when the revoke write fails: the caller is signed out locally
// regardless.
func (s *Server) Logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)
	reason := parseSignOutReason(req.Reason)

	if token, ok := s.sessions.ReadToken(c); ok {
		if err := s.identitySvc.SignOut(c.Request.Context(), token, reason); err != nil {
			s.log.Warn("sign-out revoke failed", zap.Error(err))
		}
	}
	s.sessions.Clear(c)

	c.JSON(http.StatusOK, gin.H{
		"status": "signed_out",
		"reason": string(reason),
	})
}

func parseSignOutReason(raw string) identitydomain.SignOutReason {
	switch identitydomain.SignOutReason(strings.ToLower(strings.TrimSpace(raw))) {
	case identitydomain.ReasonIdle:
		return identitydomain.ReasonIdle
	case identitydomain.ReasonMaxSession:
		return identitydomain.ReasonMaxSession
	default:
		return identitydomain.ReasonManual
	}
}

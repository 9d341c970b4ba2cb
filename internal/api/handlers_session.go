package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bilregistret/internal/auth"
	"bilregistret/internal/errors"
)

// LoginRequest names the user opening a session
type LoginRequest struct {
	User string `json:"user"`
}

// LoginResponse carries the session token; it is not retrievable later
type LoginResponse struct {
	Token   string       `json:"token"`
	Session auth.Session `json:"session"`
}

// POST /session/login
func (s *Server) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	token, sess, err := s.sessions.Login(strings.TrimSpace(req.User))
	if err != nil {
		WriteLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, LoginResponse{Token: token, Session: sess})
}

// POST /session/logout with Authorization: Bearer <token>
func (s *Server) handleLogout(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		s.writeLookupError(c, errors.NewUnauthorized("session", http.StatusUnauthorized))
		return
	}
	if err := s.sessions.Logout(strings.TrimSpace(header[len("bearer "):])); err != nil {
		s.writeLookupError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

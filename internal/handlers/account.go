package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/currency-check/internal/auth"
)

func (h *Handler) register(c *gin.Context) {
	username := strings.TrimSpace(c.PostForm("username"))
	password := c.PostForm("password")

	if err := auth.ValidateUsername(username); err != nil {
		abortWithDetail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := auth.ValidatePassword(password); err != nil {
		abortWithDetail(c, http.StatusBadRequest, err.Error())
		return
	}

	err := h.accounts.Register(c.Request.Context(), username, password)
	if errors.Is(err, auth.ErrUsernameTaken) {
		abortWithDetail(c, http.StatusBadRequest, "Username already exists")
		return
	}
	if err != nil {
		h.logger.Error("registration failed", zap.Error(err))
		abortWithDetail(c, http.StatusInternalServerError, "registration failed")
		return
	}

	if !h.startSession(c, username) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Registration successful", "username": username})
}

func (h *Handler) login(c *gin.Context) {
	username := strings.TrimSpace(c.PostForm("username"))
	password := c.PostForm("password")
	if username == "" || password == "" {
		abortWithDetail(c, http.StatusBadRequest, "username and password are required")
		return
	}

	ok, err := h.accounts.Verify(c.Request.Context(), username, password)
	if err != nil {
		h.logger.Error("credential check failed", zap.Error(err))
		abortWithDetail(c, http.StatusInternalServerError, "login failed")
		return
	}
	if !ok {
		abortWithDetail(c, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	if !h.startSession(c, username) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Login successful", "username": username})
}

func (h *Handler) logout(c *gin.Context) {
	if token, err := auth.SessionToken(c, h.opts.CookieName); err == nil {
		if err := h.sessions.Delete(c.Request.Context(), token); err != nil {
			h.logger.Warn("failed to delete session", zap.Error(err))
		}
	}
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *Handler) currentUser(c *gin.Context) {
	username, _ := auth.GetUsername(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"username": username})
}

func (h *Handler) startSession(c *gin.Context, username string) bool {
	token, err := h.sessions.Create(c.Request.Context(), username)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		abortWithDetail(c, http.StatusInternalServerError, "failed to create session")
		return false
	}
	h.setSessionCookie(c, token, int(h.opts.SessionTTL.Seconds()))
	return true
}

func (h *Handler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

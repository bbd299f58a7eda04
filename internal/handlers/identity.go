package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Identity arrives from the upstream auth layer (JWT verification happens
// at the gateway): X-User-Id carries the caller, X-User-Role the role.
// This service trusts those headers; it is never exposed directly.
const (
	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"
	roleAdmin      = "admin"
)

// requireUser returns the caller's user id, or writes a 401 and returns "".
func requireUser(c *gin.Context) string {
	userID := c.GetHeader(headerUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_user_identity"})
	}
	return userID
}

func isAdmin(c *gin.Context) bool {
	return c.GetHeader(headerUserRole) == roleAdmin
}

// requireAdmin writes a 403 and returns false for non-admin callers.
func requireAdmin(c *gin.Context) bool {
	if requireUser(c) == "" {
		return false
	}
	if !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin_only"})
		return false
	}
	return true
}

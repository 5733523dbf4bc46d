package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	codeMissingConnectionID = "MISSING_CONNECTION_ID"
	codeInvalidPayload      = "INVALID_PAYLOAD"
	codeInvalidConnectionID = "INVALID_CONNECTION_ID"
)

func fail(c *gin.Context, status int, message, code string) {
	c.JSON(status, gin.H{"success": false, "error": message, "code": code})
}

func failWithDetails(c *gin.Context, status int, message string, err error) {
	c.JSON(status, gin.H{"success": false, "error": message, "details": err.Error()})
}

// connectionID reads the :id path parameter, rejecting blank values.
func connectionID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusBadRequest, "Connection ID is required", codeMissingConnectionID)
		return "", false
	}
	return id, true
}

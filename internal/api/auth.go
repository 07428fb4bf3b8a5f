package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/calsched/calsched/internal/logging"
)

const (
	// DefaultAPIKeyHeader is the default header name for API key authentication
	DefaultAPIKeyHeader = "X-API-Key"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// APIKeyAuth creates a middleware that validates API keys from the request header.
// If no API keys are configured, authentication is bypassed.
func APIKeyAuth(apiKeys []string, headerName string, logger *logging.Logger) gin.HandlerFunc {
	if headerName == "" {
		headerName = DefaultAPIKeyHeader
	}

	// If no API keys configured, skip authentication
	if len(apiKeys) == 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		apiKey := c.GetHeader(headerName)

		if apiKey == "" {
			logger.WarnWithContext(c.Request.Context(), "API authentication failed: missing API key",
				"header_name", headerName,
				"client_ip", c.ClientIP(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)

			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "API key is required. Provide it in the '" + headerName + "' header",
				Code:    http.StatusUnauthorized,
			})
			return
		}

		for _, key := range apiKeys {
			if apiKey == key {
				c.Set("api_key", apiKey)
				c.Set("authenticated", true)
				c.Next()
				return
			}
		}

		logger.WarnWithContext(c.Request.Context(), "API authentication failed: invalid API key",
			"header_name", headerName,
			"client_ip", c.ClientIP(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Invalid API key",
			Code:    http.StatusUnauthorized,
		})
	}
}

// IsAuthenticated checks if the current request is authenticated and returns the API key.
func IsAuthenticated(c *gin.Context) (string, bool) {
	apiKey, exists := c.Get("api_key")
	if !exists {
		return "", false
	}
	return apiKey.(string), true
}

// MaskAPIKeys masks API keys for logging (shows only first 4 characters)
func MaskAPIKeys(keys []string) []string {
	masked := make([]string, len(keys))
	for i, key := range keys {
		if len(key) <= 4 {
			masked[i] = strings.Repeat("*", len(key))
		} else {
			masked[i] = key[:4] + strings.Repeat("*", len(key)-4)
		}
	}
	return masked
}

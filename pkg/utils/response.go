package utils

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
	Meta      interface{} `json:"meta,omitempty"`
}

// ErrorResponse represents an error response with request context
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error"`
	Code      int         `json:"code"`
	Timestamp string      `json:"timestamp"`
	Request   RequestInfo `json:"request"`
	Details   interface{} `json:"details,omitempty"`
}

// RequestInfo provides context about the failed request
type RequestInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
}

// KnownEndpoints are suggested when a path is not found
var KnownEndpoints = []string{
	"/health",
	"/metrics",
	"/ws",
	"/api/v1/metrics",
	"/api/v1/alerts/active",
	"/api/v1/alerts/history",
	"/api/v1/rules",
	"/api/v1/suppressions",
	"/api/v1/statistics",
	"/api/v1/status",
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// SendSuccess sends a successful response
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: now(),
	})
}

// SendCreated sends a 201 response for a created resource
func SendCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success:   true,
		Data:      data,
		Timestamp: now(),
	})
}

// SendSuccessWithMeta sends a successful response with metadata
func SendSuccessWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Meta:      meta,
		Timestamp: now(),
	})
}

// SendError sends an error response with request context
func SendError(c *gin.Context, statusCode int, message string) {
	SendErrorWithDetails(c, statusCode, message, nil)
}

// SendErrorWithDetails sends an error response carrying extra details
func SendErrorWithDetails(c *gin.Context, statusCode int, message string, details interface{}) {
	errorResponse := ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      statusCode,
		Timestamp: now(),
		Request: RequestInfo{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.RawQuery,
		},
		Details: details,
	}

	if details == nil {
		switch statusCode {
		case http.StatusNotFound:
			if suggestions := generateNotFoundSuggestions(c.Request.URL.Path); len(suggestions) > 0 {
				errorResponse.Details = map[string]interface{}{
					"suggestions": suggestions,
					"message":     "The requested endpoint does not exist. Check the suggestions below for similar endpoints.",
				}
			}
		case http.StatusMethodNotAllowed:
			errorResponse.Details = map[string]interface{}{
				"message": "The HTTP method is not supported for this endpoint.",
			}
		}
	}

	c.JSON(statusCode, errorResponse)
}

// generateNotFoundSuggestions returns known endpoints sharing a path segment with path
func generateNotFoundSuggestions(path string) []string {
	var segments []string
	for _, s := range strings.Split(strings.ToLower(path), "/") {
		s = strings.TrimSuffix(s, "s")
		if s != "" && s != "api" && s != "v1" {
			segments = append(segments, s)
		}
	}

	var suggestions []string
	for _, endpoint := range KnownEndpoints {
		for _, segment := range segments {
			if strings.Contains(endpoint, segment) {
				suggestions = append(suggestions, endpoint)
				break
			}
		}
		if len(suggestions) == 5 {
			break
		}
	}
	return suggestions
}

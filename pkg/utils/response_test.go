package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSendError_NotFoundSuggestions(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/rule/cpu_high?x=1", nil)

	SendError(c, http.StatusNotFound, "Not found")

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "x=1", resp.Request.Query)
	details, ok := resp.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, details["suggestions"], "/api/v1/rules")
}

func TestSendSuccessWithMeta(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	SendSuccessWithMeta(c, []string{"a"}, gin.H{"count": 1})

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]interface{}{"count": float64(1)}, resp.Meta)
}

func TestGenerateNotFoundSuggestions(t *testing.T) {
	assert.Equal(t, []string{"/api/v1/alerts/active", "/api/v1/alerts/history"}, generateNotFoundSuggestions("/api/v1/alert"))
	assert.Empty(t, generateNotFoundSuggestions("/s"))
}

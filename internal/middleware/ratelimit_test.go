package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitIdentifier_AuthenticatedUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/v1/messages", nil)
	c.Set("user_id", "patient-1")

	assert.Equal(t, "user:patient-1", rateLimitIdentifier(c))
}

func TestRateLimitIdentifier_AnonymousFallsBackToIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/v1/messages", nil)
	c.Request.RemoteAddr = "203.0.113.9:51234"

	assert.Equal(t, "ip:203.0.113.9", rateLimitIdentifier(c))
}

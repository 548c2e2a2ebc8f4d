package middleware

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHeaders(t *testing.T) {
	assert.Nil(t, SanitizeHeaders(nil))

	h := http.Header{}
	h.Set("Authorization", "Bearer abc")
	h.Set("X-Forwarded-For", "198.51.100.1")
	h.Set("User-Agent", "agent\r\nInjected: yes")
	h.Set("X-Long", strings.Repeat("a", 300))

	out := SanitizeHeaders(h)
	assert.Equal(t, []string{"<redacted>"}, out["Authorization"])
	assert.Equal(t, []string{"<redacted>"}, out["X-Forwarded-For"])
	assert.Equal(t, []string{"agent Injected: yes"}, out["User-Agent"])
	assert.Len(t, out["X-Long"][0], maxLoggedValue+3)
}

func TestSanitizePath(t *testing.T) {
	assert.Equal(t, "/api/contact", SanitizePath("/api/contact?email=a@b.test"))
	assert.Equal(t, "/a b", SanitizePath("/a\nb"))
}

package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:5000", "203.0.113.7"},
		{"empty first hop", map[string]string{"X-Forwarded-For": " , 10.0.0.1", "X-Real-Ip": "198.51.100.4"}, "10.0.0.2:5000", "198.51.100.4"},
		{"real ip", map[string]string{"X-Real-Ip": "198.51.100.4"}, "10.0.0.2:5000", "198.51.100.4"},
		{"remote host", nil, "192.0.2.1:4321", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, IPFromRequest(req))
		})
	}
}

func TestRequestAndDeviceIDs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestIDFromRequest(req))
	assert.Empty(t, DeviceIDFromRequest(req))

	req.Header.Set("X-Request-ID", " req-1 ")
	req.Header.Set("X-Device-Id", "phone")
	assert.Equal(t, "req-1", RequestIDFromRequest(req))
	assert.Equal(t, "phone", DeviceIDFromRequest(req))
}

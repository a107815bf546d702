package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, IsRetryableHTTPStatus(tc.code), "IsRetryableHTTPStatus(%d)", tc.code)
	}
}

func TestIsRetryableRealtimeErrorType(t *testing.T) {
	assert.True(t, IsRetryableRealtimeErrorType("server_error"))
	assert.False(t, IsRetryableRealtimeErrorType("invalid_request_error"))
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	assert.Equal(t, base, ExponentialBackoff(0, base, capDur))
	assert.Equal(t, 400*time.Millisecond, ExponentialBackoff(2, base, capDur))
	assert.Equal(t, capDur, ExponentialBackoff(10, base, capDur))
}

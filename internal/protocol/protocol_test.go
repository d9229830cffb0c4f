package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		tag  string
		want Protocol
		ok   bool
	}{
		{"tls", TLS, true},
		{"HTTPS", TLS, true},
		{"http", HTTP, true},
		{"udp", UDP, true},
		{"quic", UDP, true},
		{" Discord ", UDP, true},
		{"wg", UDP, true},
		{"stun", UDP, true},
		{"smtp", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, ok := Parse(tt.tag)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAutoLockThreshold(t *testing.T) {
	assert.Equal(t, 3, TLS.AutoLockThreshold())
	assert.Equal(t, 3, HTTP.AutoLockThreshold())
	assert.Equal(t, 1, UDP.AutoLockThreshold())
}

func TestValid(t *testing.T) {
	for _, p := range All {
		assert.True(t, p.Valid(), p)
	}
	assert.False(t, Protocol("quic").Valid())
	assert.False(t, Protocol("").Valid())
}

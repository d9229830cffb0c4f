package hostname

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"  Example.COM. ", "example.com"},
		{"WWW.YouTube.com", "www.youtube.com"},
		{"пример.рф", "xn--e1afmkfd.xn--p1ai"},
		{"xn--e1afmkfd.xn--p1ai", "xn--e1afmkfd.xn--p1ai"},
		{"under_score.example", "under_score.example"},
		{"10.0.0.1", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", ".", "a b", "host/path", "k=v"} {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, ErrInvalid, "input %q", in)
	}
}

func TestMatchesSuffix(t *testing.T) {
	assert.True(t, MatchesSuffix("youtube.com", "youtube.com"))
	assert.True(t, MatchesSuffix("www.youtube.com", "youtube.com"))
	assert.True(t, MatchesSuffix("a.b.youtube.com", "youtube.com"))
	assert.False(t, MatchesSuffix("notyoutube.com", "youtube.com"))
	assert.False(t, MatchesSuffix("youtube.com.evil", "youtube.com"))
}

func TestMustNormalize_Panics(t *testing.T) {
	assert.Panics(t, func() { MustNormalize("") })
	assert.Equal(t, "discord.com", MustNormalize("Discord.com"))
}

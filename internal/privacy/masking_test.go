package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcd", "****"},
		{"1234-abcdefgh", "*********efgh"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskSecret(tt.input))
		})
	}
}

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"alice@example.com", "a****@example.com"},
		{"a@example.com", "a@example.com"},
		{"not-an-email", "********mail"},
		{"@example.com", "********.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskEmail(tt.input))
		})
	}
}

func TestMaskOwner(t *testing.T) {
	assert.Equal(t, "bob@example.com", MaskOwner("bob@example.com", true))
	assert.Equal(t, "b**@example.com", MaskOwner("bob@example.com", false))
}

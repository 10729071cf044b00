package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001",
		NormalizeAddress(" 0xABCDEF0000000000000000000000000000000001 "))
}

func TestValidAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"0x0000000000000000000000000000000000000000", true},
		{"0X0000000000000000000000000000000000000000", true},
		{"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeA", false},
		{"0xZZZeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidAddress(tt.addr), tt.addr)
	}
}

func TestParseAddress(t *testing.T) {
	got, err := ParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", got)

	_, err = ParseAddress("nope")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

package common

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeRandHexString_LengthAndHex(t *testing.T) {
	const n = 16
	s, err := MakeRandHexString(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != n*2 {
		t.Fatalf("expected hex length %d, got %d", n*2, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		t.Fatalf("string is not valid hex: %v", err)
	}
}

func TestMakeRandHexString_ZeroSize(t *testing.T) {
	s, err := MakeRandHexString(0)
	if err != nil {
		t.Fatalf("unexpected error for size=0: %v", err)
	}
	if s != "" {
		t.Fatalf("expected empty string for size=0, got %q", s)
	}
}

func TestWipeByteArray_ZerosBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("expected buf[%d]==0, got %d", i, v)
		}
	}
	WipeByteArray(nil)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"alice@example.com", true},
		{"alice", false},
		{"", false},
		{"Alice <alice@example.com>", false},
		{"a@b", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidEmail(tt.in), tt.in)
	}
}

func TestRefreshError_UnwrapsToPublicError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("refresh: %w", NewRefreshError(RefreshRevoked, cause))

	require.ErrorIs(t, err, ErrRefreshTokenInvalid)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, RefreshRevoked, RefreshReason(err))
	assert.Contains(t, err.Error(), "revoked")

	assert.Equal(t, RefreshFailure(""), RefreshReason(errors.New("x")))
	assert.ErrorIs(t, NewRefreshError(RefreshMissing, nil), ErrRefreshTokenInvalid)
}

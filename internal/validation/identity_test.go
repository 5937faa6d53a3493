package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidDeviceID(t *testing.T) {
	valid := strings.Repeat("a1", 32)

	tests := []struct {
		name     string
		deviceID string
		want     bool
	}{
		{"valid 64 hex chars", valid, true},
		{"empty", "", false},
		{"too short", "abc123", false},
		{"too long", valid + "ff", false},
		{"uppercase hex rejected", strings.ToUpper(valid), false},
		{"non-hex characters", strings.Repeat("g", 64), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidDeviceID(tt.deviceID))
		})
	}
}

func TestValidateHandle(t *testing.T) {
	tests := []struct {
		name    string
		handle  string
		wantErr bool
	}{
		{"valid handle", "@alice", false},
		{"valid with underscore and digits", "@alice_99", false},
		{"missing at sign", "alice", true},
		{"too short", "@ab", true},
		{"too long", "@" + strings.Repeat("a", 33), true},
		{"invalid characters", "@alice!", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHandle(tt.handle)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"already normalized", "+447700900123", "+447700900123", false},
		{"spaces and dashes", "+44 7700 900-123", "+447700900123", false},
		{"parentheses", "+1 (415) 555.0100", "+14155550100", false},
		{"missing plus", "447700900123", "", true},
		{"letters", "+44abc", "", true},
		{"too short", "+1234", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+*********123", MaskPhone("+447700900123"))
	assert.Equal(t, "+12", MaskPhone("+12"))
}

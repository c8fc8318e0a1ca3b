package auth

import (
	"errors"
	"testing"
)

func TestValidatePhoneNumber(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"+15555550100", true},
		{"+19290000000", true},
		{"+819012345678", true},
		{"15555550100", false},
		{"+0555550100", false},
		{"+1555", false},
		{"+1 555 555 0100", false},
		{"", false},
		{"+1234567890123456", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidatePhoneNumber(tt.input)
			if tt.valid && err != nil {
				t.Errorf("ValidatePhoneNumber(%q) = %v, want nil", tt.input, err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidPhoneNumber) {
				t.Errorf("ValidatePhoneNumber(%q) = %v, want ErrInvalidPhoneNumber", tt.input, err)
			}
		})
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"+1 (555) 555-0100", "+15555550100"},
		{"555-555-0100", "+15555550100"},
		{"  +19290000000 ", "+19290000000"},
		{"", ""},
		{"abc", ""},
		{"12+34", "+11234"},
	}
	for _, tt := range tests {
		if got := NormalizePhoneNumber(tt.input, "1"); got != tt.want {
			t.Errorf("NormalizePhoneNumber(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestMaskPhoneNumber(t *testing.T) {
	if got := MaskPhoneNumber("+15555550100"); got != "********0100" {
		t.Errorf("MaskPhoneNumber() = %q", got)
	}
	if got := MaskPhoneNumber("123"); got != "***" {
		t.Errorf("MaskPhoneNumber(short) = %q", got)
	}
}

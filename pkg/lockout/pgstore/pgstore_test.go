package pgstore

import (
	"errors"
	"testing"

	"signalement-platform/pkg/lockout"
)

func TestParseMaxAttempts(t *testing.T) {
	tests := []struct {
		valeur  string
		want    int
		invalid bool
	}{
		{"3", 3, false},
		{" 5 ", 5, false},
		{"0", 0, false},
		{"abc", 0, true},
		{"", 0, true},
		{"2.5", 0, true},
	}
	for _, tt := range tests {
		n, err := parseMaxAttempts(tt.valeur)
		if tt.invalid {
			if !errors.Is(err, lockout.ErrSettingInvalid) {
				t.Errorf("parseMaxAttempts(%q) err = %v, want ErrSettingInvalid", tt.valeur, err)
			}
			continue
		}
		if err != nil || n != tt.want {
			t.Errorf("parseMaxAttempts(%q) = %d, %v", tt.valeur, n, err)
		}
	}
}

package auth

import (
	"errors"
	"testing"
)

func TestVerify(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		presented string
		wantErr   bool
	}{
		{"disabled accepts empty", "", "", false},
		{"disabled accepts anything", "", "whatever", false},
		{"correct key", "s3cret", "s3cret", false},
		{"wrong key", "s3cret", "guess", true},
		{"missing key", "s3cret", "", true},
		{"prefix is not enough", "s3cret", "s3c", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.key)
			err := a.Verify(tt.presented)
			if (err != nil) != tt.wantErr {
				t.Errorf("Verify(%q) err = %v, wantErr %v", tt.presented, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnauthorized) {
				t.Errorf("error %v is not ErrUnauthorized", err)
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	if New("").Enabled() {
		t.Error("empty key reports enabled")
	}
	if !New("k").Enabled() {
		t.Error("configured key reports disabled")
	}
}

package validate

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "local format", raw: "08031234567", want: "+2348031234567"},
		{name: "international without plus", raw: "2348031234567", want: "+2348031234567"},
		{name: "e164", raw: "+2348031234567", want: "+2348031234567"},
		{name: "surrounding spaces", raw: "  08031234567 ", want: "+2348031234567"},
		{name: "too short", raw: "0803", wantErr: true},
		{name: "letters", raw: "phone", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.raw, "NG")
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPhone) {
					t.Fatalf("expected ErrInvalidPhone, got %q err=%v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizePhone returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNewPIN(t *testing.T) {
	tests := []struct {
		pin     string
		wantErr error
	}{
		{pin: "2580"},
		{pin: "1234", wantErr: ErrWeakPIN},
		{pin: "4321", wantErr: ErrWeakPIN},
		{pin: "0000", wantErr: ErrWeakPIN},
		{pin: "7777", wantErr: ErrWeakPIN},
		{pin: "123", wantErr: ErrInvalidPINFormat},
		{pin: "12a4", wantErr: ErrInvalidPINFormat},
		{pin: "12345", wantErr: ErrInvalidPINFormat},
	}

	for _, tt := range tests {
		t.Run(tt.pin, func(t *testing.T) {
			err := NewPIN(tt.pin)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if err := PINFormat("1234"); err != nil {
		t.Fatalf("expected weak PIN to pass format-only check, got %v", err)
	}
}

func TestDateOfBirth(t *testing.T) {
	now := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	dob, err := DateOfBirth("05/11/1990", now)
	if err != nil {
		t.Fatalf("DateOfBirth returned error: %v", err)
	}
	if dob.Year() != 1990 || dob.Month() != time.November || dob.Day() != 5 {
		t.Fatalf("expected 5 Nov 1990, got %s", dob)
	}

	for _, raw := range []string{"31/02/1990", "1990-11-05", "01/01/2030", "01/01/1800"} {
		if _, err := DateOfBirth(raw, now); !errors.Is(err, ErrInvalidDateOfBirth) {
			t.Fatalf("expected %q to be rejected, got %v", raw, err)
		}
	}
}

func TestNameAndIdentifiers(t *testing.T) {
	if got, err := Name("  Mary   Jane-O'Neil "); err != nil || got != "Mary Jane-O'Neil" {
		t.Fatalf("expected cleaned name, got %q err=%v", got, err)
	}
	if _, err := Name("J4ne"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected digits to be rejected, got %v", err)
	}
	if err := IDNumber("22123456789"); err != nil {
		t.Fatalf("expected 11-digit id to pass, got %v", err)
	}
	if err := IDNumber("2212345678"); !errors.Is(err, ErrInvalidIDNumber) {
		t.Fatalf("expected 10-digit id to fail, got %v", err)
	}
	if !AccountNumber("0000000001") || AccountNumber("000000001") {
		t.Fatalf("unexpected account number validation result")
	}
}

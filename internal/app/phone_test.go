package app

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "local format with leading zero",
			input: "0599188713",
			want:  "233599188713",
		},
		{
			name:  "bare subscriber number",
			input: "599188713",
			want:  "233599188713",
		},
		{
			name:  "already international",
			input: "233599188713",
			want:  "233599188713",
		},
		{
			name:  "international with plus and spaces",
			input: "+233 59 918 8713",
			want:  "233599188713",
		},
		{
			name:  "local with dashes",
			input: "059-918-8713",
			want:  "233599188713",
		},
		{
			name:  "foreign international passes through",
			input: "2348012345678",
			want:  "2348012345678",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.input)
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if got != tt.want {
				t.Fatalf("NormalizePhone(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizePhone_EquivalentFormsConverge(t *testing.T) {
	forms := []string{"0599188713", "599188713", "233599188713", "+233599188713"}
	for _, form := range forms {
		got, err := NormalizePhone(form)
		if err != nil {
			t.Fatalf("NormalizePhone(%q) returned error: %v", form, err)
		}
		if got != "233599188713" {
			t.Fatalf("NormalizePhone(%q) = %q, want 233599188713", form, got)
		}
	}
}

func TestNormalizePhone_TooShort(t *testing.T) {
	for _, input := range []string{"", "12345", "059918", "abc"} {
		if _, err := NormalizePhone(input); !errors.Is(err, ErrInvalidPhone) {
			t.Fatalf("NormalizePhone(%q): expected ErrInvalidPhone, got %v", input, err)
		}
	}
}

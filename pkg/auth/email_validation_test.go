package auth

import (
	"strings"
	"testing"
)

func TestIsEmail(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		want       bool
	}{
		{
			name:       "valid email",
			identifier: "user@example.com",
			want:       true,
		},
		{
			name:       "email with subdomain",
			identifier: "user@mail.example.com",
			want:       true,
		},
		{
			name:       "email with plus",
			identifier: "user+tag@example.com",
			want:       true,
		},
		{
			name:       "username without @",
			identifier: "username",
			want:       false,
		},
		{
			name:       "empty string",
			identifier: "",
			want:       false,
		},
		{
			name:       "@ at start",
			identifier: "@example.com",
			want:       false,
		},
		{
			name:       "@ at end",
			identifier: "username@",
			want:       false,
		},
		{
			name:       "too long",
			identifier: strings.Repeat("a", 250) + "@example.com",
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsEmail(tt.identifier); got != tt.want {
				t.Errorf("IsEmail(%q) = %v, want %v", tt.identifier, got, tt.want)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Test@Example.com", "test@example.com"},
		{"  test@example.com  ", "test@example.com"},
		{"TEST@EXAMPLE.COM", "test@example.com"},
		{"test@example.com", "test@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeEmail(tt.input); got != tt.want {
				t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

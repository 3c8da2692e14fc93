package storage

import (
	"context"
	"errors"
	"testing"
)

func TestNewR2ClientNotConfigured(t *testing.T) {
	_, err := NewR2Client(R2Config{Endpoint: "https://r2.example.com", Bucket: "exports"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("NewR2Client() error = %v, want ErrNotConfigured", err)
	}
}

func TestNilClientUpload(t *testing.T) {
	var client *R2Client
	if _, err := client.Upload(context.Background(), "k", []byte("x"), "text/plain"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Upload() error = %v, want ErrNotConfigured", err)
	}
}

func TestObjectURL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      R2Config
		key      string
		expected string
	}{
		{
			name: "endpoint",
			cfg: R2Config{
				Endpoint: "https://acc.r2.cloudflarestorage.com/", AccessKey: "a", SecretKey: "s", Bucket: "registry",
			},
			key:      "/exports/persons.xlsx",
			expected: "https://acc.r2.cloudflarestorage.com/registry/exports/persons.xlsx",
		},
		{
			name: "public base url",
			cfg: R2Config{
				Endpoint: "https://acc.r2.cloudflarestorage.com", AccessKey: "a", SecretKey: "s", Bucket: "registry",
				PublicBaseURL: "https://files.example.cl/",
			},
			key:      "exports/persons.xlsx",
			expected: "https://files.example.cl/registry/exports/persons.xlsx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewR2Client(tt.cfg)
			if err != nil {
				t.Fatalf("NewR2Client() error = %v", err)
			}
			if got := client.objectURL(tt.key); got != tt.expected {
				t.Errorf("objectURL(%q) = %q, want %q", tt.key, got, tt.expected)
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parishly.yaml")
	body := `
backend:
  url: https://demo.example.org
  api_key: public-anon-key
  http_timeout: 5s
session:
  bootstrap_timeout: 2s
  lookup_retries: 5
  require_profile: true
storage:
  document_bucket: docs
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.URL != "https://demo.example.org" {
		t.Fatalf("unexpected backend url: %s", cfg.Backend.URL)
	}
	if cfg.Backend.HTTPTimeout != 5*time.Second {
		t.Fatalf("unexpected http timeout: %s", cfg.Backend.HTTPTimeout)
	}
	if cfg.Session.BootstrapTimeout != 2*time.Second {
		t.Fatalf("unexpected bootstrap timeout: %s", cfg.Session.BootstrapTimeout)
	}
	if cfg.Session.LookupRetries != 5 {
		t.Fatalf("unexpected lookup retries: %d", cfg.Session.LookupRetries)
	}
	if !cfg.Session.RequireProfile {
		t.Fatal("require_profile was not applied")
	}
	if cfg.Session.LookupRetryDelay != 100*time.Millisecond {
		t.Fatalf("default retry delay lost: %s", cfg.Session.LookupRetryDelay)
	}
	if cfg.Storage.DocumentBucket != "docs" {
		t.Fatalf("unexpected document bucket: %s", cfg.Storage.DocumentBucket)
	}
	if cfg.Storage.ReceiptBucket != "receipts" {
		t.Fatalf("default receipt bucket lost: %s", cfg.Storage.ReceiptBucket)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parishly.yaml")
	body := `
backend:
  url: https://file.example.org
  api_key: file-key
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PARISHLY_BACKEND_URL", "https://env.example.org")
	t.Setenv("PARISHLY_LOOKUP_RETRIES", "7")
	t.Setenv("PARISHLY_HTTP_TIMEOUT", "3s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.URL != "https://env.example.org" {
		t.Fatalf("env override lost: %s", cfg.Backend.URL)
	}
	if cfg.Backend.APIKey != "file-key" {
		t.Fatalf("file value lost: %s", cfg.Backend.APIKey)
	}
	if cfg.Session.LookupRetries != 7 {
		t.Fatalf("env retries lost: %d", cfg.Session.LookupRetries)
	}
	if cfg.Backend.HTTPTimeout != 3*time.Second {
		t.Fatalf("env timeout lost: %s", cfg.Backend.HTTPTimeout)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "missing url", body: "backend:\n  api_key: k\n"},
		{name: "missing key", body: "backend:\n  url: https://x\n"},
		{name: "bad duration", body: "backend:\n  url: https://x\n  api_key: k\n  http_timeout: nope\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.yaml")
			if err := os.WriteFile(path, []byte(tc.body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

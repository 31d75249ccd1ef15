package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
databaseURL: postgres://localhost/grimoire
jwtSecret: s3cret
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "4000" {
		t.Fatalf("expected default port 4000, got %q", cfg.Port)
	}
	if cfg.ImagesDir != "images" || cfg.ImagesPublicPath != "/images" {
		t.Fatalf("unexpected image defaults: %q %q", cfg.ImagesDir, cfg.ImagesPublicPath)
	}
	if cfg.StorageDriver != "local" {
		t.Fatalf("expected local storage default, got %q", cfg.StorageDriver)
	}
	if cfg.PublicBaseURL != "http://localhost:4000" {
		t.Fatalf("unexpected base url %q", cfg.PublicBaseURL)
	}
}

func TestLoadRequiresDatabaseAndSecret(t *testing.T) {
	path := writeConfig(t, "port: \"4000\"\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing databaseURL")
	}
	path = writeConfig(t, "databaseURL: postgres://localhost/grimoire\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing jwtSecret")
	}
}

func TestLoadValidatesStorageDriver(t *testing.T) {
	path := writeConfig(t, `
databaseURL: postgres://localhost/grimoire
jwtSecret: s3cret
storageDriver: tape
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown storage driver")
	}
	path = writeConfig(t, `
databaseURL: postgres://localhost/grimoire
jwtSecret: s3cret
storageDriver: minio
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for minio driver without endpoint/bucket")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
databaseURL: postgres://localhost/grimoire
jwtSecret: file-secret
`)
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("IMAGES_FOLDER", "/var/covers")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != "env-secret" {
		t.Fatalf("env override ignored: %q", cfg.JWTSecret)
	}
	if cfg.ImagesDir != "/var/covers" {
		t.Fatalf("env override ignored: %q", cfg.ImagesDir)
	}
}

func TestParseSessionTTL(t *testing.T) {
	ttl, err := ParseSessionTTL("")
	if err != nil || ttl != 24*time.Hour {
		t.Fatalf("expected 24h default, got %v err=%v", ttl, err)
	}
	ttl, err = ParseSessionTTL("2h")
	if err != nil || ttl != 2*time.Hour {
		t.Fatalf("expected 2h, got %v err=%v", ttl, err)
	}
	if _, err := ParseSessionTTL("nope"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := ParseSessionTTL("-1h"); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
}

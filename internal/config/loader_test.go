package config

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr wrong: %q", cfg.Server.Addr)
	}
	if cfg.Database.DBName != "chronicle" {
		t.Errorf("default dbname wrong: %q", cfg.Database.DBName)
	}
	if !strings.Contains(buf.String(), "No config.yaml found") {
		t.Errorf("missing-file status should go through the standard logger, got %q", buf.String())
	}
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/siderant/funtonic/config"
	"github.com/siderant/funtonic/meta"
)

const executorYAML = `
client_id: siderant
server_url: http://127.0.0.1:54321
tags:
  env: prod
  roles:
    - web
    - worker
ed25519_key:
  id: siderant
  private_key: c2VlZHNlZWRzZWVkc2VlZHNlZWRzZWVkc2VlZHNlZWQ=
authorized_keys:
  commander: cHVibGlja2V5
`

func TestLoadExecutorConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.ExecutorFile)
	if err := os.WriteFile(path, []byte(executorYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load[config.Executor](path, config.ExecutorFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClientID != "siderant" || cfg.ServerURL != "http://127.0.0.1:54321" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Key.ID != "siderant" || cfg.Key.PrivateKey == "" {
		t.Fatalf("key not loaded: %+v", cfg.Key)
	}
	if cfg.Tags["env"].Scalar() != "prod" || cfg.Tags["roles"].Kind() != meta.KindList {
		t.Fatalf("tags not loaded: %v", cfg.Tags)
	}
	if cfg.AuthorizedKeys["commander"] == "" {
		t.Fatalf("authorized keys not loaded: %v", cfg.AuthorizedKeys)
	}
	if cfg.TLS != nil {
		t.Fatalf("tls should be absent")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load[config.Server](filepath.Join(t.TempDir(), "nope.yml"), config.ServerFile); err == nil {
		t.Fatal("missing config should fail")
	}
}

func TestCommanderValidity(t *testing.T) {
	raw := `
server_url: http://srv:1234
ed25519_key:
  id: commander
  private_key: c2VlZA==
signature_validity: 5m
`
	path := filepath.Join(t.TempDir(), config.CommanderFile)
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load[config.Commander](path, config.CommanderFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Validity() != 5*time.Minute {
		t.Errorf("Validity = %v", cfg.Validity())
	}

	var def config.Commander
	if def.Validity() != 60*time.Second {
		t.Errorf("default Validity = %v", def.Validity())
	}
}

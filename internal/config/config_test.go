package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.ListenAddr != want.ListenAddr || cfg.RequireApproval != want.RequireApproval {
		t.Fatalf("got %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadParsesSections(t *testing.T) {
	content := `
[p2p]
listen = 0.0.0.0:9000
require_approval = false
relay_servers = relay1.example:443, relay2.example:443

[approved_clients]
aabbccdd
eeff0011

[usb]
filters = 1234:*, 5678:0001
`
	path := filepath.Join(t.TempDir(), "p2p-usb.conf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.RequireApproval {
		t.Fatalf("RequireApproval should be false")
	}
	if len(cfg.RelayServers) != 2 {
		t.Fatalf("RelayServers = %v", cfg.RelayServers)
	}
	if len(cfg.ApprovedClients) != 2 {
		t.Fatalf("ApprovedClients = %v", cfg.ApprovedClients)
	}
	if !cfg.UsbFilters.Allows(0x1234, 0x0001) {
		t.Fatalf("expected usb filter to allow 1234:0001")
	}
}

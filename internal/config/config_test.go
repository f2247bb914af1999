package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSystemConfig_Defaults(t *testing.T) {
	result, err := LoadSystemConfig(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MaxNodes != 10 {
		t.Errorf("expected default MaxNodes 10, got %d", result.MaxNodes)
	}
	if result.InternetSystem != 32767 {
		t.Errorf("expected default InternetSystem 32767, got %d", result.InternetSystem)
	}
	if result.PollIntervalMs != 1000 {
		t.Errorf("expected default poll interval 1000ms, got %d", result.PollIntervalMs)
	}
	if result.ForwardAuditSchedule != "0 0 4 * * *" {
		t.Errorf("expected daily forward audit, got %q", result.ForwardAuditSchedule)
	}
}

func TestLoadSystemConfig_CustomValues(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := map[string]interface{}{
		"boardName": "Test BBS",
		"maxNodes":  4,
		"dataPath":  "/srv/bbs/data",
	}
	data, _ := json.Marshal(cfg)
	os.WriteFile(filepath.Join(tmpDir, "config.json"), data, 0644)

	result, err := LoadSystemConfig(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BoardName != "Test BBS" {
		t.Errorf("expected 'Test BBS', got %s", result.BoardName)
	}
	if result.MaxNodes != 4 {
		t.Errorf("expected MaxNodes 4, got %d", result.MaxNodes)
	}
	if result.DataPath != "/srv/bbs/data" {
		t.Errorf("expected dataPath to be kept, got %s", result.DataPath)
	}
	if result.InternetSystem != 32767 {
		t.Errorf("expected default InternetSystem to survive partial config, got %d", result.InternetSystem)
	}
}

func TestLoadSystemConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte("{nope"), 0644)

	result, err := LoadSystemConfig(tmpDir)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if result.MaxNodes != 10 {
		t.Errorf("expected defaults on parse failure, got MaxNodes %d", result.MaxNodes)
	}
}

func writeNetworks(t *testing.T, dir string, nets []NetworkConfig) {
	t.Helper()
	data, err := json.Marshal(nets)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "networks.json"), data, 0644); err != nil {
		t.Fatalf("write networks.json: %v", err)
	}
}

func TestLoadNetworks(t *testing.T) {
	tmpDir := t.TempDir()
	writeNetworks(t, tmpDir, []NetworkConfig{
		{Number: 1, Name: "WWIVnet", Type: NetTypeWWIV, Systems: []SystemEntry{{1, "Home"}, {5, "Far"}}},
		{Number: 2, Name: "fsxNet", Type: NetTypeFTN, Zone: 21, Systems: []SystemEntry{{2, "Hub"}}},
	})

	nets, err := LoadNetworks(tmpDir)
	if err != nil {
		t.Fatalf("LoadNetworks: %v", err)
	}
	if len(nets) != 2 {
		t.Fatalf("expected 2 networks, got %d", len(nets))
	}
	if !nets[0].HasSystem(5) || nets[0].HasSystem(2) {
		t.Error("HasSystem mismatch for network 1")
	}
	if !nets[1].IsFTN() {
		t.Error("expected network 2 to be FTN")
	}

	if n, ok := FindNetwork(nets, "FSXNET"); !ok || n.Number != 2 {
		t.Errorf("FindNetwork by name: %+v %v", n, ok)
	}
	if n, ok := FindNetwork(nets, "1"); !ok || n.Name != "WWIVnet" {
		t.Errorf("FindNetwork by number: %+v %v", n, ok)
	}
	if _, ok := FindNetwork(nets, "9"); ok {
		t.Error("FindNetwork found a network that does not exist")
	}
}

func TestLoadNetworks_Missing(t *testing.T) {
	nets, err := LoadNetworks(t.TempDir())
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if len(nets) != 0 {
		t.Errorf("expected no networks, got %d", len(nets))
	}
}

func TestLoadNetworks_DuplicateNumbers(t *testing.T) {
	tmpDir := t.TempDir()
	writeNetworks(t, tmpDir, []NetworkConfig{{Number: 1, Name: "a"}, {Number: 1, Name: "b"}})

	if _, err := LoadNetworks(tmpDir); err == nil {
		t.Error("expected error for duplicate network numbers")
	}
}

func TestWatcherReloadsNetworks(t *testing.T) {
	tmpDir := t.TempDir()
	writeNetworks(t, tmpDir, []NetworkConfig{{Number: 1, Name: "one"}})

	set := NewNetworkSet(nil)
	reloaded := make(chan int, 4)
	w, err := NewWatcher(tmpDir, set, func(n []NetworkConfig) { reloaded <- len(n) })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeNetworks(t, tmpDir, []NetworkConfig{{Number: 1, Name: "one"}, {Number: 2, Name: "two"}})

	select {
	case n := <-reloaded:
		if n != 2 {
			t.Errorf("reloaded %d networks, want 2", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload networks.json")
	}
	if len(set.Get()) != 2 {
		t.Errorf("NetworkSet holds %d networks, want 2", len(set.Get()))
	}
}

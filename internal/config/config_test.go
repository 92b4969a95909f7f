package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGatewayConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg GatewayConfig
	cfg.SetDefaults(25)

	if cfg.Listen != "0.0.0.0:25" {
		t.Errorf("Listen = %q, want %q", cfg.Listen, "0.0.0.0:25")
	}
	if cfg.KeyFile != "server.pem" {
		t.Errorf("KeyFile = %q, want %q", cfg.KeyFile, "server.pem")
	}
	if cfg.Vectors != "ALL" {
		t.Errorf("Vectors = %q, want %q", cfg.Vectors, "ALL")
	}
}

func TestGatewayConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := GatewayConfig{
		Listen:  "127.0.0.1:2525",
		KeyFile: "custom.pem",
		Vectors: "SMTP.StripFromCapabilities",
	}
	cfg.SetDefaults(25)

	if cfg.Listen != "127.0.0.1:2525" {
		t.Errorf("Listen was overwritten: got %q", cfg.Listen)
	}
	if cfg.KeyFile != "custom.pem" {
		t.Errorf("KeyFile was overwritten: got %q", cfg.KeyFile)
	}
	if cfg.Vectors != "SMTP.StripFromCapabilities" {
		t.Errorf("Vectors was overwritten: got %q", cfg.Vectors)
	}
}

func TestGatewayConfig_SetDefaults_NoRemotePortLeavesListenEmpty(t *testing.T) {
	t.Parallel()

	var cfg GatewayConfig
	cfg.SetDefaults(0)

	if cfg.Listen != "" {
		t.Errorf("Listen = %q, want empty when remotePort is 0", cfg.Listen)
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "striptls-gate.yaml")
	_ = os.WriteFile(cfgPath, []byte("remote: 127.0.0.1:25\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "striptls-gate.yml")
	_ = os.WriteFile(cfgPath, []byte("remote: 127.0.0.1:25\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "striptls-gate" with no extension.
	_ = os.WriteFile(filepath.Join(dir, "striptls-gate"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "striptls-gate.yaml")
	ymlPath := filepath.Join(dir, "striptls-gate.yml")
	_ = os.WriteFile(yamlPath, []byte("remote: 127.0.0.1:25\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("remote: 127.0.0.1:26\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}

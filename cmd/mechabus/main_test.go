package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/mechabus-gateway/internal/auth"
	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/config"
	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("MECHABUS_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_ValidationFailure verifies run refuses a config without secrets.
func TestRun_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
gateway:
  id: test-gateway
api:
  host: "127.0.0.1"
  port: 8080
`)
	t.Setenv("MECHABUS_CONFIG", path)
	t.Setenv("MECHABUS_JWT_SECRET", "")

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "password_hashes") {
		t.Fatalf("run() error = %v, want validation failure", err)
	}
}

// TestRun_DevModeStartupAndShutdown starts the full gateway against
// simulated actuators and stops it via context cancellation.
func TestRun_DevModeStartupAndShutdown(t *testing.T) {
	hash, err := auth.HashPassword("panel-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	port := freePort(t)

	path := writeConfig(t, fmt.Sprintf(`
gateway:
  id: test-gateway
api:
  host: "127.0.0.1"
  port: %d
logging:
  level: error
  format: text
  output: stdout
security:
  jwt:
    secret: "test-secret-for-development-only-0123456789"
  password_hashes:
    - %q
providers:
  remote:
    hall: "10.0.0.21"
  local:
    - id: pump
      line: GPIO17
  safety:
    - id: pump
      max_on: 10m
  dev_mode:
    enabled: true
    latency: 1ms
`, port, hash))
	t.Setenv("MECHABUS_CONFIG", path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(healthURL)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("gateway never served health: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() = %v, want nil on shutdown", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("MECHABUS_CONFIG", "")
	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("MECHABUS_CONFIG", expected)
	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestRunHash(t *testing.T) {
	var out bytes.Buffer
	if err := runHash([]string{"s3cret"}, &out); err != nil {
		t.Fatalf("runHash() error = %v", err)
	}
	encoded := strings.TrimSpace(out.String())
	ok, err := auth.VerifyPassword("s3cret", encoded)
	if err != nil || !ok {
		t.Errorf("VerifyPassword(%q) = %v, %v", encoded, ok, err)
	}

	for _, args := range [][]string{nil, {""}, {"a", "b"}} {
		if err := runHash(args, &out); err == nil {
			t.Errorf("runHash(%q) succeeded, want usage error", args)
		}
	}
}

func TestBuildRegistry_DevMode(t *testing.T) {
	mapFile := filepath.Join(t.TempDir(), "dnsmasq.conf")
	content := "dhcp-host=b8:27:eb:00:00:01,porch,10.0.0.20\ndhcp-host=b8:27:eb:00:00:02,hall,10.0.0.99\n"
	if err := os.WriteFile(mapFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	reg, err := buildRegistry(config.ProvidersConfig{
		AddressMapFile: mapFile,
		Remote:         map[string]string{"hall": "10.0.0.21"},
		Local:          []config.LocalActuatorConfig{{ID: "pump", Line: "GPIO17", ActiveLow: true}},
		RequestTimeout: time.Second,
		DevMode:        config.DevModeConfig{Enabled: true},
	}, logging.Discard())
	if err != nil {
		t.Fatalf("buildRegistry() error = %v", err)
	}

	if got := strings.Join(reg.IDs(), ","); got != "hall,porch,pump" {
		t.Errorf("IDs() = %s, want hall,porch,pump", got)
	}
	// Static config wins over the address map.
	if id, ok := reg.LookupAddress("10.0.0.21"); !ok || id != "hall" {
		t.Errorf("LookupAddress(10.0.0.21) = %q, %v", id, ok)
	}
	if _, ok := reg.LookupAddress("10.0.0.99"); ok {
		t.Error("overridden address map entry still registered")
	}

	p, err := reg.Resolve("pump")
	if err != nil {
		t.Fatalf("Resolve(pump) error = %v", err)
	}
	st, err := p.Get(context.Background())
	if err != nil || st.On {
		t.Errorf("simulated active-low pump = %+v, %v; want off", st, err)
	}
}

func TestBuildRegistry_MissingAddressMap(t *testing.T) {
	_, err := buildRegistry(config.ProvidersConfig{
		AddressMapFile: filepath.Join(t.TempDir(), "missing.conf"),
	}, logging.Discard())
	if err == nil {
		t.Fatal("buildRegistry() should fail when the address map is missing")
	}
}

func TestSafetyLimits(t *testing.T) {
	reg, err := provider.NewRegistry(provider.NewMemorySwitch("hall", "10.0.0.21", 0))
	if err != nil {
		t.Fatal(err)
	}

	limits, err := safetyLimits([]config.SafetyTimerConfig{{ID: "hall", MaxOn: time.Hour}}, reg)
	if err != nil || limits["hall"] != time.Hour {
		t.Errorf("safetyLimits() = %v, %v", limits, err)
	}

	if _, err := safetyLimits([]config.SafetyTimerConfig{{ID: "ghost", MaxOn: time.Hour}}, reg); err == nil {
		t.Error("safetyLimits() accepted an unknown provider")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// identityFile holds the runner's enrolled identity inside the state dir
const identityFile = "identity.json"

// identity is the persisted result of enrollment. The api key is the
// runner's only credential, so the file is written 0600.
type identity struct {
	RunnerID string `json:"runner_id"`
	Name     string `json:"name"`
	APIKey   string `json:"api_key"`
}

// loadIdentity reads a previously saved identity. A missing file is not
// an error; it means the agent has never enrolled.
func loadIdentity(stateDir string) (*identity, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, identityFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity: %w", err)
	}
	var id identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("failed to parse identity: %w", err)
	}
	if id.RunnerID == "" || id.APIKey == "" {
		return nil, fmt.Errorf("identity file %s is incomplete", filepath.Join(stateDir, identityFile))
	}
	return &id, nil
}

// saveIdentity writes the identity atomically with owner-only permissions
func saveIdentity(stateDir string, id *identity) error {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(stateDir, identityFile)
	tmp, err := os.CreateTemp(stateDir, ".identity-*")
	if err != nil {
		return fmt.Errorf("failed to write identity: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write identity: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// hostMAC returns the hardware address of the first non-loopback
// interface that has one. The controller pins the runner's credential to
// this value, so it must be stable across restarts.
func hostMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if addr := iface.HardwareAddr.String(); addr != "" {
			return addr
		}
	}
	return ""
}

// hostMachineID reads the systemd machine id, falling back to the
// hostname on systems without one
func hostMachineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	hostname, err := os.Hostname()
	if err != nil {
		return ""
	}
	return hostname
}

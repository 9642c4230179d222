// Package netconfig persists a player's display identity, last-used host
// address, and network tuning defaults as JSON under os.UserConfigDir()
// (A3). It is advisory UI convenience, never required for a session to
// run, so it fails open: a missing or corrupt file yields Default rather
// than an error.
package netconfig

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nethercore-systems/nethercore/internal/wire"
)

// ClientConfig is the persisted shape of a player's local preferences.
type ClientConfig struct {
	DisplayName  string             `json:"display_name"`
	AvatarID     uint32             `json:"avatar_id"`
	ColorRGB     [3]byte            `json:"color_rgb"`
	LastHostAddr string             `json:"last_host_addr"`
	Network      wire.NetworkConfig `json:"network"`
}

// Default returns a ClientConfig populated with sensible defaults.
func Default() ClientConfig {
	return ClientConfig{
		DisplayName: "Player",
		ColorRGB:    [3]byte{200, 200, 200},
		Network: wire.NetworkConfig{
			InputDelay:          2,
			MaxPredictionFrames: 8,
			DisconnectTimeoutMs: 5000,
			DisconnectNotifyMs:  2000,
		},
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "nethercore", "netconfig.json"), nil
}

// Load reads the config file and returns it. If the file is missing,
// unreadable, or fails to parse, the default config is returned — never
// an error (A-P1).
func Load() ClientConfig {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg ClientConfig) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/HBNetNetworks/fortinet-wrapper/internal/config"
	"github.com/HBNetNetworks/fortinet-wrapper/pkg/fortios"
	"gopkg.in/yaml.v3"
)

// devicesFile represents the structure of the devices configuration file.
type devicesFile struct {
	Devices []Device `json:"devices" yaml:"devices"`
}

// Device is one FortiOS appliance declared in a devices file.
type Device struct {
	ID        string `json:"id" yaml:"id"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
	Version   string `json:"version" yaml:"version"`
	VerifySSL *bool  `json:"verify_ssl" yaml:"verify_ssl"`
	Enabled   *bool  `json:"enabled" yaml:"enabled"`
}

// Registry holds the validated device definitions in file order.
type Registry struct {
	devices []Device
	idx     map[string]Device
}

// LoadRegistry loads devices from a YAML/JSON file. Keys referenced via
// api_key_env are resolved from the environment at load time.
func LoadRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("devices file path is empty")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read devices file: %w", err)
	}

	file, err := parseDevicesFile(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(file.Devices) == 0 {
		return nil, errors.New("devices file contains no devices entries")
	}

	return newRegistry(file.Devices)
}

// FromConfig builds a single-device registry from FORTIOS_* / API_KEY settings.
func FromConfig(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	verify := cfg.VerifySSL
	return newRegistry([]Device{{
		ID:        "default",
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Version:   cfg.Version,
		VerifySSL: &verify,
	}})
}

func newRegistry(devices []Device) (*Registry, error) {
	reg := &Registry{
		devices: make([]Device, 0, len(devices)),
		idx:     make(map[string]Device, len(devices)),
	}
	for i := range devices {
		d := sanitizeDevice(devices[i])
		if err := validateDevice(d); err != nil {
			return nil, fmt.Errorf("devices[%d]: %w", i, err)
		}
		if _, exists := reg.idx[d.ID]; exists {
			return nil, fmt.Errorf("duplicate device id %q", d.ID)
		}
		reg.devices = append(reg.devices, d)
		reg.idx[d.ID] = d
	}
	return reg, nil
}

// parseDevicesFile decodes the devices file content by extension, trying every
// known format when the extension is unknown.
func parseDevicesFile(data []byte, ext string) (devicesFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	decoders := []struct {
		name string
		ext  string
		fn   func([]byte, any) error
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	known := false
	for _, d := range decoders {
		if ext == d.ext {
			known = true
		}
	}

	var lastErr error
	for _, d := range decoders {
		if known && ext != d.ext {
			continue
		}
		var file devicesFile
		if err := d.fn(data, &file); err != nil {
			lastErr = fmt.Errorf("decode %s devices: %w", d.name, err)
			continue
		}
		return file, nil
	}
	return devicesFile{}, fmt.Errorf("devices file format not recognized (expected YAML or JSON): %w", lastErr)
}

// sanitizeDevice trims fields, resolves env keys and applies defaults.
func sanitizeDevice(d Device) Device {
	d.ID = strings.TrimSpace(d.ID)
	d.BaseURL = strings.TrimRight(strings.TrimSpace(d.BaseURL), "/")
	d.APIKey = strings.TrimSpace(d.APIKey)
	d.APIKeyEnv = strings.TrimSpace(d.APIKeyEnv)
	d.Version = strings.TrimSpace(d.Version)

	if d.APIKey == "" && d.APIKeyEnv != "" {
		d.APIKey = strings.TrimSpace(os.Getenv(d.APIKeyEnv))
	}
	if d.VerifySSL == nil {
		def := true
		d.VerifySSL = &def
	}
	if d.Enabled == nil {
		def := true
		d.Enabled = &def
	}
	return d
}

// validateDevice checks that required fields are present.
func validateDevice(d Device) error {
	if d.ID == "" {
		return errors.New("id is required")
	}
	if d.BaseURL == "" {
		return fmt.Errorf("base_url is required for device %q", d.ID)
	}
	if d.APIKey == "" {
		if d.APIKeyEnv != "" {
			return fmt.Errorf("environment variable %s for device %q is empty", d.APIKeyEnv, d.ID)
		}
		return fmt.Errorf("api_key or api_key_env is required for device %q", d.ID)
	}
	if _, err := fortios.ParseVersion(d.Version); err != nil {
		return fmt.Errorf("device %q: %w", d.ID, err)
	}
	return nil
}

// ByID returns the device definition by id.
func (r *Registry) ByID(id string) (Device, bool) {
	if r == nil {
		return Device{}, false
	}
	d, ok := r.idx[strings.TrimSpace(id)]
	return d, ok
}

// All returns all configured devices.
func (r *Registry) All() []Device {
	if r == nil {
		return nil
	}
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Enabled returns devices that are enabled.
func (r *Registry) Enabled() []Device {
	var out []Device
	for _, d := range r.All() {
		if d.EnabledValue() {
			out = append(out, d)
		}
	}
	return out
}

// EnabledValue returns enabled flag defaulting to true.
func (d Device) EnabledValue() bool {
	return d.Enabled == nil || *d.Enabled
}

// VerifySSLValue returns verify_ssl defaulting to true.
func (d Device) VerifySSLValue() bool {
	return d.VerifySSL == nil || *d.VerifySSL
}

// FortiOSVersion parses the declared version. Valid after LoadRegistry.
func (d Device) FortiOSVersion() fortios.Version {
	v, _ := fortios.ParseVersion(d.Version)
	return v
}

// Summary is a log-safe view of the device without credentials.
func (d Device) Summary() map[string]any {
	return map[string]any{
		"id":         d.ID,
		"base_url":   d.BaseURL,
		"version":    d.Version,
		"verify_ssl": d.VerifySSLValue(),
	}
}

package domain

import "time"

// Domain contains core models shared by the collector, storage and output.

// Report is the inventory collected from one device in one run.
type Report struct {
	DeviceID        string           `json:"device_id" yaml:"device_id"`
	BaseURL         string           `json:"base_url" yaml:"base_url"`
	Hostname        string           `json:"hostname" yaml:"hostname"`
	Serial          string           `json:"serial" yaml:"serial"`
	FirmwareVersion string           `json:"firmware_version" yaml:"firmware_version"`
	APIVersion      string           `json:"api_version" yaml:"api_version"`
	Interfaces      []InterfaceEntry `json:"interfaces" yaml:"interfaces"`
	CollectedAt     time.Time        `json:"collected_at" yaml:"collected_at"`
}

// InterfaceEntry is the subset of interface fields surfaced in reports.
// Raw keeps the device-defined object as returned.
type InterfaceEntry struct {
	Name   string         `json:"name" yaml:"name"`
	IP     string         `json:"ip,omitempty" yaml:"ip,omitempty"`
	Status string         `json:"status,omitempty" yaml:"status,omitempty"`
	Raw    map[string]any `json:"raw,omitempty" yaml:"-"`
}

// NewInterfaceEntry projects the well-known fields out of a raw interface object.
func NewInterfaceEntry(raw map[string]any) InterfaceEntry {
	str := func(k string) string {
		s, _ := raw[k].(string)
		return s
	}
	return InterfaceEntry{
		Name:   str("name"),
		IP:     str("ip"),
		Status: str("status"),
		Raw:    raw,
	}
}

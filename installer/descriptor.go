package installer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DescriptorFileName is the fixed name a setup descriptor is read from and
// written as, always resolved relative to the driver's temp directory.
const DescriptorFileName = "setup.json"

// SetupWASMFileName is the fixed name of the ISetup WASM module bundled
// alongside the descriptor. There is no runtime scan for a constructible
// implementor; one package, one well-known file name, is the whole
// registration.
const SetupWASMFileName = "setup.wasm"

// Descriptor is the setup.json contract: what to run, how, and whether the
// caller must exit before it runs.
type Descriptor struct {
	Command                        string  `json:"Command"`
	Arguments                      *string `json:"Arguments"`
	ExitRequired                    bool    `json:"ExitRequired"`
	RequireAdministratorPrivileges bool    `json:"RequireAdministratorPrivileges"`
	HideWindow                     bool    `json:"HideWindow"`
}

// LoadDescriptor reads and validates setup.json from dir.
func LoadDescriptor(dir string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, DescriptorFileName))
	if err != nil {
		return nil, fmt.Errorf("installer: read descriptor: %w", err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("installer: parse descriptor: %w", err)
	}
	if d.Command == "" {
		return nil, fmt.Errorf("%w: descriptor command is required", ErrUsage)
	}
	return &d, nil
}

// Save writes d to dir as setup.json, for a create verb that bundles a
// setup payload into a package's staging directory.
func (d *Descriptor) Save(dir string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("installer: marshal descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, DescriptorFileName), data, 0o644); err != nil {
		return fmt.Errorf("installer: write descriptor: %w", err)
	}
	return nil
}

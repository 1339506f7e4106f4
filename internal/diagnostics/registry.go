package diagnostics

import (
	"fmt"
	"strings"

	"github.com/bebsworthy/diagmcp/internal/config"
	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// Registry is the ordered set of enabled capabilities.
// It is built once at startup and read-only afterwards.
type Registry struct {
	capabilities []Capability
	byName       map[string]Capability
}

// NewRegistry builds a registry from caps, dropping the ones cfg disables.
// Naming an unknown capability in cfg.Disabled, or registering the same name
// twice, is a configuration error.
func NewRegistry(cfg config.DiagnosticsConfig, caps ...Capability) (*Registry, error) {
	r := &Registry{byName: make(map[string]Capability, len(caps))}

	known := make(map[string]bool, len(caps))
	for _, c := range caps {
		name := c.Name()
		if known[name] {
			return nil, diagerrors.ConfigurationError(protocol.ErrorCodeConfiguration,
				fmt.Sprintf("capability %q registered twice", name), nil)
		}
		known[name] = true
	}

	for _, name := range cfg.Disabled {
		if !known[strings.ToLower(name)] {
			return nil, diagerrors.ConfigurationError(protocol.ErrorCodeUnknownCapability,
				fmt.Sprintf("diagnostics.disabled names unknown capability %q", name), nil)
		}
	}

	for _, c := range caps {
		if cfg.IsDisabled(c.Name()) {
			continue
		}
		r.capabilities = append(r.capabilities, c)
		r.byName[c.Name()] = c
	}
	return r, nil
}

// NewDefaultRegistry builds the registry of built-in capabilities against the host
func NewDefaultRegistry(cfg config.DiagnosticsConfig) (*Registry, error) {
	return NewRegistry(cfg, Builtins(NewToolkit(cfg))...)
}

// Get returns the named capability
func (r *Registry) Get(name string) (Capability, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// List returns the capabilities in registration order
func (r *Registry) List() []Capability {
	out := make([]Capability, len(r.capabilities))
	copy(out, r.capabilities)
	return out
}

// Names returns the capability names in registration order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		names = append(names, c.Name())
	}
	return names
}

// Len returns the number of enabled capabilities
func (r *Registry) Len() int {
	return len(r.capabilities)
}

// Infos describes every capability for listing
func (r *Registry) Infos() []protocol.CapabilityInfo {
	infos := make([]protocol.CapabilityInfo, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		infos = append(infos, protocol.CapabilityInfo{
			Name:        c.Name(),
			Description: c.Description(),
			Category:    c.Category(),
			Timeout:     c.Timeout().String(),
		})
	}
	return infos
}

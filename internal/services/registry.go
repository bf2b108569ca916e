// Package services maps TCP port numbers to well-known service names and
// descriptions. A Registry is loaded once and is read-only afterwards, so
// it is safe for concurrent lookups.
package services

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/freaksdesign/PertScan/internal/errors"
)

// NotAvailable is returned for the name and description of unknown ports.
const NotAvailable = "not available"

const (
	minPort = 0
	maxPort = 65535
)

//go:embed services.yaml
var embeddedRegistry []byte

// Entry is the metadata registered for one port.
type Entry struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Registry is an immutable port to Entry mapping.
type Registry struct {
	entries map[int]Entry
}

// Parse builds a registry from YAML keyed by the port number as a string.
func Parse(data []byte) (*Registry, error) {
	raw := make(map[string]Entry)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to parse service registry", err)
	}

	entries := make(map[int]Entry, len(raw))
	for key, entry := range raw {
		port, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || port < minPort || port > maxPort {
			return nil, errors.NewConfigFieldError(errors.CodeValidation, "invalid port key in service registry", key, key)
		}
		entries[port] = entry
	}

	return &Registry{entries: entries}, nil
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the registry compiled into the binary.
func Default() *Registry {
	defaultOnce.Do(func() {
		reg, err := Parse(embeddedRegistry)
		if err != nil {
			panic(fmt.Sprintf("embedded service registry is invalid: %v", err))
		}
		defaultRegistry = reg
	})
	return defaultRegistry
}

// Load returns the embedded registry overlaid with the entries in path.
// An empty path returns Default.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapConfigError(errors.CodeFileNotFound, "service registry file not found", err)
		}
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read service registry", err)
	}

	overrides, err := Parse(data)
	if err != nil {
		return nil, err
	}

	base := Default()
	merged := make(map[int]Entry, len(base.entries)+len(overrides.entries))
	for port, entry := range base.entries {
		merged[port] = entry
	}
	for port, entry := range overrides.entries {
		merged[port] = entry
	}

	return &Registry{entries: merged}, nil
}

// Lookup returns the service name and description for port. Misses and
// blank fields resolve to NotAvailable.
func (r *Registry) Lookup(port int) (name, description string) {
	entry, ok := r.entries[port]
	if !ok {
		return NotAvailable, NotAvailable
	}

	name, description = entry.Name, entry.Description
	if name == "" {
		name = NotAvailable
	}
	if description == "" {
		description = NotAvailable
	}
	return name, description
}

// Len returns the number of registered ports.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Ports returns the registered ports in ascending order.
func (r *Registry) Ports() []int {
	ports := make([]int, 0, len(r.entries))
	for port := range r.entries {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

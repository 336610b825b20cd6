// Package extensions implements the extension registry and hook
// pipeline: manifest validation, hook dispatch across capability
// families, and the aggregation rules governing how hook results from
// multiple installed extensions combine into one decision.
package extensions

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
)

// manifestSchemaDoc is the JSON Schema every extension manifest must
// satisfy before registration. Declared inline rather than loaded from
// disk, matching how per-tool schemas are inlined elsewhere in this
// codebase.
const manifestSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["extension_id", "short_code", "version", "publisher"],
  "properties": {
    "extension_id": {"type": "string", "minLength": 1},
    "short_code": {"type": "string", "pattern": "^[a-z]{1,10}$"},
    "version": {"type": "string", "minLength": 1},
    "publisher": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "capabilities": {"type": "array", "items": {"type": "string"}}
  }
}`

// ManifestValidator compiles and applies the extension manifest schema.
type ManifestValidator struct {
	schema *jsonschema.Schema
}

func NewManifestValidator() (*ManifestValidator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://vorion.dev/schemas/extension-manifest.json"
	if err := c.AddResource(url, strings.NewReader(manifestSchemaDoc)); err != nil {
		return nil, fmt.Errorf("extensions: load manifest schema: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("extensions: compile manifest schema: %w", err)
	}
	return &ManifestValidator{schema: compiled}, nil
}

// Validate checks a raw manifest document (as decoded JSON) against the
// extension manifest schema.
func (v *ManifestValidator) Validate(doc map[string]any) error {
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("extensions: manifest validation failed: %w", err)
	}
	return nil
}

// ToDescriptor converts a validated manifest document into the durable
// contracts.ExtensionDescriptor.
func ToDescriptor(doc map[string]any) contracts.ExtensionDescriptor {
	d := contracts.ExtensionDescriptor{
		ExtensionID: str(doc["extension_id"]),
		ShortCode:   str(doc["short_code"]),
		Version:     str(doc["version"]),
		Publisher:   str(doc["publisher"]),
		Description: str(doc["description"]),
	}
	if caps, ok := doc["capabilities"].([]any); ok {
		d.Capabilities = make([]string, 0, len(caps))
		for _, c := range caps {
			d.Capabilities = append(d.Capabilities, str(c))
		}
	}
	return d
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// Registry holds installed extension descriptors and their hook sets.
type Registry struct {
	mu         sync.RWMutex
	validator  *ManifestValidator
	extensions map[string]*Registration
	order      []string // extension IDs in registration order
}

// Registration binds an installed extension's descriptor to the hook
// implementations it declares.
type Registration struct {
	Descriptor contracts.ExtensionDescriptor
	Hooks      Hooks
}

func NewRegistry(validator *ManifestValidator) *Registry {
	return &Registry{validator: validator, extensions: make(map[string]*Registration)}
}

// Register validates a manifest document and installs the extension
// with its hook implementations.
func (r *Registry) Register(doc map[string]any, hooks Hooks) (*Registration, error) {
	if err := r.validator.Validate(doc); err != nil {
		return nil, err
	}
	descriptor := ToDescriptor(doc)
	reg := &Registration{Descriptor: descriptor, Hooks: hooks}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.extensions[descriptor.ExtensionID]; !exists {
		r.order = append(r.order, descriptor.ExtensionID)
	}
	r.extensions[descriptor.ExtensionID] = reg
	return reg, nil
}

// Unregister removes an installed extension.
func (r *Registry) Unregister(extensionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.extensions[extensionID]; !exists {
		return
	}
	delete(r.extensions, extensionID)
	for i, id := range r.order {
		if id == extensionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// All returns a snapshot of every installed registration, in
// registration order.
func (r *Registry) All() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.extensions))
	for _, id := range r.order {
		out = append(out, r.extensions[id])
	}
	return out
}

// ByShortCode returns the installed registrations whose ShortCode is in
// codes, in registration order. Used to scope a
// pipeline run to the extension set an agent's ACI actually declares.
func (r *Registry) ByShortCode(codes []string) []*Registration {
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[c] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(codes))
	for _, id := range r.order {
		reg := r.extensions[id]
		if want[reg.Descriptor.ShortCode] {
			out = append(out, reg)
		}
	}
	return out
}

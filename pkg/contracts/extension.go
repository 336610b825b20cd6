package contracts

// ExtensionDescriptor is the registered metadata for a pluggable
// policy/monitoring/trust/audit module.
//
// The hook implementations themselves are not part of the durable
// descriptor — they live behind the capability interfaces in
// pkg/extensions (see the pkg/extensions section of DESIGN.md on
// capability interfaces replacing dynamic polymorphism).
type ExtensionDescriptor struct {
	// ExtensionID conventionally has the shape "aci-ext-{name}-v{major}";
	// the manifest schema only requires a non-empty string.
	ExtensionID string `json:"extension_id"`
	// ShortCode matches [a-z]{1,10} and is what an agent's ACI
	// "#shortcode,..." suffix references.
	ShortCode string `json:"short_code"`
	// Version is the extension's full semver string.
	Version     string   `json:"version"`
	Publisher   string   `json:"publisher"`
	Description string   `json:"description,omitempty"`
	// Capabilities lists the declared hook family names this extension
	// implements (e.g. "capability.preCheck", "policy.evaluate").
	Capabilities []string `json:"capabilities,omitempty"`
}

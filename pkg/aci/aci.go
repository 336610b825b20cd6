// Package aci parses and builds Agent Capability Identifier strings:
//
//	<registry>.<org>.<class>:<mask>-L<level>@<semver>[#ext1,ext2]
//
// e.g. "a3i.vorion.banquet-advisor:FHC-L3@1.2.0#gov,audit".
package aci

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ACI is the parsed form of an Agent Capability Identifier string.
type ACI struct {
	Registry   string
	Org        string
	Class      string
	Mask       string // capability mask token, e.g. "FHC"
	Level      int    // competence level, 0-5
	Version    *semver.Version
	Extensions []string // short codes, e.g. ["gov", "audit"]
}

// Parse decodes a canonical ACI string into its components, validating
// the version against semver and rejecting malformed masks/levels.
func Parse(s string) (*ACI, error) {
	extPart := ""
	body := s
	if i := strings.IndexByte(s, '#'); i >= 0 {
		body, extPart = s[:i], s[i+1:]
	}

	atIdx := strings.IndexByte(body, '@')
	if atIdx < 0 {
		return nil, fmt.Errorf("aci: missing version separator '@' in %q", s)
	}
	head, versionStr := body[:atIdx], body[atIdx+1:]

	colonIdx := strings.IndexByte(head, ':')
	if colonIdx < 0 {
		return nil, fmt.Errorf("aci: missing mask separator ':' in %q", s)
	}
	identityPart, maskLevelPart := head[:colonIdx], head[colonIdx+1:]

	idFields := strings.Split(identityPart, ".")
	if len(idFields) != 3 {
		return nil, fmt.Errorf("aci: identity must be <registry>.<org>.<class>, got %q", identityPart)
	}

	dashIdx := strings.LastIndexByte(maskLevelPart, '-')
	if dashIdx < 0 {
		return nil, fmt.Errorf("aci: missing level separator '-' in %q", maskLevelPart)
	}
	mask, levelToken := maskLevelPart[:dashIdx], maskLevelPart[dashIdx+1:]
	if mask == "" {
		return nil, fmt.Errorf("aci: empty capability mask in %q", s)
	}
	if !strings.HasPrefix(levelToken, "L") {
		return nil, fmt.Errorf("aci: level token must start with 'L', got %q", levelToken)
	}
	level, err := strconv.Atoi(levelToken[1:])
	if err != nil {
		return nil, fmt.Errorf("aci: invalid competence level %q: %w", levelToken, err)
	}
	if level < 0 || level > 5 {
		return nil, fmt.Errorf("aci: competence level %d out of range [0,5]", level)
	}

	version, err := semver.NewVersion(versionStr)
	if err != nil {
		return nil, fmt.Errorf("aci: invalid semver %q: %w", versionStr, err)
	}

	var extensions []string
	if extPart != "" {
		extensions = strings.Split(extPart, ",")
		for i, e := range extensions {
			extensions[i] = strings.TrimSpace(e)
			if extensions[i] == "" {
				return nil, fmt.Errorf("aci: empty extension short code in %q", s)
			}
		}
	}

	return &ACI{
		Registry:   idFields[0],
		Org:        idFields[1],
		Class:      idFields[2],
		Mask:       mask,
		Level:      level,
		Version:    version,
		Extensions: extensions,
	}, nil
}

// String reassembles the canonical ACI string. Parse(a.String()) always
// round-trips to an equivalent ACI.
func (a *ACI) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s.%s:%s-L%d@%s", a.Registry, a.Org, a.Class, a.Mask, a.Level, a.Version.String())
	if len(a.Extensions) > 0 {
		b.WriteByte('#')
		b.WriteString(strings.Join(a.Extensions, ","))
	}
	return b.String()
}

// HasExtension reports whether shortCode is declared on this ACI.
func (a *ACI) HasExtension(shortCode string) bool {
	for _, e := range a.Extensions {
		if e == shortCode {
			return true
		}
	}
	return false
}

// SatisfiesVersion reports whether the ACI's version satisfies a semver
// constraint string (e.g. ">= 1.0.0, < 2.0.0"), used when an extension
// manifest declares which agent-class versions it supports.
func (a *ACI) SatisfiesVersion(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("aci: invalid constraint %q: %w", constraint, err)
	}
	return c.Check(a.Version), nil
}

// Package orgconfig implements the organization security settings
// supplement: allowedDomains/allowedIpRanges enforced at the HTTP edge,
// plus stored mfaRequired, sessionTimeout and apiKeyRotationDays values.
// SessionTTL and KeyIsStale derive a session lifetime and a key-staleness
// check from the latter two, but no session or API-key code calls them,
// and mfaRequired is only stored. Stored alongside admission limits
// in the organization's JSONB config, under the "security" key.
package orgconfig

import (
	"encoding/json"
	"net"
	"strings"
	"time"
)

// Settings is the JSON shape stored under organizations.config.security.
type Settings struct {
	AllowedDomains     []string `json:"allowedDomains,omitempty"`
	AllowedIPRanges    []string `json:"allowedIpRanges,omitempty"`
	MFARequired        bool     `json:"mfaRequired"`
	SessionTimeout     int      `json:"sessionTimeoutMinutes,omitempty"`
	APIKeyRotationDays int      `json:"apiKeyRotationDays,omitempty"`
}

const defaultSessionTimeoutMinutes = 12 * 60

// FromConfig extracts Settings from an organization's raw config column. A
// config with no "security" key, or an unparseable one, yields the zero
// value with SessionTimeout defaulted.
func FromConfig(config json.RawMessage) Settings {
	var wrapper struct {
		Security *Settings `json:"security"`
	}
	var s Settings
	if len(config) > 0 {
		if err := json.Unmarshal(config, &wrapper); err == nil && wrapper.Security != nil {
			s = *wrapper.Security
		}
	}
	if s.SessionTimeout <= 0 {
		s.SessionTimeout = defaultSessionTimeoutMinutes
	}
	return s
}

// SessionTTL returns the session lifetime implied by Settings.
func (s Settings) SessionTTL() time.Duration {
	return time.Duration(s.SessionTimeout) * time.Minute
}

// AllowsEmailDomain reports whether email is permitted to authenticate,
// given the configured allow-list. An empty AllowedDomains list permits
// every domain.
func (s Settings) AllowsEmailDomain(email string) bool {
	if len(s.AllowedDomains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range s.AllowedDomains {
		if strings.ToLower(d) == domain {
			return true
		}
	}
	return false
}

// AllowsIP reports whether ip is permitted, given the configured CIDR
// allow-list. An empty AllowedIPRanges list permits every address. A
// malformed stored CIDR is skipped rather than rejecting every request.
func (s Settings) AllowsIP(ip net.IP) bool {
	if len(s.AllowedIPRanges) == 0 {
		return true
	}
	for _, cidr := range s.AllowedIPRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// KeyIsStale reports whether an API key of the given age should be flagged
// for rotation. APIKeyRotationDays <= 0 disables the warning.
func (s Settings) KeyIsStale(age time.Duration) bool {
	if s.APIKeyRotationDays <= 0 {
		return false
	}
	return age >= time.Duration(s.APIKeyRotationDays)*24*time.Hour
}

// MergeIntoConfig returns config with its "security" key replaced by s,
// preserving every other top-level key (e.g. "limits").
func MergeIntoConfig(config json.RawMessage, s Settings) (json.RawMessage, error) {
	raw := map[string]json.RawMessage{}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &raw); err != nil {
			raw = map[string]json.RawMessage{}
		}
	}
	encoded, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	raw["security"] = encoded
	return json.Marshal(raw)
}

package sdk

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// VariationKind tags the decoded shape of a flag value. The shape is
// checked once at deserialization instead of on every read.
type VariationKind int

const (
	// VariationJSON is any value that is not a plain bool, number or string
	VariationJSON VariationKind = iota
	// VariationBool is a plain boolean value
	VariationBool
	// VariationNumber is a plain numeric value
	VariationNumber
	// VariationString is a plain string value
	VariationString
)

// String returns the string representation of the variation kind
func (k VariationKind) String() string {
	switch k {
	case VariationBool:
		return "bool"
	case VariationNumber:
		return "number"
	case VariationString:
		return "string"
	default:
		return "json"
	}
}

// Variation is a flag value decoded into a tagged variant. Accessors
// return (value, ok) pairs; ok is false when the stored shape does not
// match the requested one.
//
// Example:
//
//	if s, ok := entry.Variation.String(); ok {
//	    fmt.Println("hero text:", s)
//	}
type Variation struct {
	kind VariationKind
	b    bool
	n    float64
	s    string
	raw  json.RawMessage
}

// decodeVariation classifies a raw JSON value once.
func decodeVariation(raw json.RawMessage) Variation {
	v := Variation{kind: VariationJSON, raw: raw}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return v
	}
	switch trimmed[0] {
	case 't', 'f':
		var b bool
		if json.Unmarshal(trimmed, &b) == nil {
			return Variation{kind: VariationBool, b: b, raw: raw}
		}
	case '"':
		var s string
		if json.Unmarshal(trimmed, &s) == nil {
			return Variation{kind: VariationString, s: s, raw: raw}
		}
	default:
		var n float64
		if json.Unmarshal(trimmed, &n) == nil {
			return Variation{kind: VariationNumber, n: n, raw: raw}
		}
	}
	return v
}

// Kind returns the decoded shape of the value.
func (v Variation) Kind() VariationKind { return v.kind }

// Bool returns the boolean value, ok=false when the shape differs.
func (v Variation) Bool() (bool, bool) { return v.b, v.kind == VariationBool }

// Number returns the numeric value, ok=false when the shape differs.
func (v Variation) Number() (float64, bool) { return v.n, v.kind == VariationNumber }

// String returns the string value, ok=false when the shape differs.
func (v Variation) String() (string, bool) { return v.s, v.kind == VariationString }

// JSON returns the raw JSON value. Always available.
func (v Variation) JSON() json.RawMessage { return v.raw }

// Value returns the decoded Go value: bool, float64, string, or
// json.RawMessage for structured values.
func (v Variation) Value() any {
	switch v.kind {
	case VariationBool:
		return v.b
	case VariationNumber:
		return v.n
	case VariationString:
		return v.s
	default:
		return v.raw
	}
}

// equal compares the canonical raw bytes of two variations.
func (v Variation) equal(other Variation) bool {
	return bytes.Equal(bytes.TrimSpace(v.raw), bytes.TrimSpace(other.raw))
}

// ConfigMetadata carries the identifying fields of a flag entry used for
// usage summaries.
type ConfigMetadata struct {
	ExperienceID string `json:"experience_id"`
	ConfigID     string `json:"config_id"`
	VariationID  string `json:"variation_id"`
	Version      string `json:"version"`
}

// complete reports whether all four identifying fields are present.
func (m ConfigMetadata) complete() bool {
	return m.ExperienceID != "" && m.ConfigID != "" && m.VariationID != "" && m.Version != ""
}

// ConfigEntry is the current value of one flag, owned by the settings
// synchronizer and exposed to callers as a read-only snapshot.
type ConfigEntry struct {
	// Key is the flag key
	Key string
	// Variation is the flag's current value
	Variation Variation
	// Metadata identifies the experience/config/variation for analytics
	Metadata ConfigMetadata
}

// ConfigSnapshot is the full key -> entry mapping plus the transport
// validators used for the next conditional request. Snapshots are replaced
// wholesale by a single atomic assignment, never mutated in place.
type ConfigSnapshot struct {
	// Entries maps flag key to its current entry
	Entries map[string]ConfigEntry
	// ETag is the entity tag of the document this snapshot was built from
	ETag string
	// LastModified is the Last-Modified validator of the document
	LastModified string
	// FetchedAt is when the snapshot was installed
	FetchedAt time.Time
}

// emptySnapshot returns a snapshot with no entries.
func emptySnapshot() *ConfigSnapshot {
	return &ConfigSnapshot{Entries: map[string]ConfigEntry{}}
}

// diffChangedKeys returns the keys whose value differs between two entry
// maps, including keys added to or removed from next.
func diffChangedKeys(prev, next map[string]ConfigEntry) []string {
	var changed []string
	for key, entry := range next {
		old, ok := prev[key]
		if !ok || !old.Variation.equal(entry.Variation) {
			changed = append(changed, key)
		}
	}
	for key := range prev {
		if _, ok := next[key]; !ok {
			changed = append(changed, key)
		}
	}
	return changed
}

// flexString decodes a JSON string or number into a string, since the
// remote emits version fields in either shape.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// wireConfigEntry is the flag entry shape on the wire.
type wireConfigEntry struct {
	Variation    json.RawMessage `json:"variation"`
	ExperienceID string          `json:"experience_id"`
	ConfigID     string          `json:"config_id"`
	VariationID  string          `json:"variation_id"`
	Version      flexString      `json:"version"`
}

// wireSettingsDocument is the full settings document: account enablement
// flags plus the flag map.
type wireSettingsDocument struct {
	AccountEnabled *bool                      `json:"cf_account_enabled"`
	SkipSDK        *bool                      `json:"cf_skip_sdk"`
	Configs        map[string]wireConfigEntry `json:"configs"`
}

// settingsDocument is the decoded settings document.
type settingsDocument struct {
	enabled bool
	entries map[string]ConfigEntry
}

// parseSettingsDocument decodes and validates a settings document body.
// Entries without a variation field are discarded; the document itself is
// only an error when it is not valid JSON.
func parseSettingsDocument(body []byte) (settingsDocument, error) {
	var wire wireSettingsDocument
	if err := json.Unmarshal(body, &wire); err != nil {
		return settingsDocument{}, NewError(ErrorTypeValidation, fmt.Sprintf("malformed settings document: %v", err), err)
	}

	enabled := true
	if wire.AccountEnabled != nil && !*wire.AccountEnabled {
		enabled = false
	}
	if wire.SkipSDK != nil && *wire.SkipSDK {
		enabled = false
	}

	entries := make(map[string]ConfigEntry, len(wire.Configs))
	for key, we := range wire.Configs {
		if len(bytes.TrimSpace(we.Variation)) == 0 {
			continue
		}
		entries[key] = ConfigEntry{
			Key:       key,
			Variation: decodeVariation(we.Variation),
			Metadata: ConfigMetadata{
				ExperienceID: we.ExperienceID,
				ConfigID:     we.ConfigID,
				VariationID:  we.VariationID,
				Version:      string(we.Version),
			},
		}
	}

	return settingsDocument{enabled: enabled, entries: entries}, nil
}

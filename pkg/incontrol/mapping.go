package incontrol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Mapping describes where the device endpoints live and where the fix time sits in a
// GPS response. Paths may contain {org_id} and {serial} placeholders; TimestampField is
// a dotted path into the JSON body.
type Mapping struct {
	GPSPath        string
	RebootPath     string
	TimestampField string
}

// Known API shapes keyed by a semver constraint on the configured mapping version.
var mappingVersions = []struct {
	constraint string
	mapping    Mapping
}{
	{
		constraint: ">= 1.0.0, < 2.0.0",
		mapping: Mapping{
			GPSPath:        "/rest/o/{org_id}/d/{serial}/gps",
			RebootPath:     "/rest/o/{org_id}/d/{serial}/reboot",
			TimestampField: "timestamp",
		},
	},
	{
		constraint: ">= 2.0.0, < 3.0.0",
		mapping: Mapping{
			GPSPath:        "/rest/o/{org_id}/devices/{serial}/gps",
			RebootPath:     "/rest/o/{org_id}/devices/{serial}/reboot",
			TimestampField: "gps_info.timestamp",
		},
	},
}

// ResolveMapping returns the preset for version with any non-empty override field applied.
func ResolveMapping(version string, overrides Mapping) (Mapping, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return Mapping{}, fmt.Errorf("invalid mapping version %q: %w", version, err)
	}

	var resolved *Mapping
	for _, mv := range mappingVersions {
		c, err := semver.NewConstraint(mv.constraint)
		if err != nil {
			return Mapping{}, fmt.Errorf("invalid mapping constraint %q: %w", mv.constraint, err)
		}
		if c.Check(v) {
			m := mv.mapping
			resolved = &m
			break
		}
	}
	if resolved == nil {
		return Mapping{}, fmt.Errorf("unsupported mapping version %s", v)
	}

	if overrides.GPSPath != "" {
		resolved.GPSPath = overrides.GPSPath
	}
	if overrides.RebootPath != "" {
		resolved.RebootPath = overrides.RebootPath
	}
	if overrides.TimestampField != "" {
		resolved.TimestampField = overrides.TimestampField
	}
	return *resolved, nil
}

// extractTimestamp walks field through the decoded body. Bodies wrapped in a
// {"response": {...}} envelope are unwrapped when the field is not found at the top.
// A missing or null value yields "".
func extractTimestamp(body []byte, field string) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("failed to decode gps response: %w", err)
	}

	if value, ok := lookup(doc, field); ok {
		return stringify(value), nil
	}
	if inner, ok := doc["response"].(map[string]any); ok {
		if value, ok := lookup(inner, field); ok {
			return stringify(value), nil
		}
	}
	return "", nil
}

func lookup(doc map[string]any, field string) (any, bool) {
	var current any = doc
	for _, key := range strings.Split(field, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

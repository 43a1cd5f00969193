package watchdog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benmeehan/gps-watchdog/internal/constants"
	"github.com/benmeehan/gps-watchdog/internal/models"
)

// ParseError reports a GPS timestamp that could not be used. It never escapes evaluation
// as a failure; the device is simply considered stale.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid gps timestamp %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	errEmptyTimestamp    = errors.New("empty timestamp")
	errSentinelTimestamp = errors.New("sentinel zero timestamp")
	errNotISO8601        = errors.New("not an ISO-8601 timestamp")
)

// Values some firmware reports instead of omitting a fix time.
var sentinelTimestamps = map[string]struct{}{
	"0":                    {},
	"0000-00-00 00:00:00":  {},
	"0000-00-00T00:00:00":  {},
	"0000-00-00T00:00:00Z": {},
}

// Layouts tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = buildTimestampLayouts()

// buildTimestampLayouts covers the ISO-8601 forms firmware emits: extended and basic
// notation, minute or second precision, and "Z", "±hh:mm", "±hhmm" or "±hh" offsets.
func buildTimestampLayouts() []string {
	var layouts []string
	for _, date := range []string{"2006-01-02", "20060102"} {
		for _, sep := range []string{"T", " "} {
			for _, clock := range []string{"15:04:05.999999999", "15:04", "150405.999999999", "1504"} {
				for _, zone := range []string{"Z07:00", "Z0700", "Z07", ""} {
					layouts = append(layouts, date+sep+clock+zone)
				}
			}
		}
	}
	return append(layouts, "2006-01-02", "20060102")
}

// ParseTimestamp parses an ISO-8601 GPS timestamp, including the "Z" designator.
func ParseTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, &ParseError{Value: raw, Err: errEmptyTimestamp}
	}
	if _, ok := sentinelTimestamps[value]; ok {
		return time.Time{}, &ParseError{Value: raw, Err: errSentinelTimestamp}
	}

	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, value, time.UTC)
		if err != nil {
			continue
		}
		if t.IsZero() || t.Unix() == 0 {
			return time.Time{}, &ParseError{Value: raw, Err: errSentinelTimestamp}
		}
		return t.UTC(), nil
	}
	return time.Time{}, &ParseError{Value: raw, Err: errNotISO8601}
}

// Evaluation is the detailed result of Evaluate. Age is only meaningful when Err is nil
// and a sample was present; a fix from the future has age 0.
type Evaluation struct {
	State constants.HealthState
	Age   time.Duration
	Err   error
}

// Evaluate classifies a GPS sample. A missing sample or an unusable timestamp is stale.
// The comparison is strict: an age equal to the threshold is still fresh, and a fix from
// the future (clock skew) is fresh.
func Evaluate(sample *models.GpsSample, threshold time.Duration, now time.Time) constants.HealthState {
	return EvaluateDetailed(sample, threshold, now).State
}

// EvaluateDetailed is Evaluate plus the computed age and the reason for staleness.
func EvaluateDetailed(sample *models.GpsSample, threshold time.Duration, now time.Time) Evaluation {
	if sample == nil {
		return Evaluation{State: constants.HealthStale}
	}

	fixTime, err := ParseTimestamp(sample.Timestamp)
	if err != nil {
		return Evaluation{State: constants.HealthStale, Err: err}
	}

	age := now.Sub(fixTime)
	if age < 0 {
		age = 0
	}
	if age > threshold {
		return Evaluation{State: constants.HealthStale, Age: age}
	}
	return Evaluation{State: constants.HealthFresh, Age: age}
}

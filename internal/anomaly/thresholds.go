// ABOUTME: Detection threshold configuration loaded from a TOML file
// ABOUTME: Missing file or fields fall back to documented defaults

package anomaly

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Thresholds holds the tunable detection limits. All fields are optional in
// the TOML file; zero values are replaced by defaults during normalization.
type Thresholds struct {
	IntegrityMin       float64       `toml:"integrity_min"`       // below this, either agent fires integrity_divergence
	IntegrityGap       float64       `toml:"integrity_gap"`       // max tolerated |integrityA - integrityB|
	LatencyMaxMS       int           `toml:"latency_max_ms"`      // above this, latency_spike fires
	SynchronyMin       float64       `toml:"synchrony_min"`       // below this, synchrony_breakdown fires
	ConflictEscalation int           `toml:"conflict_escalation"` // conflict events per hour before escalation fires
	CooldownRaw        string        `toml:"cooldown"`            // e.g. "10m"; per-type dedupe window
	Cooldown           time.Duration `toml:"-"`
}

// DefaultThresholds returns the built-in detection limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		IntegrityMin:       85,
		IntegrityGap:       10,
		LatencyMaxMS:       5000,
		SynchronyMin:       70,
		ConflictEscalation: 3,
		Cooldown:           10 * time.Minute,
	}
}

// normalize fills zero fields with defaults and parses the cooldown string.
func (t *Thresholds) normalize() error {
	defaults := DefaultThresholds()
	if t.IntegrityMin <= 0 {
		t.IntegrityMin = defaults.IntegrityMin
	}
	if t.IntegrityGap <= 0 {
		t.IntegrityGap = defaults.IntegrityGap
	}
	if t.LatencyMaxMS <= 0 {
		t.LatencyMaxMS = defaults.LatencyMaxMS
	}
	if t.SynchronyMin <= 0 {
		t.SynchronyMin = defaults.SynchronyMin
	}
	if t.ConflictEscalation <= 0 {
		t.ConflictEscalation = defaults.ConflictEscalation
	}
	if t.CooldownRaw != "" {
		d, err := time.ParseDuration(t.CooldownRaw)
		if err != nil {
			return fmt.Errorf("invalid cooldown %q: %w", t.CooldownRaw, err)
		}
		t.Cooldown = d
	}
	if t.Cooldown <= 0 {
		t.Cooldown = defaults.Cooldown
	}
	return nil
}

// LoadThresholds reads detection limits from a TOML file. An empty path or a
// missing file yields the defaults; a malformed file is an error so a typo
// never silently disables detection.
func LoadThresholds(path string) (Thresholds, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultThresholds(), nil
	}
	if err != nil {
		return Thresholds{}, fmt.Errorf("reading thresholds file: %w", err)
	}

	var t Thresholds
	if err := toml.Unmarshal(data, &t); err != nil {
		return Thresholds{}, fmt.Errorf("parsing thresholds file: %w", err)
	}
	if err := t.normalize(); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

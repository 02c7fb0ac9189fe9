// Package profile loads transition profiles, which make the simulated
// backend take configurable time to complete each lifecycle phase.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	Version1 = 1
)

type Phase string

const (
	PhaseBoot     Phase = "boot"
	PhaseStop     Phase = "stop"
	PhaseShutdown Phase = "shutdown"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == 0 {
		return nil
	}
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("decoding duration: %w", err)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

type StringMatcher struct {
	Equals *string `yaml:"equals"`
	Glob   *string `yaml:"glob"`
}

type RuleWhen struct {
	Action       string         `yaml:"action"`
	InstanceType *StringMatcher `yaml:"instance_type"`
	ImageID      *StringMatcher `yaml:"image_id"`
}

type DelaySpec struct {
	Boot     *Duration `yaml:"boot"`
	Stop     *Duration `yaml:"stop"`
	Shutdown *Duration `yaml:"shutdown"`
}

type Rule struct {
	Name  string    `yaml:"name"`
	When  RuleWhen  `yaml:"when"`
	Delay DelaySpec `yaml:"delay"`
	// FailBoot makes matching instances fail to boot
	FailBoot bool `yaml:"fail_boot"`
}

type Profile struct {
	Version int    `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

type MatchInput struct {
	Action       string
	InstanceType string
	ImageID      string
}

func LoadFile(path string) (*Profile, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, errors.New("profile path is empty")
	}
	raw, err := os.ReadFile(trimmedPath)
	if err != nil {
		return nil, fmt.Errorf("reading profile %q: %w", path, err)
	}
	profile, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", path, err)
	}
	return profile, nil
}

// Parse decodes and validates a YAML profile. Unknown fields are errors.
func Parse(raw []byte) (*Profile, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)

	var profile Profile
	if err := decoder.Decode(&profile); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	if err := profile.validate(); err != nil {
		return nil, fmt.Errorf("validating: %w", err)
	}
	return &profile, nil
}

func (p *Profile) validate() error {
	if p.Version != Version1 {
		return fmt.Errorf("unsupported version %d", p.Version)
	}
	for i := range p.Rules {
		if err := p.Rules[i].validate(); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return nil
}

func (r *Rule) validate() error {
	for name, matcher := range map[string]*StringMatcher{
		"when.instance_type": r.When.InstanceType,
		"when.image_id":      r.When.ImageID,
	} {
		if matcher != nil && matcher.Equals != nil && matcher.Glob != nil {
			return fmt.Errorf("%s cannot define both equals and glob", name)
		}
	}
	for phase, d := range map[Phase]*Duration{
		PhaseBoot:     r.Delay.Boot,
		PhaseStop:     r.Delay.Stop,
		PhaseShutdown: r.Delay.Shutdown,
	} {
		if d != nil && d.Duration < 0 {
			return fmt.Errorf("delay.%s must be >= 0", phase)
		}
	}
	return nil
}

// Delay returns the sum of the delays of every rule matching in for the
// given phase. A nil profile has no delays.
func (p *Profile) Delay(phase Phase, in MatchInput) time.Duration {
	if p == nil {
		return 0
	}
	total := time.Duration(0)
	for i := range p.Rules {
		rule := p.Rules[i]
		if !rule.matches(in) {
			continue
		}
		total += rule.delayFor(phase)
	}
	return total
}

// FailBoot reports whether any rule matching in makes the boot fail
func (p *Profile) FailBoot(in MatchInput) bool {
	if p == nil {
		return false
	}
	for i := range p.Rules {
		if p.Rules[i].FailBoot && p.Rules[i].matches(in) {
			return true
		}
	}
	return false
}

func (r Rule) matches(in MatchInput) bool {
	if action := strings.TrimSpace(r.When.Action); action != "" && !strings.EqualFold(action, in.Action) {
		return false
	}
	return matchString(r.When.InstanceType, in.InstanceType) && matchString(r.When.ImageID, in.ImageID)
}

func matchString(matcher *StringMatcher, value string) bool {
	if matcher == nil {
		return true
	}
	if matcher.Equals != nil {
		return strings.EqualFold(strings.TrimSpace(*matcher.Equals), strings.TrimSpace(value))
	}
	if matcher.Glob != nil {
		pattern := strings.TrimSpace(*matcher.Glob)
		if pattern == "" {
			return true
		}
		ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(strings.TrimSpace(value)))
		return err == nil && ok
	}
	return true
}

func (r Rule) delayFor(phase Phase) time.Duration {
	var duration *Duration
	switch phase {
	case PhaseBoot:
		duration = r.Delay.Boot
	case PhaseStop:
		duration = r.Delay.Stop
	case PhaseShutdown:
		duration = r.Delay.Shutdown
	default:
		return 0
	}
	if duration == nil {
		return 0
	}
	return duration.Duration
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/voicerank/internal/model"
)

// Scenario defines a presence scenario and its expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Tiers are added to the policy store before any step runs.
	Tiers []TierDef `yaml:"tiers,omitempty"`

	// Setup seeds ledger records before any step runs.
	Setup []SeedRecord `yaml:"setup,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// TierDef is one rank tier.
type TierDef struct {
	Community string `yaml:"community"`
	Name      string `yaml:"name"`
	Hours     int64  `yaml:"hours"`
}

// SeedRecord presets a key's accumulated hours and rank index.
type SeedRecord struct {
	Member    string  `yaml:"member"`
	Community string  `yaml:"community"`
	Hours     float64 `yaml:"hours"`
	RankIndex int     `yaml:"rank_index,omitempty"`
}

// Presence is a join or leave transition.
type Presence struct {
	Member    string `yaml:"member"`
	Community string `yaml:"community"`
	At        string `yaml:"at"`
}

// Key returns the transition's session key.
func (p Presence) Key() model.SessionKey {
	return model.SessionKey{MemberID: p.Member, CommunityID: p.Community}
}

// Time parses At as RFC 3339.
func (p Presence) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, p.At)
}

// MemberRef names one key.
type MemberRef struct {
	Member    string `yaml:"member"`
	Community string `yaml:"community"`
}

// Key returns the referenced session key.
func (m MemberRef) Key() model.SessionKey {
	return model.SessionKey{MemberID: m.Member, CommunityID: m.Community}
}

// Step is exactly one of Join, Leave, Restart, or Reevaluate.
type Step struct {
	Join       *Presence  `yaml:"join,omitempty"`
	Leave      *Presence  `yaml:"leave,omitempty"`
	Restart    bool       `yaml:"restart,omitempty"`
	Reevaluate *MemberRef `yaml:"reevaluate,omitempty"`

	// Expect validates the step's outcome. If nil, only a hard failure
	// (anything other than a session error) fails the step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Kind names the step's action.
func (s Step) Kind() string {
	switch {
	case s.Join != nil:
		return "join"
	case s.Leave != nil:
		return "leave"
	case s.Restart:
		return "restart"
	case s.Reevaluate != nil:
		return "reevaluate"
	default:
		return ""
	}
}

// Expect specifies a step's expected outcome.
type Expect struct {
	// ElapsedSeconds is the expected closed-session duration (leave only).
	ElapsedSeconds *float64 `yaml:"elapsed_seconds,omitempty"`

	// Promoted is the expected promotion tier name.
	Promoted string `yaml:"promoted,omitempty"`

	// NoPromotion asserts that the step emitted no promotion.
	NoPromotion bool `yaml:"no_promotion,omitempty"`

	// Opened asserts whether a join opened a new session.
	Opened *bool `yaml:"opened,omitempty"`

	// Error is the expected error code, e.g. SESSION_NOT_OPEN.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of record, promotion_count, role_assigned.
	Type string `yaml:"type"`

	Member    string `yaml:"member,omitempty"`
	Community string `yaml:"community,omitempty"`

	// record
	AccumulatedHours *float64 `yaml:"accumulated_hours,omitempty"`
	RankIndex        *int     `yaml:"rank_index,omitempty"`
	RoleRank         *int     `yaml:"role_rank,omitempty"`
	Open             *bool    `yaml:"open,omitempty"`

	// promotion_count
	Count int `yaml:"count,omitempty"`

	// role_assigned
	Tier string `yaml:"tier,omitempty"`
}

// Key returns the assertion's session key.
func (a Assertion) Key() model.SessionKey {
	return model.SessionKey{MemberID: a.Member, CommunityID: a.Community}
}

// Assertion type constants.
const (
	AssertRecord         = "record"
	AssertPromotionCount = "promotion_count"
	AssertRoleAssigned   = "role_assigned"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, tier := range s.Tiers {
		if tier.Community == "" || tier.Name == "" {
			return fmt.Errorf("tiers[%d]: community and name are required", i)
		}
	}

	for i, seed := range s.Setup {
		if seed.Member == "" || seed.Community == "" {
			return fmt.Errorf("setup[%d]: member and community are required", i)
		}
		if seed.Hours < 0 {
			return fmt.Errorf("setup[%d]: hours must be non-negative", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step Step) error {
	actions := 0
	if step.Join != nil {
		actions++
	}
	if step.Leave != nil {
		actions++
	}
	if step.Restart {
		actions++
	}
	if step.Reevaluate != nil {
		actions++
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of join, leave, restart, reevaluate is required", index)
	}

	for _, p := range []*Presence{step.Join, step.Leave} {
		if p == nil {
			continue
		}
		if p.Member == "" || p.Community == "" {
			return fmt.Errorf("steps[%d]: member and community are required", index)
		}
		if _, err := p.Time(); err != nil {
			return fmt.Errorf("steps[%d]: invalid at %q: %w", index, p.At, err)
		}
	}

	if step.Reevaluate != nil && (step.Reevaluate.Member == "" || step.Reevaluate.Community == "") {
		return fmt.Errorf("steps[%d]: reevaluate requires member and community", index)
	}

	if step.Expect != nil && step.Expect.Promoted != "" && step.Expect.NoPromotion {
		return fmt.Errorf("steps[%d].expect: promoted and no_promotion are mutually exclusive", index)
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRecord:
		if a.Member == "" || a.Community == "" {
			return fmt.Errorf("assertions[%d]: member and community are required for record", index)
		}
	case AssertPromotionCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for promotion_count", index)
		}
	case AssertRoleAssigned:
		if a.Member == "" || a.Community == "" || a.Tier == "" {
			return fmt.Errorf("assertions[%d]: member, community and tier are required for role_assigned", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

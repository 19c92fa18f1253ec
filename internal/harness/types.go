package harness

import (
	"github.com/roach88/voicerank/internal/model"
	"github.com/roach88/voicerank/internal/testutil"
)

// TraceEvent is one executed step.
type TraceEvent struct {
	Step      int    `json:"step"`
	Type      string `json:"type"` // "join", "leave", "restart", "reevaluate"
	Member    string `json:"member,omitempty"`
	Community string `json:"community,omitempty"`
	At        string `json:"at,omitempty"`

	Opened             *bool    `json:"opened,omitempty"`
	ElapsedSeconds     *float64 `json:"elapsed_seconds,omitempty"`
	AccumulatedSeconds *float64 `json:"accumulated_seconds,omitempty"`
	RankIndex          *int     `json:"rank_index,omitempty"`
	Promotion          string   `json:"promotion,omitempty"`
	PromotionID        string   `json:"promotion_id,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every step in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Promotions lists every promotion event emitted.
	Promotions []model.PromotionEvent `json:"promotions"`

	// Roles lists every successful role assignment.
	Roles []testutil.Assignment `json:"roles"`

	// Records holds the final ledger state of every key the scenario touched.
	Records map[model.SessionKey]model.SessionRecord `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		Promotions: []model.PromotionEvent{},
		Records:    make(map[model.SessionKey]model.SessionRecord),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func boolPtr(b bool) *bool { return &b }
func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int { return &i }

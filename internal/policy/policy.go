// Package policy loads declarative rank policy from CUE files.
//
// A policy file maps communities to named tiers:
//
//	package policy
//
//	community: "guild-1": tier: {
//		Recruit: hours: 5
//		Veteran: hours: 10
//	}
//
// Loading only reads; applying the tiers goes through the store so that
// duplicate names still fail with DUPLICATE_TIER.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/voicerank/internal/model"
)

// Error codes for policy loading.
const (
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeInvalidTier = "E120" // Tier definition rejected
)

// LoadError is a policy loading failure with a CUE position when available.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDir loads every CUE file of the package in dir and returns its tiers,
// sorted by community, then threshold, then name.
func LoadDir(dir string) ([]model.Tier, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("policy directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing policy directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil || len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return extractTiers(value)
}

// Parse compiles a single CUE source and returns its tiers.
func Parse(filename string, src []byte) ([]model.Tier, error) {
	value := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return extractTiers(value)
}

func extractTiers(value cue.Value) ([]model.Tier, error) {
	communities := value.LookupPath(cue.ParsePath("community"))
	if !communities.Exists() {
		return []model.Tier{}, nil
	}

	citer, err := communities.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("iterating communities: %v", err), Pos: communities.Pos()}
	}

	tiers := []model.Tier{}
	for citer.Next() {
		communityID := citer.Selector().Unquoted()
		tierVal := citer.Value().LookupPath(cue.ParsePath("tier"))
		if !tierVal.Exists() {
			continue
		}

		titer, err := tierVal.Fields()
		if err != nil {
			return nil, &LoadError{Code: ErrCodeInvalidTier, Message: fmt.Sprintf("community %q: iterating tiers: %v", communityID, err), Pos: tierVal.Pos()}
		}
		for titer.Next() {
			name := titer.Selector().Unquoted()
			hoursVal := titer.Value().LookupPath(cue.ParsePath("hours"))
			if !hoursVal.Exists() {
				return nil, &LoadError{Code: ErrCodeInvalidTier, Message: fmt.Sprintf("community %q tier %q: hours is required", communityID, name), Pos: titer.Value().Pos()}
			}
			hours, err := hoursVal.Int64()
			if err != nil {
				return nil, &LoadError{Code: ErrCodeInvalidTier, Message: fmt.Sprintf("community %q tier %q: hours must be an integer: %v", communityID, name, err), Pos: hoursVal.Pos()}
			}
			tier, err := model.NewTier(communityID, name, hours)
			if err != nil {
				return nil, &LoadError{Code: ErrCodeInvalidTier, Message: err.Error(), Pos: hoursVal.Pos()}
			}
			tiers = append(tiers, tier)
		}
	}

	sort.SliceStable(tiers, func(i, j int) bool {
		if tiers[i].CommunityID != tiers[j].CommunityID {
			return tiers[i].CommunityID < tiers[j].CommunityID
		}
		return model.TierLess(tiers[i], tiers[j])
	})
	return tiers, nil
}

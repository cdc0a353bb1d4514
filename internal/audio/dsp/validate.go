package dsp

import (
	"fmt"
	"strings"
)

// Issue is one problem found in a chain. Index is -1 for chain-wide issues.
type Issue struct {
	Index   int
	Effect  string
	Message string
}

func (i Issue) String() string {
	if i.Index < 0 {
		return i.Message
	}
	return fmt.Sprintf("[%d] %s: %s", i.Index, i.Effect, i.Message)
}

// ValidationResult is the outcome of checking a chain before it runs.
type ValidationResult struct {
	Valid  bool
	Issues []Issue
}

func (r *ValidationResult) add(index int, effect, format string, args ...any) {
	r.Valid = false
	r.Issues = append(r.Issues, Issue{Index: index, Effect: effect, Message: fmt.Sprintf(format, args...)})
}

// Error joins the issues, one per line. It is empty for a valid chain.
func (r ValidationResult) Error() string {
	if r.Valid {
		return ""
	}
	lines := make([]string, len(r.Issues))
	for i, issue := range r.Issues {
		lines[i] = issue.String()
	}
	return strings.Join(lines, "\n")
}

// ValidateEffects checks effects as a chain: at most maxEffects of them
// (zero means unlimited), a single limiter, and every effect's own
// parameter checks.
func ValidateEffects(effects []Effect, maxEffects int) ValidationResult {
	result := ValidationResult{Valid: true}
	if maxEffects > 0 && len(effects) > maxEffects {
		result.add(-1, "", "chain has %d effects, maximum is %d", len(effects), maxEffects)
	}

	limiter := -1
	for i, e := range effects {
		if e == nil {
			result.add(i, "", "nil effect")
			continue
		}
		if e.Type() == EffectLimiter {
			if limiter >= 0 {
				result.add(i, e.Name(), "duplicate limiter (first at %d)", limiter)
			} else {
				limiter = i
			}
		}
		if err := e.Validate(); err != nil {
			result.add(i, e.Name(), "%v", err)
		}
	}
	return result
}

// Validate checks the chain's current effects.
func (ch *Chain) Validate() ValidationResult {
	return ValidateEffects(ch.Effects(), ch.maxEffects)
}

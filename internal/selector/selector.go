// Package selector produces an ordered preference list of candidate keys
// for the Dispatcher to try, per a configurable strategy.
package selector

import (
	"slices"
	"sync/atomic"

	"github.com/alcray/trainforge-conductor/internal/ledger"
)

// Strategy names accepted in configuration.
const (
	StrategyRoundRobin  = "round_robin"
	StrategyLeastLoaded = "least_loaded"
	StrategySequential  = "sequential"
)

// Candidate is one (provider, key) pair the Selector may offer up, plus the
// static limits needed by least_loaded scoring.
type Candidate struct {
	Provider string
	KeyName  string
	APIKey   string
	RPM      int64
	TPM      int64
}

// modelSupport reports whether a unified model name is usable against a
// given provider. Implemented by *registry.Registry; declared here as a
// narrow interface so selector does not import registry's concrete type
// beyond what it needs.
type modelSupport interface {
	SupportsProvider(unified, providerID string) bool
}

// ledgerStatus reports the live status of one key, used by least_loaded.
type ledgerStatus interface {
	KeyStatus(provider, name string) (ledger.Status, bool)
}

// Selector holds the static, config-ordered candidate list and picks an
// ordering from it on each Select call. Safe for concurrent use.
type Selector struct {
	strategy   string
	candidates []Candidate
	enabled    map[string]bool // provider -> enabled

	registry modelSupport
	ledger   ledgerStatus

	cursor atomic.Uint64 // round_robin rotation point
}

// New builds a Selector over candidates in config order. enabledProviders
// maps provider ID to its enabled flag.
func New(strategy string, candidates []Candidate, enabledProviders map[string]bool, reg modelSupport, lg ledgerStatus) *Selector {
	return &Selector{
		strategy:   strategy,
		candidates: candidates,
		enabled:    enabledProviders,
		registry:   reg,
		ledger:     lg,
	}
}

// Select returns an ordered list of candidates to try for one request,
// filtered by enabled providers, forcedProvider (if non-empty), and model
// support, then ordered per the configured strategy. Availability
// (capacity, cooldown) is intentionally not filtered here; the Dispatcher
// checks it per-attempt via the Ledger.
func (s *Selector) Select(unifiedModel, forcedProvider string) []Candidate {
	filtered := make([]Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		if !s.enabled[c.Provider] {
			continue
		}
		if forcedProvider != "" && c.Provider != forcedProvider {
			continue
		}
		if s.registry != nil && !s.registry.SupportsProvider(unifiedModel, c.Provider) {
			continue
		}
		filtered = append(filtered, c)
	}

	switch s.strategy {
	case StrategyLeastLoaded:
		return s.orderLeastLoaded(filtered)
	case StrategySequential:
		return filtered
	default:
		return s.orderRoundRobin(filtered)
	}
}

// orderRoundRobin rotates the filtered list to start at the shared cursor
// position (computed against the full candidate set so the cursor stays
// meaningful across requests with different filters), advancing the cursor
// by one on every call.
func (s *Selector) orderRoundRobin(filtered []Candidate) []Candidate {
	if len(filtered) == 0 {
		return filtered
	}
	cursor := s.cursor.Add(1) - 1
	pos := int(cursor % uint64(len(s.candidates)))
	start := 0
	for i := range s.candidates {
		if j := slices.Index(filtered, s.candidates[(pos+i)%len(s.candidates)]); j >= 0 {
			start = j
			break
		}
	}
	out := make([]Candidate, 0, len(filtered))
	out = append(out, filtered[start:]...)
	out = append(out, filtered[:start]...)
	return out
}

func (s *Selector) orderLeastLoaded(filtered []Candidate) []Candidate {
	type scored struct {
		c            Candidate
		score        float64
		tokensRemain int64
		configIdx    int
	}
	scoredList := make([]scored, len(filtered))
	for i, c := range filtered {
		var reqRatio, tokRatio float64 = 1, 1
		var tokensRemain int64
		if s.ledger != nil {
			if st, ok := s.ledger.KeyStatus(c.Provider, c.KeyName); ok {
				if c.RPM > 0 {
					reqRatio = float64(st.RequestsRemaining) / float64(c.RPM)
				}
				if c.TPM > 0 {
					tokRatio = float64(st.TokensRemaining) / float64(c.TPM)
				}
				tokensRemain = st.TokensRemaining
			}
		}
		score := reqRatio
		if tokRatio < score {
			score = tokRatio
		}
		scoredList[i] = scored{c: c, score: score, tokensRemain: tokensRemain, configIdx: i}
	}

	slices.SortStableFunc(scoredList, func(a, b scored) int {
		if a.score != b.score {
			if a.score > b.score {
				return -1
			}
			return 1
		}
		if a.tokensRemain != b.tokensRemain {
			if a.tokensRemain > b.tokensRemain {
				return -1
			}
			return 1
		}
		return a.configIdx - b.configIdx
	})

	out := make([]Candidate, len(scoredList))
	for i, sc := range scoredList {
		out[i] = sc.c
	}
	return out
}

// Package modification draws distinct combinations of visual-variation tags
// so images generated for one article do not look alike.
package modification

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"contentfactory/internal/domain"
	"contentfactory/internal/infra"
)

const (
	// DefaultK is the number of tags in each set.
	DefaultK = 3
	// MaxAttemptsPerSlot bounds redraws before a duplicate is accepted.
	MaxAttemptsPerSlot = 50

	canonicalSeparator = "|"
)

// Set is an unordered selection of tag names kept sorted.
type Set struct {
	Tags []string
}

// Canonical returns the sorted tag names joined with "|".
func (s Set) Canonical() string {
	return strings.Join(s.Tags, canonicalSeparator)
}

// Engine generates modification sets from a catalog.
type Engine struct {
	catalog *Catalog
	logger  infra.Logger

	mu  sync.Mutex
	rng *rand.Rand

	duplicates atomic.Int64
}

// NewEngine builds an engine. A nil rng uses a time-seeded source.
func NewEngine(catalog *Catalog, rng *rand.Rand, logger *infra.Logger) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{catalog: catalog, rng: rng, logger: infra.LoggerOrDiscard(logger)}
}

// Catalog exposes the catalog the engine draws from.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// DuplicatesAccepted reports how many slots fell back to a duplicate set.
func (e *Engine) DuplicatesAccepted() int64 { return e.duplicates.Load() }

// GenerateUniqueSets returns count sets of k tags each. Sets are pairwise
// distinct whenever count <= C(n, k). A slot that exhausts
// MaxAttemptsPerSlot random draws takes the next unused combination instead;
// duplicates are accepted and logged only once every combination is used.
func (e *Engine) GenerateUniqueSets(count, k int) ([]Set, error) {
	n := e.catalog.Size()
	if count < 0 {
		return nil, fmt.Errorf("%w: count must not be negative", domain.ErrInvalidInput)
	}
	if k < 1 || k > n {
		return nil, fmt.Errorf("%w: k must be between 1 and %d", domain.ErrInvalidInput, n)
	}
	if count == 0 {
		return []Set{}, nil
	}
	capacity := Binomial(n, k)
	if count > capacity {
		e.logger.Warn().
			Int("count", count).
			Int("capacity", capacity).
			Int("k", k).
			Msg("modification: requested sets exceed distinct combinations")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sets := make([]Set, 0, count)
	seen := make(map[string]struct{}, count)
	indices := make([]int, n)
	for slot := 0; slot < count; slot++ {
		var set Set
		accepted := false
		for attempt := 0; attempt < MaxAttemptsPerSlot; attempt++ {
			set = e.draw(indices, k)
			if _, dup := seen[set.Canonical()]; !dup {
				accepted = true
				break
			}
		}
		if !accepted && len(seen) < capacity {
			set = e.nextUnused(seen, n, k, capacity)
			accepted = true
		}
		if !accepted {
			e.duplicates.Add(1)
			e.logger.Warn().
				Int("slot", slot).
				Str("set", set.Canonical()).
				Int("attempts", MaxAttemptsPerSlot).
				Msg("modification: accepting duplicate set")
		}
		seen[set.Canonical()] = struct{}{}
		sets = append(sets, set)
	}
	return sets, nil
}

// draw picks k distinct catalog indices with a partial Fisher-Yates shuffle.
func (e *Engine) draw(indices []int, k int) Set {
	for i := range indices {
		indices[i] = i
	}
	n := len(indices)
	for i := 0; i < k; i++ {
		j := i + e.rng.Intn(n-i)
		indices[i], indices[j] = indices[j], indices[i]
	}
	return e.setFromIndices(indices[:k])
}

// nextUnused walks k-combinations in lexicographic order from a random rank
// and returns the first one not in seen. seen must hold fewer than capacity
// sets.
func (e *Engine) nextUnused(seen map[string]struct{}, n, k, capacity int) Set {
	combo := unrankCombination(e.rng.Intn(capacity), n, k)
	for step := 0; step < capacity; step++ {
		set := e.setFromIndices(combo)
		if _, dup := seen[set.Canonical()]; !dup {
			return set
		}
		if !nextCombination(combo, n) {
			for i := range combo {
				combo[i] = i
			}
		}
	}
	return e.setFromIndices(combo)
}

func (e *Engine) setFromIndices(combo []int) Set {
	names := make([]string, len(combo))
	for i, idx := range combo {
		names[i] = e.catalog.tags[idx].Name
	}
	sort.Strings(names)
	return Set{Tags: names}
}

// unrankCombination returns the k-combination of 0..n-1 at lexicographic
// position rank.
func unrankCombination(rank, n, k int) []int {
	combo := make([]int, 0, k)
	x := 0
	for i := 0; i < k; i++ {
		for {
			count := Binomial(n-x-1, k-i-1)
			if rank < count {
				break
			}
			rank -= count
			x++
		}
		combo = append(combo, x)
		x++
	}
	return combo
}

// nextCombination advances combo to its lexicographic successor and reports
// false after the last combination.
func nextCombination(combo []int, n int) bool {
	k := len(combo)
	i := k - 1
	for i >= 0 && combo[i] == n-k+i {
		i--
	}
	if i < 0 {
		return false
	}
	combo[i]++
	for j := i + 1; j < k; j++ {
		combo[j] = combo[j-1] + 1
	}
	return true
}

// Describe renders set as an instruction that can be appended to a prompt.
func (e *Engine) Describe(set Set) string {
	if len(set.Tags) == 0 {
		return "Visual variation: natural composition"
	}
	phrases := make([]string, 0, len(set.Tags))
	for _, name := range set.Tags {
		if tag, ok := e.catalog.Lookup(name); ok {
			phrases = append(phrases, tag.Instruction)
			continue
		}
		phrases = append(phrases, strings.ReplaceAll(name, "_", " "))
	}
	return "Visual variation: " + strings.Join(phrases, "; ")
}

// UsageStats counts how often each tag appears across sets.
func UsageStats(sets []Set) map[string]int {
	stats := make(map[string]int)
	for _, set := range sets {
		for _, name := range set.Tags {
			stats[name]++
		}
	}
	return stats
}

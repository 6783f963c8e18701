package grading

import (
	"math"
	"sort"
	"strings"
)

const (
	// StrategyNone never agrees automatically.
	StrategyNone = "none"
	// StrategyAverageNoStraddle agrees on the mean when the spread of all
	// grades is within the tolerance range.
	StrategyAverageNoStraddle = "average_no_straddle"
	// StrategyAverageStraddle agrees on the mean when it is within range of
	// every grade and no class boundary separates the grades.
	StrategyAverageStraddle = "average_straddle"
)

// AgreementParams carries the coursework and site settings a strategy reads.
type AgreementParams struct {
	Range           float64
	Rounding        Rounding
	ClassBoundaries []float64
}

// AgreementStrategy decides whether initial grades can be merged automatically.
type AgreementStrategy interface {
	Name() string
	Agree(grades []float64, params AgreementParams) (float64, bool)
}

// Registry maps strategy names to implementations.
type Registry struct {
	strategies map[string]AgreementStrategy
}

// NewRegistry builds a registry holding the given strategies.
func NewRegistry(strategies ...AgreementStrategy) *Registry {
	registry := &Registry{strategies: make(map[string]AgreementStrategy, len(strategies))}
	for _, strategy := range strategies {
		registry.Register(strategy)
	}
	return registry
}

// DefaultRegistry holds every built-in strategy.
func DefaultRegistry() *Registry {
	return NewRegistry(noAgreement{}, averageNoStraddle{}, averageStraddle{})
}

// Register adds or replaces a strategy under its name.
func (r *Registry) Register(strategy AgreementStrategy) {
	r.strategies[normalizeStrategyName(strategy.Name())] = strategy
}

// Lookup resolves a strategy name.
func (r *Registry) Lookup(name string) (AgreementStrategy, bool) {
	strategy, ok := r.strategies[normalizeStrategyName(name)]
	return strategy, ok
}

// Names lists the registered strategies in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeStrategyName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

type noAgreement struct{}

func (noAgreement) Name() string { return StrategyNone }

func (noAgreement) Agree([]float64, AgreementParams) (float64, bool) { return 0, false }

type averageNoStraddle struct{}

func (averageNoStraddle) Name() string { return StrategyAverageNoStraddle }

func (averageNoStraddle) Agree(grades []float64, params AgreementParams) (float64, bool) {
	if len(grades) < 2 {
		return 0, false
	}
	low, high := spread(grades)
	if high-low > params.Range+gradeEpsilon {
		return 0, false
	}
	return RoundGrade(mean(grades), params.Rounding), true
}

type averageStraddle struct{}

func (averageStraddle) Name() string { return StrategyAverageStraddle }

func (averageStraddle) Agree(grades []float64, params AgreementParams) (float64, bool) {
	if len(grades) < 2 {
		return 0, false
	}
	avg := mean(grades)
	for _, grade := range grades {
		if math.Abs(avg-grade) > params.Range+gradeEpsilon {
			return 0, false
		}
	}
	if !SameClass(grades, params.ClassBoundaries) {
		return 0, false
	}
	return RoundGrade(avg, params.Rounding), true
}

// SameClass reports whether every grade falls in the same interval between
// class boundaries. A grade equal to a boundary belongs to the interval above.
func SameClass(grades []float64, boundaries []float64) bool {
	if len(grades) == 0 {
		return true
	}
	first := classIndex(grades[0], boundaries)
	for _, grade := range grades[1:] {
		if classIndex(grade, boundaries) != first {
			return false
		}
	}
	return true
}

func classIndex(grade float64, boundaries []float64) int {
	index := 0
	for _, boundary := range boundaries {
		if grade+gradeEpsilon >= boundary {
			index++
		}
	}
	return index
}

func mean(values []float64) float64 {
	total := 0.0
	for _, value := range values {
		total += value
	}
	return total / float64(len(values))
}

func spread(values []float64) (float64, float64) {
	low, high := values[0], values[0]
	for _, value := range values[1:] {
		low = math.Min(low, value)
		high = math.Max(high, value)
	}
	return low, high
}

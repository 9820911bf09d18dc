// Package sampler implements the adaptive sampling policy: given the current
// model's state populations, draw the state a new simulation should start
// from, then pick a concrete frame within it. The draw is a weighted random
// choice over the populations, optionally tempered by an exploration
// exponent, so high-population metastable states receive proportionally more
// follow-up sampling.
//
// The sampler is pure given its inputs and injected random source, which
// keeps the policy independently testable and seedable.
package sampler

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/msmaccel/accelerd/internal/wire"
)

// ErrSamplingExhausted is returned when no state in the model has any frame
// to sample from. It is fatal to the requesting simulator only; the server
// stays up.
var ErrSamplingExhausted = errors.New("sampler: no state has any sampleable frame")

const reasonDegenerate = "degenerate"

// Resolver maps a trajectory_id to its storage locator. The registry
// satisfies this.
type Resolver interface {
	Resolve(trajectoryID string) (wire.Locator, bool)
}

// Options configure the sampling policy.
type Options struct {
	// Beta tempers the population weights: w_i is proportional to
	// pop_i^Beta. Beta 1 samples proportionally to population, Beta 0
	// samples states uniformly, Beta > 1 sharpens toward high-population
	// states. Zero value means 1.
	Beta float64

	// Tolerance is the allowed deviation of sum(populations) from 1
	// before the sampler normalizes and logs a warning. Zero value means
	// 1e-6.
	Tolerance float64
}

// Sampler issues seed assignments. When no model exists it cycles through
// the configured initial seed pool; otherwise it draws from the model.
type Sampler struct {
	opts     Options
	initial  []wire.Locator
	resolver Resolver
	log      *slog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	cursor int
}

// New creates a sampler. initial must hold at least one locator; rng is the
// random source used for all draws (pass a fixed-seed source in tests).
func New(initial []wire.Locator, resolver Resolver, rng *rand.Rand, opts Options, log *slog.Logger) (*Sampler, error) {
	if len(initial) == 0 {
		return nil, errors.New("sampler: initial seed pool is empty")
	}
	for _, loc := range initial {
		if err := loc.Validate(); err != nil {
			return nil, fmt.Errorf("sampler: bad initial seed: %w", err)
		}
	}
	if opts.Beta == 0 {
		opts.Beta = 1
	}
	if opts.Tolerance == 0 {
		opts.Tolerance = 1e-6
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{
		opts:     opts,
		initial:  append([]wire.Locator(nil), initial...),
		resolver: resolver,
		rng:      rng,
		log:      log,
	}, nil
}

// NextSeed produces the assignment for one arriving simulator. With a nil
// model it returns the next initial seed, cycling through the pool. With a
// model it draws a state from the tempered categorical distribution over
// populations, then a uniform frame within that state; a state without
// frames is excluded and the draw repeats over the rest.
func (s *Sampler) NextSeed(model *wire.ModelResult) (wire.SeedAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if model == nil {
		loc := s.initial[s.cursor%len(s.initial)]
		s.cursor++
		return wire.SeedAssignment{
			SeedID:  uuid.NewString(),
			Origin:  wire.OriginInitial,
			Locator: loc,
		}, nil
	}

	weights := temper(model.Populations, s.opts.Beta)
	if warn := normalize(weights, s.opts.Tolerance); warn != "" {
		s.log.Warn("Normalizing model populations before sampling",
			"model_id", model.ModelID, "reason", warn)
	}

	// Draw states until one with frames comes up, excluding empty states
	// from subsequent draws. Empty states are an estimation artifact, not
	// a request failure.
	for remaining := len(weights); remaining > 0; {
		state, ok := drawCategorical(s.rng, weights)
		if !ok {
			break
		}
		frames := model.StateFrames[state]
		if len(frames) == 0 {
			weights[state] = 0
			if normalize(weights, 0) == reasonDegenerate {
				break
			}
			remaining--
			continue
		}
		frame := frames[s.rng.Intn(len(frames))]
		loc, ok := s.resolver.Resolve(frame.TrajectoryID)
		if !ok {
			// The model references a trajectory the registry never saw.
			// Treat the whole state as unsampleable.
			s.log.Warn("Model frame references unknown trajectory",
				"model_id", model.ModelID, "state", state,
				"trajectory_id", frame.TrajectoryID)
			weights[state] = 0
			if normalize(weights, 0) == reasonDegenerate {
				break
			}
			remaining--
			continue
		}
		return wire.SeedAssignment{
			SeedID:  uuid.NewString(),
			Origin:  model.ModelID,
			Locator: loc,
			Frame:   &frame,
		}, nil
	}
	return wire.SeedAssignment{}, ErrSamplingExhausted
}

// temper returns pop_i^beta, clamping negatives and NaNs to zero.
func temper(populations []float64, beta float64) []float64 {
	out := make([]float64, len(populations))
	for i, p := range populations {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		out[i] = math.Pow(p, beta)
	}
	return out
}

// normalize scales weights in place to sum to 1. It returns a non-empty
// reason string when the input needed rescaling beyond tolerance, and
// reasonDegenerate, leaving the weights untouched, when the sum is not
// positive.
func normalize(weights []float64, tolerance float64) string {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return reasonDegenerate
	}
	if math.Abs(sum-1) <= tolerance {
		return ""
	}
	for i := range weights {
		weights[i] /= sum
	}
	return fmt.Sprintf("sum was %g", sum)
}

// drawCategorical draws an index from the distribution defined by weights,
// which must sum to 1. It walks the cumulative distribution against a single
// uniform variate.
func drawCategorical(rng *rand.Rand, weights []float64) (int, bool) {
	r := rng.Float64()
	var cum float64
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		cum += w
		if r < cum {
			return i, true
		}
	}
	// Floating-point shortfall: fall back to the last positive weight.
	if last >= 0 {
		return last, true
	}
	return 0, false
}

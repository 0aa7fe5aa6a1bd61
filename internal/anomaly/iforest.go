package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const eulerGamma = 0.5772156649015329

// ForestOptions configure an isolation forest.
type ForestOptions struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          int64
}

// DefaultForestOptions returns 100 trees, 256-row subsamples and 5% contamination.
func DefaultForestOptions() ForestOptions {
	return ForestOptions{Trees: 100, MaxSamples: 256, Contamination: 0.05, Seed: 42}
}

type node struct {
	feature     int
	split       float64
	left, right *node
	size        int // leaf only
}

func (n *node) leaf() bool { return n.left == nil }

// Forest is an isolation forest over fixed-width feature rows.
type Forest struct {
	opts       ForestOptions
	trees      []*node
	sampleSize int
	offset     float64
	features   int
}

// FitForest trains a forest on rows. Cancellation is checked between trees.
func FitForest(ctx context.Context, rows [][]float64, opts ForestOptions) (*Forest, error) {
	if len(rows) < 2 {
		return nil, errors.New("isolation forest needs at least two rows")
	}
	width := len(rows[0])
	for i, r := range rows {
		if len(r) != width {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(r), width)
		}
		if floats.HasNaN(r) {
			return nil, fmt.Errorf("row %d contains NaN", i)
		}
	}
	if opts.Trees <= 0 {
		opts.Trees = 100
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 256
	}
	if !(opts.Contamination > 0 && opts.Contamination <= 0.5) {
		return nil, fmt.Errorf("contamination must be in (0, 0.5], got %v", opts.Contamination)
	}

	psi := min(opts.MaxSamples, len(rows))
	depthLimit := int(math.Ceil(math.Log2(float64(psi))))
	rng := rand.New(rand.NewSource(opts.Seed))

	f := &Forest{opts: opts, sampleSize: psi, features: width, trees: make([]*node, 0, opts.Trees)}
	for t := 0; t < opts.Trees; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := rng.Perm(len(rows))[:psi]
		subset := make([][]float64, psi)
		for i, j := range idx {
			subset[i] = rows[j]
		}
		f.trees = append(f.trees, grow(rng, subset, 0, depthLimit))
	}

	scores := f.ScoreSamples(rows)
	f.offset = percentile(scores, 100*opts.Contamination)
	return f, nil
}

func grow(rng *rand.Rand, rows [][]float64, depth, limit int) *node {
	if depth >= limit || len(rows) <= 1 {
		return &node{size: len(rows)}
	}

	width := len(rows[0])
	lo := make([]float64, width)
	hi := make([]float64, width)
	col := make([]float64, len(rows))
	var candidates []int
	for f := 0; f < width; f++ {
		for i, r := range rows {
			col[i] = r[f]
		}
		lo[f], hi[f] = floats.Min(col), floats.Max(col)
		if hi[f] > lo[f] {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return &node{size: len(rows)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	split := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])

	var left, right [][]float64
	for _, r := range rows {
		if r[feature] < split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return &node{
		feature: feature,
		split:   split,
		left:    grow(rng, left, depth+1, limit),
		right:   grow(rng, right, depth+1, limit),
	}
}

func pathLength(n *node, x []float64, depth int) float64 {
	for !n.leaf() {
		if x[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

// averagePathLength is c(n), the mean depth of an unsuccessful BST search.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		m := float64(n - 1)
		return 2*(math.Log(m)+eulerGamma) - 2*m/float64(n)
	}
}

// Score returns the anomaly score of x. Lower is more anomalous; values lie in [-1, 0).
func (f *Forest) Score(x []float64) float64 {
	total := 0.0
	for _, t := range f.trees {
		total += pathLength(t, x, 0)
	}
	mean := total / float64(len(f.trees))
	return -math.Pow(2, -mean/averagePathLength(f.sampleSize))
}

// ScoreSamples scores every row.
func (f *Forest) ScoreSamples(rows [][]float64) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = f.Score(r)
	}
	return out
}

// Offset is the score below which a row is classified as an outlier.
func (f *Forest) Offset() float64 { return f.offset }

// Classify scores x and reports whether it falls on the outlier side of
// the decision boundary.
func (f *Forest) Classify(x []float64) (float64, bool) {
	score := f.Score(x)
	return score, score < f.offset
}

// Features is the row width the forest was trained on.
func (f *Forest) Features() int { return f.features }

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

package score

import (
	"fmt"

	"github.com/soundsentry/soundsentry/pkg/classifier"
)

// Aggregation selects how per-window score vectors are pooled into one
// vector per sample.
type Aggregation string

const (
	// AggregationMax takes the per-class maximum across windows. The
	// default: a sound present in any window of the sample counts fully.
	AggregationMax Aggregation = "max"

	// AggregationMean takes the per-class mean across windows, favouring
	// sounds sustained through the whole sample.
	AggregationMean Aggregation = "mean"
)

// IsValid reports whether a is a recognised aggregation method.
func (a Aggregation) IsValid() bool {
	return a == AggregationMax || a == AggregationMean
}

// Pool combines the score vectors of one sample's overlapping windows into a
// single per-class vector using the given method. With a single input vector
// it is the identity transform for both methods. All vectors must share the
// same class cardinality.
func Pool(vectors []classifier.ScoreVector, method Aggregation) (classifier.ScoreVector, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("score: pool of zero vectors")
	}
	if !method.IsValid() {
		return nil, fmt.Errorf("score: unknown aggregation method %q", method)
	}
	n := len(vectors[0])
	for i, v := range vectors[1:] {
		if len(v) != n {
			return nil, fmt.Errorf("score: vector %d has %d classes, want %d", i+1, len(v), n)
		}
	}

	out := make(classifier.ScoreVector, n)
	copy(out, vectors[0])

	switch method {
	case AggregationMax:
		for _, v := range vectors[1:] {
			for c, s := range v {
				if s > out[c] {
					out[c] = s
				}
			}
		}
	case AggregationMean:
		for _, v := range vectors[1:] {
			for c, s := range v {
				out[c] += s
			}
		}
		inv := 1 / float32(len(vectors))
		for c := range out {
			out[c] *= inv
		}
	}
	return out, nil
}

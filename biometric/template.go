// Package biometric extracts face templates from normalized images and compares them.
package biometric

import (
	"fmt"
	"math"
)

// DescriptorSize is the length of a face descriptor.
const DescriptorSize = 128

// DefaultMatchThreshold is the distance below which two templates belong to the same face.
const DefaultMatchThreshold = 0.5

// Template is a face descriptor in the recognition engine's embedding space.
type Template [DescriptorSize]float32

// TemplateFromSlice copies a descriptor of exactly DescriptorSize values.
func TemplateFromSlice(values []float32) (Template, error) {
	var t Template
	if len(values) != DescriptorSize {
		return t, fmt.Errorf("descriptor has %d values, expected %d", len(values), DescriptorSize)
	}
	copy(t[:], values)
	return t, nil
}

// Distance is the Euclidean distance between two templates.
func Distance(a, b Template) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// Comparator classifies template distances against a fixed threshold.
type Comparator struct {
	threshold float64
}

// NewComparator returns a comparator; a non-positive threshold uses DefaultMatchThreshold.
func NewComparator(threshold float64) Comparator {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return Comparator{threshold: threshold}
}

func (c Comparator) Threshold() float64 {
	return c.threshold
}

func (c Comparator) Distance(a, b Template) float64 {
	return Distance(a, b)
}

// IsMatch reports whether d is strictly below the threshold.
func (c Comparator) IsMatch(d float64) bool {
	return d < c.threshold
}

// Confidence maps a distance to 1-d clamped to [0,1]. It is a display hint, not a probability.
func Confidence(d float64) float64 {
	return math.Max(0, math.Min(1, 1-d))
}

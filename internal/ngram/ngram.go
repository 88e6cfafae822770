// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ngram implements the n-gram feature key conventions and the
// filtering arithmetic (stopwords, mean word length, cross-series
// cross-count) shared by PairEnumerator and QuoteHunter.
package ngram

import (
	"strings"

	"gonum.org/v1/gonum/stat"
	"modernc.org/mathutil"
)

// Sep is the token-joining delimiter for n-gram feature keys
// (a string formed by joining n successive tokens with ~).
const Sep = "~"

// Key joins successive tokens into a feature key.
func Key(tokens []string) string { return strings.Join(tokens, Sep) }

// Split reverses Key.
func Split(key string) []string { return strings.Split(key, Sep) }

// HasStopword reports whether any of tokens is present in stop.
func HasStopword(tokens []string, stop map[string]bool) bool {
	if len(stop) == 0 {
		return false
	}
	for _, t := range tokens {
		if stop[t] {
			return true
		}
	}
	return false
}

// MeanLength returns the mean character length of tokens, using
// gonum/stat's unweighted mean the same way a statistics-heavy corpus
// tool would, rather than hand-summing.
func MeanLength(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lens := make([]float64, len(tokens))
	for i, t := range tokens {
		lens[i] = float64(len([]rune(t)))
	}
	return stat.Mean(lens, nil)
}

// UpperBound returns max-series·(max-series-1)/2, the cross-count
// ceiling on cross-series pair combinatorics. When maxSeries <= 1 the
// bound is 0, which excludes all features; this is preserved rather
// than special-cased.
func UpperBound(maxSeries int) int64 {
	n := int64(maxSeries)
	if n < 0 {
		n = 0
	}
	bound := n * (n - 1) / 2
	if bound < 0 {
		return 0
	}
	if bound > int64(mathutil.MaxInt) {
		return int64(mathutil.MaxInt)
	}
	return bound
}

// CrossCount computes Σ_{i<j} g_i·g_j over series-group sizes, the
// number of cross-series unordered document pairs the feature induces.
// It uses the equivalent closed form (ΣgΣg - Σg²)/2, avoiding the O(k²)
// pairwise loop over cross-series document pairs.
func CrossCount(groupSizes []int) int64 {
	var sum, sumSq int64
	for _, g := range groupSizes {
		gg := int64(g)
		sum += gg
		sumSq += gg * gg
	}
	return (sum*sum - sumSq) / 2
}

// GroupSizes buckets docIDs by the series each belongs to (via seriesOf)
// and returns the resulting group sizes, in no particular order.
func GroupSizes(seriesOf func(docID int) int32, docIDs []int) []int {
	counts := make(map[int32]int)
	for _, id := range docIDs {
		counts[seriesOf(id)]++
	}
	sizes := make([]int, 0, len(counts))
	for _, n := range counts {
		sizes = append(sizes, n)
	}
	return sizes
}

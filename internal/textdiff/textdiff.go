// Package textdiff measures how far apart two text blobs are.
//
// It is the foundation of the learning signal: the distance between a
// generated draft and the text the user actually saved tells us how much
// editing the generator still requires.
package textdiff

// EditDistance returns the Levenshtein distance between a and b: the minimum
// number of single-rune insertions, deletions, and substitutions needed to
// turn a into b. Comparison is case- and whitespace-sensitive.
//
// Cost is O(len(a)*len(b)) in time and space, which is acceptable for
// draft-sized text (hundreds to low thousands of characters). Do not feed it
// megabyte blobs.
func EditDistance(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	// Two-row DP over prefix lengths. prev[j] holds the distance between
	// ra[:i-1] and rb[:j]; curr is being filled for ra[:i].
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			sub := prev[j-1]
			if ra[i-1] != rb[j-1] {
				sub++
			}
			curr[j] = min3(sub, curr[j-1]+1, prev[j]+1)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// Similarity returns a normalized similarity score in [0, 1]:
//
//	(max(len(a), len(b)) - EditDistance(a, b)) / max(len(a), len(b))
//
// Two empty strings are defined to be identical (1.0). The score is
// symmetric: Similarity(a, b) == Similarity(b, a).
func Similarity(a, b string) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))

	longer := la
	if lb > la {
		longer = lb
	}
	if longer == 0 {
		return 1.0
	}

	return float64(longer-EditDistance(a, b)) / float64(longer)
}

// ExactMatch reports whether a and b are identical. Equivalent to
// EditDistance(a, b) == 0, provided for readability at call sites.
func ExactMatch(a, b string) bool {
	return a == b
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

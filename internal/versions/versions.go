// Package versions compares plugin and game version strings.
//
// Registries publish versions in loose formats ("v2.5.1", "5.4.0-SNAPSHOT",
// "1.20.x"). Anything hashicorp/go-version understands is compared
// semantically; everything else falls back to a segment-wise natural order so
// that comparison stays total and deterministic.
package versions

import (
	"strconv"
	"strings"
	"unicode"

	goversion "github.com/hashicorp/go-version"
)

// Compare returns -1, 0 or 1 as a is older than, equal to or newer than b.
func Compare(a, b string) int {
	va, errA := goversion.NewVersion(strings.TrimSpace(a))
	vb, errB := goversion.NewVersion(strings.TrimSpace(b))
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return natural(a, b)
}

// Valid reports whether v parses as a semantic-ish version.
func Valid(v string) bool {
	_, err := goversion.NewVersion(strings.TrimSpace(v))
	return err == nil
}

// Satisfies reports whether v lies within the inclusive [lo, hi] bounds. An
// empty bound is open.
func Satisfies(v, lo, hi string) bool {
	if lo != "" && Compare(v, lo) < 0 {
		return false
	}
	if hi != "" && Compare(v, hi) > 0 {
		return false
	}
	return true
}

// Overlaps reports whether the inclusive ranges [lo1, hi1] and [lo2, hi2]
// share at least one version.
func Overlaps(lo1, hi1, lo2, hi2 string) bool {
	lo := maxBound(lo1, lo2)
	hi := minBound(hi1, hi2)
	if lo == "" || hi == "" {
		return true
	}
	return Compare(lo, hi) <= 0
}

func maxBound(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case Compare(a, b) >= 0:
		return a
	default:
		return b
	}
}

func minBound(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case Compare(a, b) <= 0:
		return a
	default:
		return b
	}
}

// MatchGame reports whether a game version matches a pattern such as "1.20.4"
// or "1.20.x".
func MatchGame(pattern, v string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == v {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".x"); ok {
		return v == prefix || strings.HasPrefix(v, prefix+".")
	}
	return false
}

func natural(a, b string) int {
	sa, sb := split(a), split(b)
	for i := 0; i < len(sa) && i < len(sb); i++ {
		if c := compareSegment(sa[i], sb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(sa) < len(sb):
		return -1
	case len(sa) > len(sb):
		return 1
	}
	return 0
}

func compareSegment(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	}
	return strings.Compare(a, b)
}

func split(v string) []string {
	v = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "v")
	var out []string
	var cur strings.Builder
	digit := false
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range v {
		switch {
		case unicode.IsDigit(r):
			if !digit {
				flush()
			}
			digit = true
			cur.WriteRune(r)
		case unicode.IsLetter(r):
			if digit {
				flush()
			}
			digit = false
			cur.WriteRune(r)
		default:
			flush()
			digit = false
		}
	}
	flush()
	return out
}

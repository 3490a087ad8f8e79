// Package permute generates and ranks candidate email addresses for a
// person at a domain from name parts, and can detect which pattern a
// company actually uses once enough published addresses are observed.
// This package has no grounding in the teacher or the wider example
// pack — none of them generate candidate addresses, they only validate
// addresses already supplied — so it is built directly against the
// standard library; see DESIGN.md for the justification.
package permute

import (
	"fmt"
	"strings"
)

// Pattern names one of the bounded set of name-combination templates.
type Pattern string

const (
	PatternFirstDotLast   Pattern = "first.last"
	PatternFLast          Pattern = "flast"
	PatternFirstL         Pattern = "firstl"
	PatternFirstUnderLast Pattern = "first_last"
	PatternFirstDashLast  Pattern = "first-last"
	PatternFirst          Pattern = "first"
	PatternLast           Pattern = "last"
)

// orderedPatterns is the fixed ranking applied when no modal pattern has
// been detected for the company yet: most to least common convention
// across B2B domains, first-name-only and last-name-only last since
// they collide hardest across a company's staff.
var orderedPatterns = []Pattern{
	PatternFirstDotLast,
	PatternFLast,
	PatternFirstL,
	PatternFirstUnderLast,
	PatternFirstDashLast,
	PatternFirst,
	PatternLast,
}

// Candidate is one ranked guess.
type Candidate struct {
	Email   string
	Pattern Pattern
	Rank    int
}

// Generate returns up to 8 ranked candidates for (first, last)@domain.
// When preferred is non-empty, it is tried first and the rest of
// orderedPatterns fills out the remainder, skipping the duplicate.
func Generate(first, last, domainName string, preferred Pattern) []Candidate {
	first = normalize(first)
	last = normalize(last)
	domainName = strings.ToLower(strings.TrimSpace(domainName))
	if first == "" || domainName == "" {
		return nil
	}

	patterns := rankedPatterns(preferred)

	out := make([]Candidate, 0, 8)
	for _, p := range patterns {
		local := localpart(p, first, last)
		if local == "" {
			continue
		}
		out = append(out, Candidate{
			Email:   fmt.Sprintf("%s@%s", local, domainName),
			Pattern: p,
			Rank:    len(out) + 1,
		})
		if len(out) == 8 {
			break
		}
	}
	return out
}

func rankedPatterns(preferred Pattern) []Pattern {
	if preferred == "" {
		return orderedPatterns
	}
	out := make([]Pattern, 0, len(orderedPatterns))
	out = append(out, preferred)
	for _, p := range orderedPatterns {
		if p != preferred {
			out = append(out, p)
		}
	}
	return out
}

func localpart(p Pattern, first, last string) string {
	switch p {
	case PatternFirstDotLast:
		if last == "" {
			return ""
		}
		return first + "." + last
	case PatternFLast:
		if last == "" {
			return ""
		}
		return first[:1] + last
	case PatternFirstL:
		if last == "" {
			return ""
		}
		return first + last[:1]
	case PatternFirstUnderLast:
		if last == "" {
			return ""
		}
		return first + "_" + last
	case PatternFirstDashLast:
		if last == "" {
			return ""
		}
		return first + "-" + last
	case PatternFirst:
		return first
	case PatternLast:
		if last == "" {
			return ""
		}
		return last
	default:
		return ""
	}
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DetectPattern inspects a set of (first, last, observed email) triples
// for the same domain and returns the most common local-part pattern once
// at least two examples agree; it returns "" when no pattern matches two
// or more observations. A tie goes to the pattern earlier in
// orderedPatterns.
func DetectPattern(observed []Observation) Pattern {
	if len(observed) < 2 {
		return ""
	}

	counts := make(map[Pattern]int)
	for _, o := range observed {
		first := normalize(o.First)
		last := normalize(o.Last)
		local := strings.ToLower(strings.SplitN(o.Email, "@", 2)[0])
		for _, p := range orderedPatterns {
			if localpart(p, first, last) == local {
				counts[p]++
				break
			}
		}
	}

	var best Pattern
	bestCount := 0
	for _, p := range orderedPatterns {
		if counts[p] > bestCount {
			best = p
			bestCount = counts[p]
		}
	}
	if bestCount < 2 {
		return ""
	}
	return best
}

// Observation is one published (name, email) pair used to infer a
// company's house email pattern.
type Observation struct {
	First string
	Last  string
	Email string
}

package permute

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_RanksFirstDotLastFirst(t *testing.T) {
	cands := Generate("Jane", "Doe", "Example.com", "")
	assert.NotEmpty(t, cands)
	assert.Equal(t, "jane.doe@example.com", cands[0].Email)
	assert.Equal(t, PatternFirstDotLast, cands[0].Pattern)
	assert.LessOrEqual(t, len(cands), 8)
}

func TestGenerate_PreferredPatternComesFirst(t *testing.T) {
	cands := Generate("Jane", "Doe", "example.com", PatternFLast)
	assert.Equal(t, "jdoe@example.com", cands[0].Email)
}

func TestGenerate_NoLastNameSkipsTwoPartyPatterns(t *testing.T) {
	cands := Generate("Jane", "", "example.com", "")
	for _, c := range cands {
		assert.Equal(t, "jane@example.com", c.Email)
	}
	assert.Len(t, cands, 1)
}

func TestGenerate_EmptyFirstNameYieldsNothing(t *testing.T) {
	assert.Empty(t, Generate("", "Doe", "example.com", ""))
}

func TestDetectPattern_MajorityWins(t *testing.T) {
	p := DetectPattern([]Observation{
		{First: "Jane", Last: "Doe", Email: "jane.doe@example.com"},
		{First: "Tom", Last: "Smith", Email: "tom.smith@example.com"},
		{First: "Amy", Last: "Lee", Email: "alee@example.com"},
	})
	assert.Equal(t, PatternFirstDotLast, p)
}

func TestDetectPattern_NoMajorityReturnsEmpty(t *testing.T) {
	p := DetectPattern([]Observation{
		{First: "Jane", Last: "Doe", Email: "jane.doe@example.com"},
		{First: "Tom", Last: "Smith", Email: "tsmith@example.com"},
	})
	assert.Equal(t, Pattern(""), p)
}

func TestDetectPattern_FewerThanTwoObservations(t *testing.T) {
	p := DetectPattern([]Observation{{First: "Jane", Last: "Doe", Email: "jane.doe@example.com"}})
	assert.Equal(t, Pattern(""), p)
}

package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const teamPageHTML = `
<html><head><title>About Acme</title></head>
<body>
<nav>Home About</nav>
<div class="team">
  <div class="team-member">
    <h3 class="member-name">Jane Doe</h3>
    <p class="title">VP of Engineering</p>
  </div>
  <div class="team-member">
    <h3 class="member-name">Tom Smith</h3>
    <span class="title">Account Manager</span>
  </div>
</div>
<footer>contact: <a href="mailto:hello@acme.com">hello@acme.com</a></footer>
</body></html>
`

func TestExtract_FindsTeamCardsAndMailto(t *testing.T) {
	h := NewHeuristic()
	cands, err := h.Extract(teamPageHTML, "https://acme.com/about", Hints{})
	require.NoError(t, err)
	require.NotEmpty(t, cands)

	var names []string
	var haveEmail bool
	for _, c := range cands {
		if c.Full != "" {
			names = append(names, c.Full)
		}
		if c.Email == "hello@acme.com" {
			haveEmail = true
		}
	}
	assert.Contains(t, names, "Jane Doe")
	assert.Contains(t, names, "Tom Smith")
	assert.True(t, haveEmail)
}

func TestExtract_SkipPeopleHintOmitsTeamCards(t *testing.T) {
	h := NewHeuristic()
	cands, err := h.Extract(teamPageHTML, "https://acme.com/about", Hints{SkipPeople: true})
	require.NoError(t, err)
	for _, c := range cands {
		assert.Empty(t, c.Full)
	}
}

func TestExtract_TitleCarriesHigherConfidenceThanNoTitle(t *testing.T) {
	h := NewHeuristic()
	cands, err := h.Extract(teamPageHTML, "https://acme.com/about", Hints{})
	require.NoError(t, err)

	byName := map[string]Candidate{}
	for _, c := range cands {
		if c.Full != "" {
			byName[c.Full] = c
		}
	}
	require.Contains(t, byName, "Jane Doe")
	assert.Equal(t, "VP of Engineering", byName["Jane Doe"].Title)
	assert.Greater(t, byName["Jane Doe"].Confidence, 0.5)
}

func TestExtract_DedupesRepeatedEmail(t *testing.T) {
	htmlDoc := `<html><body>
		<a href="mailto:dup@acme.com">dup@acme.com</a>
		<p>dup@acme.com</p>
	</body></html>`
	h := NewHeuristic()
	cands, err := h.Extract(htmlDoc, "https://acme.com", Hints{})
	require.NoError(t, err)

	count := 0
	for _, c := range cands {
		if c.Email == "dup@acme.com" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExtract_TruncatesOversizedBody(t *testing.T) {
	big := "<html><body>" + strings.Repeat("a", MaxBodyBytes+1000) + "</body></html>"
	h := NewHeuristic()
	_, err := h.Extract(big, "https://acme.com", Hints{})
	require.NoError(t, err)
}

func TestTitle_FallsBackToH1(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body><h1>Fallback Heading</h1></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Fallback Heading", Title(doc))
}

func TestExtractText_RemovesNavAndFooterNoise(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<html><body>
			<nav>Skip this nav content entirely</nav>
			<article>` + strings.Repeat("Meaningful article body text. ", 10) + `</article>
			<footer>Skip this footer content entirely</footer>
		</body></html>
	`))
	require.NoError(t, err)
	text := ExtractText(doc)
	assert.Contains(t, text, "Meaningful article body text.")
	assert.NotContains(t, text, "Skip this nav")
	assert.NotContains(t, text, "Skip this footer")
}

func TestHarvestLinks_RespectsLimit(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<html><body>
			<a class="seed" href="/team">Team</a>
			<a class="seed" href="/about">About</a>
			<a class="seed" href="/careers">Careers</a>
		</body></html>
	`))
	require.NoError(t, err)
	links := HarvestLinks(doc, "a.seed", 2)
	assert.Len(t, links, 2)
	assert.Equal(t, []string{"/team", "/about"}, links)
}

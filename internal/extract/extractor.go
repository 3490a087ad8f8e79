// Package extract turns a fetched page's HTML into candidate people and
// link-harvesting hints. The interface is the core's only collaborator
// boundary with extraction logic: callers pass page HTML plus hints and
// get back Candidates, so a rule-based implementation can later be
// swapped for an AI-backed one without the pipeline noticing.
//
// HeuristicExtractor is grounded on isp_agent_learner.go's
// extractPageContent/webSearch: the same LimitReader size cap, the same
// noise-element-removal-then-selector-list content extraction, and the
// same anchor-harvesting shape, repointed from ISP research scraping to
// people/title discovery on a company's own pages.
package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MaxBodyBytes bounds how much of a page's HTML this package will parse.
const MaxBodyBytes = 512 * 1024

// Candidate is one person guess pulled off a page, with the confidence
// the extractor assigns it.
type Candidate struct {
	First      string
	Last       string
	Full       string
	Title      string
	Email      string
	SourceURL  string
	Confidence float64 // [0,1]
}

// Hints narrows extraction to the part of a page worth reading; a page
// classifier upstream can set SkipPeople for press-release/job-board
// pages it recognizes as unlikely to contain staff listings.
type Hints struct {
	SkipPeople bool
}

// Extractor is the core's only dependency on extraction logic.
type Extractor interface {
	Extract(pageHTML, sourceURL string, hints Hints) ([]Candidate, error)
}

// HeuristicExtractor finds people via common "team page" markup patterns
// and titles via a fixed job-title vocabulary; it never calls a model.
type HeuristicExtractor struct{}

// NewHeuristic returns the rule-based Extractor.
func NewHeuristic() *HeuristicExtractor { return &HeuristicExtractor{} }

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// titleVocabulary lists lower-cased job-title fragments used to decide
// whether a short text node next to a name is plausibly that person's
// title. Fragments are tried in list order and the first one found in
// the text decides; the list is not sorted by length.
var titleVocabulary = []string{
	"chief executive officer", "chief technology officer", "chief financial officer",
	"chief operating officer", "chief marketing officer", "vice president",
	"ceo", "cto", "cfo", "coo", "cmo",
	"founder", "co-founder", "president", "director", "head of",
	"vp", "manager", "lead", "engineer", "architect",
}

// teamSelectors are CSS selectors this extractor checks, in order, for
// repeating person cards — broad enough to catch most marketing-site
// team pages without a per-site config.
var teamSelectors = []string{
	".team-member", ".team-member-card", ".staff-member", ".person-card",
	".team .member", "[itemtype*='Person']", ".employee",
}

// Extract returns the Candidates found in pageHTML, unranked. It never returns
// an error for malformed HTML — goquery tolerates it — only for inputs
// it cannot parse at all.
func (h *HeuristicExtractor) Extract(pageHTML, sourceURL string, hints Hints) ([]Candidate, error) {
	limited := pageHTML
	if len(limited) > MaxBodyBytes {
		limited = limited[:MaxBodyBytes]
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(limited))
	if err != nil {
		return nil, err
	}

	var out []Candidate
	out = append(out, extractEmails(doc, sourceURL)...)

	if !hints.SkipPeople {
		out = append(out, extractTeamCards(doc, sourceURL)...)
	}

	return dedupe(out), nil
}

// extractEmails pulls mailto: links and bare addresses out of the page
// body text, with a lower confidence than a named team card since they
// carry no associated person.
func extractEmails(doc *goquery.Document, sourceURL string) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate

	doc.Find("a[href^='mailto:']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if addr = strings.SplitN(addr, "?", 2)[0]; addr != "" && !seen[addr] {
			seen[addr] = true
			out = append(out, Candidate{Email: addr, SourceURL: sourceURL, Confidence: 0.6})
		}
	})

	bodyText := ExtractText(doc)
	for _, m := range emailPattern.FindAllString(bodyText, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, Candidate{Email: m, SourceURL: sourceURL, Confidence: 0.4})
		}
	}
	return out
}

// extractTeamCards scans each teamSelectors match for a name-like
// heading and a title-like sibling line.
func extractTeamCards(doc *goquery.Document, sourceURL string) []Candidate {
	var out []Candidate
	for _, sel := range teamSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			name := strings.TrimSpace(firstNonEmpty(
				s.Find("h1,h2,h3,h4,.name,.member-name").First().Text(),
			))
			if name == "" || len(strings.Fields(name)) < 2 {
				return
			}
			title := findTitle(s)
			first, last := splitName(name)
			out = append(out, Candidate{
				First:      first,
				Last:       last,
				Full:       name,
				Title:      title,
				SourceURL:  sourceURL,
				Confidence: confidenceFor(title),
			})
		})
		if len(out) > 0 {
			break
		}
	}
	return out
}

func findTitle(s *goquery.Selection) string {
	candidate := strings.TrimSpace(s.Find(".title,.role,.position,.job-title,p,span").First().Text())
	lower := strings.ToLower(candidate)
	for _, frag := range titleVocabulary {
		if strings.Contains(lower, frag) {
			return candidate
		}
	}
	return ""
}

func confidenceFor(title string) float64 {
	if title != "" {
		return 0.75
	}
	return 0.5
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func firstNonEmpty(s string) string { return strings.TrimSpace(s) }

func dedupe(cands []Candidate) []Candidate {
	seen := make(map[string]bool)
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		key := c.Email
		if key == "" {
			key = c.Full
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// ExtractText strips script/style/nav/chrome elements and returns the
// joined text of the page's main content areas, falling back to the
// whole body when none of the known content selectors match — the same
// shape as extractPageContent, repointed at a fixed selector list
// instead of an ISP-research-specific one.
func ExtractText(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, aside, .sidebar, .menu, .cookie-notice").Remove()

	var parts []string
	selectors := []string{
		"article", "main", ".content", ".post-content", ".entry-content",
		"#content", ".team", ".about",
	}
	for _, sel := range selectors {
		text := strings.TrimSpace(doc.Find(sel).Text())
		if len(text) > 100 {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		if body := strings.TrimSpace(doc.Find("body").Text()); len(body) > 0 {
			parts = append(parts, body)
		}
	}

	content := strings.Join(parts, "\n\n")
	for strings.Contains(content, "  ") {
		content = strings.ReplaceAll(content, "  ", " ")
	}
	return content
}

// Title returns a page's <title>, falling back to its first <h1>.
func Title(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	return title
}

// HarvestLinks returns absolute-or-relative hrefs matched by selector,
// capped at limit — the generalization of webSearch's
// "a.result__a"-scoped top-3 harvest to an arbitrary seed-path selector
// (e.g. "a[href*='/team'], a[href*='/about']") and caller-chosen cap.
func HarvestLinks(doc *goquery.Document, selector string, limit int) []string {
	var links []string
	doc.Find(selector).Each(func(i int, s *goquery.Selection) {
		if len(links) >= limit {
			return
		}
		if href, ok := s.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
	})
	return links
}

package processor

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rcliao/ham/internal/model"
)

const (
	gistWindow      = 200
	maxKeywords     = 5
	maxKeySentences = 3
	maxURLs         = 3
	maxEmails       = 3
	maxNumbers      = 5
)

var (
	urlRe    = regexp.MustCompile(`https?://[^\s<>"']+`)
	emailRe  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	numberRe = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	bulletRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)
)

// AbstractText reduces a dialogue text to its gist, keywords, entities and
// key sentences. The result is deterministic for a given input.
func AbstractText(text string) model.Gist {
	keywords := TopTerms(ContentTokens(stripAddresses(text)), maxKeywords)
	return model.Gist{
		Gist:           smartTruncate(text, gistWindow),
		Keywords:       keywords,
		Entities:       extractEntities(text),
		KeySentences:   keySentences(text, keywords),
		FullTextHash:   Checksum([]byte(text)),
		OriginalLength: utf8.RuneCountInString(text),
	}
}

// smartTruncate cuts at a sentence end in the second half of the window,
// else at the last word boundary with an ellipsis.
func smartTruncate(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	cut := string(runes[:n])
	if i := strings.LastIndexAny(cut, sentenceEnds); i >= len(cut)/2 {
		_, size := utf8.DecodeRuneInString(cut[i:])
		return cut[:i+size]
	}
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		return cut[:i] + "..."
	}
	return cut + "..."
}

func extractEntities(text string) model.Entities {
	urls := firstUnique(trimURLs(urlRe.FindAllString(text, -1)), maxURLs)
	emails := firstUnique(emailRe.FindAllString(text, -1), maxEmails)

	numbers := firstUnique(numberRe.FindAllString(stripAddresses(text), -1), maxNumbers)

	return model.Entities{URLs: urls, Emails: emails, Numbers: numbers}
}

// stripAddresses blanks out URLs and email addresses so their fragments
// are not mistaken for words or numbers.
func stripAddresses(text string) string {
	return emailRe.ReplaceAllString(urlRe.ReplaceAllString(text, " "), " ")
}

func trimURLs(urls []string) []string {
	for i, u := range urls {
		urls[i] = strings.TrimRight(u, ".,;:!?)]}")
	}
	return urls
}

func firstUnique(in []string, n int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	return out
}

func keySentences(text string, keywords []string) []string {
	sentences := SplitSentences(text)
	if len(sentences) <= maxKeySentences {
		return sentences
	}

	type scored struct {
		idx   int
		score float64
	}
	ss := make([]scored, len(sentences))
	for i, s := range sentences {
		ss[i] = scored{idx: i, score: sentenceScore(s, keywords)}
	}
	sort.SliceStable(ss, func(a, b int) bool { return ss[a].score > ss[b].score })

	picked := ss[:maxKeySentences]
	sort.Slice(picked, func(a, b int) bool { return picked[a].idx < picked[b].idx })
	out := make([]string, len(picked))
	for i, p := range picked {
		out[i] = sentences[p.idx]
	}
	return out
}

func sentenceScore(s string, keywords []string) float64 {
	lower := strings.ToLower(s)
	score := 0.0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	if n := len(strings.Fields(s)); n >= 5 && n <= 30 {
		score += 0.5
	}
	if strings.ContainsAny(s, "?!:") {
		score += 0.3
	}
	if bulletRe.MatchString(s) {
		score += 0.3
	}
	if strings.IndexFunc(s, unicode.IsDigit) >= 0 {
		score += 0.2
	}
	return score
}

// RehydrateTextGist renders a gist back into readable text.
func RehydrateTextGist(g model.Gist) string {
	var b strings.Builder
	b.WriteString("Summary: ")
	b.WriteString(g.Gist)
	if len(g.KeySentences) > 0 {
		b.WriteString("\nKey points:")
		for _, s := range g.KeySentences {
			b.WriteString("\n- ")
			b.WriteString(s)
		}
	}
	if len(g.Keywords) > 0 {
		b.WriteString("\nKeywords: ")
		b.WriteString(strings.Join(g.Keywords, ", "))
	}
	var ents []string
	if len(g.Entities.URLs) > 0 {
		ents = append(ents, "urls: "+strings.Join(g.Entities.URLs, ", "))
	}
	if len(g.Entities.Emails) > 0 {
		ents = append(ents, "emails: "+strings.Join(g.Entities.Emails, ", "))
	}
	if len(g.Entities.Numbers) > 0 {
		ents = append(ents, "numbers: "+strings.Join(g.Entities.Numbers, ", "))
	}
	if len(ents) > 0 {
		b.WriteString("\nEntities: ")
		b.WriteString(strings.Join(ents, "; "))
	}
	return b.String()
}

// GistText flattens a gist into the text keyword queries match against.
func GistText(g model.Gist) string {
	parts := append([]string{g.Gist}, g.KeySentences...)
	parts = append(parts, g.Keywords...)
	return strings.Join(parts, "\n")
}

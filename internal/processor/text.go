package processor

import (
	"strings"
	"unicode"
)

var stopwords = toSet(strings.Fields(`
a about above after again against all am an and any are aren't as at be because been before being
below between both but by can can't cannot could couldn't did didn't do does doesn't doing don't down
during each few for from further had hadn't has hasn't have haven't having he he'd he'll he's her here
here's hers herself him himself his how how's i i'd i'll i'm i've if in into is isn't it it's its itself
let's me more most mustn't my myself no nor not of off on once only or other ought our ours ourselves
out over own same shan't she she'd she'll she's should shouldn't so some such than that that's the
their theirs them themselves then there there's these they they'd they'll they're they've this those
through to too under until up very was wasn't we we'd we'll we're we've were weren't what what's when
when's where where's which while who who's whom why why's with won't would wouldn't you you'd you'll
you're you've your yours yourself yourselves also just like really will get got im youre dont now
`))

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// IsStopword reports whether the lowercase token carries no topic signal.
func IsStopword(tok string) bool {
	_, ok := stopwords[tok]
	return ok
}

// Tokenize lowercases text and splits it into word tokens. Apostrophes
// inside a word are kept.
func Tokenize(text string) []string {
	var toks []string
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		t := strings.Trim(b.String(), "'")
		if t != "" {
			toks = append(toks, t)
		}
		b.Reset()
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			if b.Len() > 0 {
				b.WriteRune('\'')
			}
		default:
			flush()
		}
	}
	flush()
	return toks
}

// ContentTokens drops stopwords, numbers and one or two letter tokens.
func ContentTokens(text string) []string {
	var out []string
	for _, t := range Tokenize(text) {
		if len([]rune(t)) < 3 || IsStopword(t) || isNumber(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// TopTerms returns up to n most frequent terms. Ties keep first-seen order.
func TopTerms(terms []string, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, t := range terms {
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}
	// stable selection keeps the first-seen order among equal counts
	out := make([]string, 0, n)
	used := make(map[string]bool)
	for len(out) < n {
		best := ""
		for _, t := range order {
			if used[t] {
				continue
			}
			if best == "" || counts[t] > counts[best] {
				best = t
			}
		}
		if best == "" {
			break
		}
		used[best] = true
		out = append(out, best)
	}
	return out
}

var sentenceEnds = ".!?。！？"

// SplitSentences breaks text on terminal punctuation followed by space
// and on line breaks.
func SplitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	emit := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i, r := range runes {
		switch {
		case r == '\n':
			emit(i + 1)
		case strings.ContainsRune(sentenceEnds, r):
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) || r > unicode.MaxASCII {
				emit(i + 1)
			}
		}
	}
	emit(len(runes))
	return out
}

package grounding

import "strings"

// stopwords are conversational filler that never identifies a product.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "i": true, "id": true,
	"i'd": true, "ill": true, "i'll": true, "im": true, "i'm": true,
	"me": true, "my": true, "we": true, "you": true, "your": true,
	"to": true, "of": true, "for": true, "with": true, "without": true,
	"like": true, "want": true, "have": true, "get": true, "take": true,
	"can": true, "could": true, "would": true, "please": true, "thanks": true,
	"thank": true, "also": true, "too": true, "that": true, "this": true,
	"it": true, "some": true, "just": true, "one": true, "two": true,
	"three": true, "four": true, "five": true, "yes": true, "no": true,
	"ok": true, "okay": true, "hi": true, "hello": true, "hey": true,
	"be": true, "is": true, "on": true, "in": true, "do": true, "make": true,
	"order": true, "add": true, "give": true, "gimme": true,
}

// extractKeywords tokenises an utterance into lowercase search keywords:
// stopword-filtered unigrams plus adjacent-word bigrams, so multi-word
// product names ("big mac", "filet o fish") survive as search terms.
func extractKeywords(utterance string) []string {
	words := tokenize(utterance)

	var keywords []string
	seen := map[string]bool{}
	add := func(kw string) {
		if kw != "" && !seen[kw] {
			seen[kw] = true
			keywords = append(keywords, kw)
		}
	}

	var content []string
	for _, w := range words {
		if !stopwords[w] {
			content = append(content, w)
		}
	}

	for _, w := range content {
		add(w)
	}
	for i := 0; i+1 < len(content); i++ {
		add(content[i] + " " + content[i+1])
	}
	return keywords
}

// tokenize lowercases the utterance and splits it on anything that is not a
// letter, digit, or apostrophe.
func tokenize(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		case r == '\'':
			return false
		}
		return true
	})
}

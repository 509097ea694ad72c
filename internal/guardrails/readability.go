package guardrails

import (
	"errors"
	"strings"
	"unicode"

	prose "github.com/jdkato/prose/v2"
)

var errNoText = errors.New("no scorable text")

// GradeLevel computes the Flesch-Kincaid grade of text: sentence segmentation
// via prose, syllables via vowel-run counting. Fails on text with no
// sentences or words; callers treat a failure as "skip enforcement".
func GradeLevel(text string) (float64, error) {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return 0, err
	}

	sentences := len(doc.Sentences())
	if sentences == 0 {
		return 0, errNoText
	}

	words := 0
	syllables := 0
	for _, field := range strings.Fields(text) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word == "" {
			continue
		}
		words++
		syllables += countSyllables(word)
	}
	if words == 0 {
		return 0, errNoText
	}

	grade := 0.39*(float64(words)/float64(sentences)) +
		11.8*(float64(syllables)/float64(words)) - 15.59
	if grade < 0 {
		grade = 0
	}
	return grade, nil
}

// countSyllables approximates English syllables as vowel runs, discounting a
// trailing silent e. Every word counts as at least one.
func countSyllables(word string) int {
	word = strings.ToLower(word)

	count := 0
	prevVowel := false
	for _, r := range word {
		vowel := strings.ContainsRune("aeiouy", r)
		if vowel && !prevVowel {
			count++
		}
		prevVowel = vowel
	}

	if strings.HasSuffix(word, "e") && !strings.HasSuffix(word, "le") && count > 1 {
		count--
	}

	if count < 1 {
		count = 1
	}
	return count
}

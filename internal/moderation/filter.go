// Package moderation classifies chat text as offensive or not.
package moderation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed wordlist.yaml
var baseWordlist []byte

// Classification is the filter verdict for one piece of text.
type Classification struct {
	IsOffensive bool `json:"isOffensive"`
}

// Classifier is satisfied by Filter; the chat engine depends on this.
type Classifier interface {
	Classify(text string) Classification
}

// Options configure a Filter.
type Options struct {
	// AdditionalTerms extend the base wordlist.
	AdditionalTerms []string
	// WordlistFile is an optional YAML file with a top-level terms list.
	WordlistFile string
}

// Filter matches words against a fixed term set. It is immutable after
// construction and safe for concurrent use.
type Filter struct {
	terms    map[string]struct{}
	squeezed map[string]struct{}
}

type wordlist struct {
	Terms []string `yaml:"terms"`
}

// NewFilter builds a filter from the embedded base list plus opts.
func NewFilter(opts Options) (*Filter, error) {
	base, err := parseWordlist(baseWordlist)
	if err != nil {
		return nil, fmt.Errorf("parse base wordlist: %w", err)
	}

	terms := append(base, opts.AdditionalTerms...)

	if opts.WordlistFile != "" {
		extra, err := LoadWordlist(opts.WordlistFile)
		if err != nil {
			return nil, err
		}
		terms = append(terms, extra...)
	}

	f := &Filter{
		terms:    make(map[string]struct{}, len(terms)),
		squeezed: make(map[string]struct{}, len(terms)),
	}
	for _, t := range terms {
		t = normalize(t)
		if t == "" {
			continue
		}
		f.terms[t] = struct{}{}
		f.squeezed[squeeze(t)] = struct{}{}
	}
	return f, nil
}

// LoadWordlist reads terms from a YAML file.
func LoadWordlist(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wordlist %s: %w", path, err)
	}
	terms, err := parseWordlist(data)
	if err != nil {
		return nil, fmt.Errorf("parse wordlist %s: %w", path, err)
	}
	return terms, nil
}

func parseWordlist(data []byte) ([]string, error) {
	var wl wordlist
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return nil, err
	}
	return wl.Terms, nil
}

// Classify reports whether text contains a listed term. Each whitespace
// separated field is checked as its word parts, with inner punctuation
// removed ("s-t-u-p-i-d"), and with repeated letters collapsed ("stuuupid").
func (f *Filter) Classify(text string) Classification {
	for _, field := range strings.Fields(text) {
		field = strings.ToLower(field)

		for _, word := range strings.FieldsFunc(field, isSeparator) {
			if f.match(word) {
				return Classification{IsOffensive: true}
			}
		}

		if joined := normalize(field); joined != "" && f.match(joined) {
			return Classification{IsOffensive: true}
		}
	}
	return Classification{}
}

// Len returns the number of distinct terms.
func (f *Filter) Len() int {
	return len(f.terms)
}

func (f *Filter) match(word string) bool {
	if _, ok := f.terms[word]; ok {
		return true
	}
	if sq := squeeze(word); sq != word {
		_, ok := f.squeezed[sq]
		return ok
	}
	return false
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// normalize lowercases s and keeps only letters and digits.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if !isSeparator(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// squeeze collapses runs of the same rune.
func squeeze(s string) string {
	var b strings.Builder
	var prev rune = -1
	for _, r := range s {
		if r != prev {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

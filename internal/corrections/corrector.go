// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package corrections implements the Singlish post-processing
// pipeline applied to raw ASR output: a phrase-substitution pass
// followed by target-vocabulary counting. Both stages are pure
// functions of their text input — no I/O, no shared state — so they
// never suspend and are safe to call from any goroutine.
package corrections

import (
	"strings"
)

// Corrector applies a configured multi-word -> single-word
// substitution table and counts a fixed target vocabulary. The zero
// value is not usable; build one with New.
type Corrector struct {
	targetWords map[string]struct{}
	phrases     map[string]string // normalized "tok1 tok2" -> canonical replacement
	maxPhraseLen int
}

// New builds a Corrector from the configured CORRECTIONS substitution
// table and TARGET_WORDS vocabulary. Both are matched case-insensitively
// on whole tokens.
func New(corrections map[string]string, targetWords []string) *Corrector {
	c := &Corrector{
		targetWords: make(map[string]struct{}, len(targetWords)),
		phrases:     make(map[string]string, len(corrections)),
	}
	for _, w := range targetWords {
		c.targetWords[strings.ToLower(w)] = struct{}{}
	}
	for phrase, canonical := range corrections {
		toks := tokenize(phrase)
		if len(toks) == 0 {
			continue
		}
		norm := make([]string, len(toks))
		for i, t := range toks {
			norm[i] = t.norm
		}
		key := strings.Join(norm, " ")
		c.phrases[key] = strings.ToLower(canonical)
		if len(toks) > c.maxPhraseLen {
			c.maxPhraseLen = len(toks)
		}
	}
	if c.maxPhraseLen == 0 {
		c.maxPhraseLen = 1
	}
	return c
}

type token struct {
	text string // as it appeared in the input
	norm string // lowercased, punctuation-stripped form used for matching
}

// tokenize splits text on whitespace and strips leading/trailing
// punctuation from each token for matching purposes, per the
// "punctuation and surrounding whitespace are not part of a token"
// rule.
func tokenize(text string) []token {
	fields := strings.Fields(text)
	toks := make([]token, 0, len(fields))
	for _, f := range fields {
		norm := strings.TrimFunc(strings.ToLower(f), isNotWordRune)
		if norm == "" {
			continue
		}
		toks = append(toks, token{text: f, norm: norm})
	}
	return toks
}

func isNotWordRune(r rune) bool {
	isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	isDigit := r >= '0' && r <= '9'
	return !isLetter && !isDigit && r != '\''
}

// ApplyCorrections performs a single left-to-right token scan,
// greedily preferring the longest matching phrase at each position.
// Because the scan never revisits output it has already produced,
// re-applying it to already-corrected text is a no-op as long as no
// canonical replacement is itself a configured phrase key — which
// holds for every table built by New from disjoint Singlish phrases.
func (c *Corrector) ApplyCorrections(raw string) string {
	toks := tokenize(raw)
	out := make([]string, 0, len(toks))
	for i := 0; i < len(toks); {
		matched := false
		maxLen := c.maxPhraseLen
		if remaining := len(toks) - i; maxLen > remaining {
			maxLen = remaining
		}
		for l := maxLen; l >= 2; l-- {
			norms := make([]string, l)
			for j := 0; j < l; j++ {
				norms[j] = toks[i+j].norm
			}
			key := strings.Join(norms, " ")
			if canonical, ok := c.phrases[key]; ok {
				out = append(out, canonical)
				i += l
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if canonical, ok := c.phrases[toks[i].norm]; ok {
			out = append(out, canonical)
		} else {
			out = append(out, toks[i].norm)
		}
		i++
	}
	return strings.Join(out, " ")
}

// CountTargetWords counts whole-word, case-insensitive occurrences of
// each configured target word in text. Keys with zero occurrences are
// omitted; counts are always non-negative.
func (c *Corrector) CountTargetWords(text string) map[string]int {
	counts := make(map[string]int)
	for _, t := range tokenize(text) {
		if _, ok := c.targetWords[t.norm]; ok {
			counts[t.norm]++
		}
	}
	return counts
}

// Process is the combined pipeline: count(apply_corrections(raw)).
// It satisfies Process(ApplyCorrections(x)) == Process(x) because
// ApplyCorrections is idempotent under the assumption documented
// there.
func (c *Corrector) Process(raw string) map[string]int {
	return c.CountTargetWords(c.ApplyCorrections(raw))
}

package main

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"unicode"
)

//go:embed questions.json
var embeddedCatalog []byte

// Question is an immutable catalog record. The answer is the canonical
// comparison target; hints are revealed in order during a round.
type Question struct {
	ID         string   `json:"id"`
	Answer     string   `json:"answer"`
	Category   string   `json:"category"`
	Difficulty string   `json:"difficulty"`
	Hints      []string `json:"hints"`
}

func (q *Question) totalHints() int {
	return len(q.Hints)
}

func (q *Question) hint(index int) string {
	if index < 0 || index >= len(q.Hints) {
		return ""
	}
	return q.Hints[index]
}

// normalizeAnswer lowercases, strips punctuation, and collapses whitespace,
// so "Mount Everest!" and " mount  everest" compare equal.
func normalizeAnswer(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// checkAnswer accepts the guess if it matches the canonical answer after
// normalization, or comes close enough: a substring covering at least 60% of
// the longer string, or at least 70% of the answer's significant words.
func (q *Question) checkAnswer(guess string) bool {
	answer := normalizeAnswer(q.Answer)
	guess = normalizeAnswer(guess)

	if answer == "" || guess == "" {
		return false
	}

	if answer == guess {
		return true
	}

	if strings.Contains(answer, guess) || strings.Contains(guess, answer) {
		shorter := min(len(answer), len(guess))
		longer := max(len(answer), len(guess))
		if float64(shorter)/float64(longer) >= 0.6 {
			return true
		}
	}

	answerWords := significantWords(answer)
	guessWords := significantWords(guess)

	if len(answerWords) > 0 && len(guessWords) > 0 {
		matching := 0
		for _, word := range answerWords {
			for _, guessWord := range guessWords {
				if guessWord == word || strings.Contains(word, guessWord) || strings.Contains(guessWord, word) {
					matching++
					break
				}
			}
		}
		if float64(matching)/float64(len(answerWords)) >= 0.7 {
			return true
		}
	}

	return false
}

// significantWords drops short filler words ("a", "of") from matching.
func significantWords(s string) []string {
	words := make([]string, 0, 4)
	for _, word := range strings.Fields(s) {
		if len(word) > 2 {
			words = append(words, word)
		}
	}
	return words
}

// loadCatalog parses the embedded question catalog, or the file given by
// --questions when set.
func loadCatalog(cfg *Config) ([]Question, error) {
	data := embeddedCatalog

	if cfg.questions != "" {
		external, err := os.ReadFile(cfg.questions)
		if err != nil {
			return nil, fmt.Errorf("reading question catalog: %w", err)
		}
		data = external
	}

	var catalog []Question
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing question catalog: %w", err)
	}
	if len(catalog) == 0 {
		return nil, errors.New("question catalog is empty")
	}

	return catalog, nil
}

// pickQuestions samples up to n questions without replacement, filtered to the
// requested category. A filter that leaves fewer than n matches falls back to
// the unfiltered catalog rather than failing the room. An empty or "general"
// category means no filter.
func pickQuestions(catalog []Question, n int, category string) []Question {
	pool := catalog

	if category != "" && !strings.EqualFold(category, "general") {
		filtered := make([]Question, 0, len(catalog))
		for _, q := range catalog {
			if strings.EqualFold(q.Category, category) {
				filtered = append(filtered, q)
			}
		}
		if len(filtered) >= n {
			pool = filtered
		}
	}

	shuffled := make([]Question, len(pool))
	copy(shuffled, pool)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

// pickCategoryMix builds a category-duel sequence: perCategory questions from
// each player's preferred category, deduplicated and topped up from the full
// catalog when the categories overlap or run short, then shuffled together.
func pickCategoryMix(catalog []Question, perCategory int, first, second string) []Question {
	total := perCategory * 2
	mix := pickQuestions(catalog, perCategory, first)

	used := make(map[string]bool, total)
	for _, q := range mix {
		used[q.ID] = true
	}

	for _, q := range pickQuestions(catalog, perCategory, second) {
		if used[q.ID] {
			continue
		}
		used[q.ID] = true
		mix = append(mix, q)
	}

	if len(mix) < total {
		for _, q := range pickQuestions(catalog, len(catalog), "") {
			if len(mix) >= total {
				break
			}
			if used[q.ID] {
				continue
			}
			used[q.ID] = true
			mix = append(mix, q)
		}
	}

	rand.Shuffle(len(mix), func(i, j int) {
		mix[i], mix[j] = mix[j], mix[i]
	})

	return mix
}

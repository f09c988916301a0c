package main

import "testing"

func TestNormalizeAnswer(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"Mount Everest!", "mount everest"},
		{"  mount   EVEREST  ", "mount everest"},
		{"O'Brien, Jr.", "obrien jr"},
		{"route 66", "route 66"},
		{"---", ""},
	}

	for _, c := range cases {
		if got := normalizeAnswer(c.in); got != c.expected {
			t.Errorf("normalizeAnswer(%q) = %q, expected %q", c.in, got, c.expected)
		}
	}
}

func TestCheckAnswer(t *testing.T) {
	cases := []struct {
		answer   string
		guess    string
		expected bool
	}{
		// exact after normalization
		{"Mount Everest", "mount everest!", true},
		{"Mount Everest", "  Mount   Everest ", true},
		// substring covering enough of the longer string
		{"The Great Wall of China", "great wall of china", true},
		// significant-word overlap, filler dropped
		{"Leonardo da Vinci", "leonardo vinci", true},
		// a lone word of a two-word answer is not enough
		{"Albert Einstein", "einstein", false},
		{"Paris", "london", false},
		{"Paris", "", false},
	}

	for _, c := range cases {
		q := Question{Answer: c.answer}
		if got := q.checkAnswer(c.guess); got != c.expected {
			t.Errorf("checkAnswer(%q, %q) = %v, expected %v", c.answer, c.guess, got, c.expected)
		}
	}
}

func TestSignificantWords(t *testing.T) {
	got := significantWords("the great wall of china")
	expected := []string{"the", "great", "wall", "china"}
	if len(got) != len(expected) {
		t.Fatalf("significantWords returned %v, expected %v", got, expected)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("word %d = %q, expected %q", i, got[i], expected[i])
		}
	}
}

func TestPickQuestionsFiltersByCategory(t *testing.T) {
	catalog := append(newTestCatalog(10, "Physics"), newTestCatalog(10, "History")...)
	for i := range catalog[10:] {
		catalog[10+i].ID = "h" + catalog[10+i].ID
		catalog[10+i].Answer = "history " + catalog[10+i].Answer
	}

	picked := pickQuestions(catalog, 5, "physics")
	if len(picked) != 5 {
		t.Fatalf("picked %d questions, expected 5", len(picked))
	}
	for _, q := range picked {
		if q.Category != "Physics" {
			t.Errorf("picked question from category %q", q.Category)
		}
	}
}

func TestPickQuestionsFallsBackOnThinCategory(t *testing.T) {
	catalog := newTestCatalog(10, "Physics")
	catalog[0].Category = "Obscure"

	picked := pickQuestions(catalog, 5, "Obscure")
	if len(picked) != 5 {
		t.Fatalf("thin category returned %d questions, expected fallback to 5", len(picked))
	}
}

func TestPickQuestionsCapsAtCatalogSize(t *testing.T) {
	catalog := newTestCatalog(3, "Physics")

	picked := pickQuestions(catalog, 10, "")
	if len(picked) != 3 {
		t.Fatalf("picked %d questions from a catalog of 3", len(picked))
	}
}

func TestPickCategoryMixIsDistinct(t *testing.T) {
	physics := newTestCatalog(10, "Physics")
	history := newTestCatalog(10, "History")
	for i := range history {
		history[i].ID = "h" + history[i].ID
		history[i].Answer = "history " + history[i].Answer
	}
	catalog := append(physics, history...)

	mix := pickCategoryMix(catalog, 5, "Physics", "History")
	if len(mix) != 10 {
		t.Fatalf("mix has %d questions, expected 10", len(mix))
	}

	seen := make(map[string]bool, len(mix))
	counts := make(map[string]int)
	for _, q := range mix {
		if seen[q.ID] {
			t.Errorf("question %s appears twice", q.ID)
		}
		seen[q.ID] = true
		counts[q.Category]++
	}
	if counts["Physics"] != 5 || counts["History"] != 5 {
		t.Errorf("expected an even split, got %v", counts)
	}
}

func TestPickCategoryMixTopsUpOnOverlap(t *testing.T) {
	// Both players prefer the same thin category; the mix must still reach
	// full size by drawing from the rest of the catalog.
	catalog := newTestCatalog(12, "Physics")
	for i := range 5 {
		catalog[i].Category = "History"
	}

	mix := pickCategoryMix(catalog, 5, "History", "History")
	if len(mix) != 10 {
		t.Fatalf("overlapping mix has %d questions, expected 10", len(mix))
	}

	seen := make(map[string]bool, len(mix))
	for _, q := range mix {
		if seen[q.ID] {
			t.Errorf("question %s appears twice", q.ID)
		}
		seen[q.ID] = true
	}
}

func TestLoadCatalogEmbedded(t *testing.T) {
	catalog, err := loadCatalog(testConfig())
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if len(catalog) < survivalRounds {
		t.Fatalf("embedded catalog has %d questions, survival needs %d", len(catalog), survivalRounds)
	}
	for _, q := range catalog {
		if q.Answer == "" || len(q.Hints) == 0 {
			t.Errorf("question %s is missing answer or hints", q.ID)
		}
	}
}

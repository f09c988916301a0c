package main

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeConn records every event it is asked to deliver, standing in for a
// websocket client.
type fakeConn struct {
	mu     sync.Mutex
	events []event
}

func (c *fakeConn) Send(eventType string, data any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event{Type: eventType, Data: data})
	return true
}

func (c *fakeConn) countOf(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, ev := range c.events {
		if ev.Type == eventType {
			count++
		}
	}
	return count
}

func (c *fakeConn) lastOf(eventType string) (event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == eventType {
			return c.events[i], true
		}
	}
	return event{}, false
}

// newTestCatalog builds n questions with answers that cannot fuzzily match
// each other.
func newTestCatalog(n int, category string) []Question {
	catalog := make([]Question, 0, n)
	for i := range n {
		catalog = append(catalog, Question{
			ID:         fmt.Sprintf("q%02d", i),
			Answer:     fmt.Sprintf("secret%02d", i),
			Category:   category,
			Difficulty: "medium",
			Hints: []string{
				"hint one", "hint two", "hint three",
				"hint four", "hint five", "hint six",
			},
		})
	}
	return catalog
}

func testConfig() *Config {
	return &Config{
		matchTimeout:         time.Minute,
		survivalMatchTimeout: time.Minute,
		port:                 8080,
	}
}

func TestClampHealth(t *testing.T) {
	if got := clampHealth(-50, 5000); got != 0 {
		t.Errorf("clampHealth(-50) = %d, expected 0", got)
	}
	if got := clampHealth(6000, 5000); got != 5000 {
		t.Errorf("clampHealth(6000) = %d, expected 5000", got)
	}
	if got := clampHealth(1234, 5000); got != 1234 {
		t.Errorf("clampHealth(1234) = %d, expected 1234", got)
	}
}

func TestCopyHealthDetaches(t *testing.T) {
	original := map[string]int{"a": 100, "b": 200}
	snapshot := copyHealth(original)

	original["a"] = 0

	if snapshot["a"] != 100 {
		t.Errorf("snapshot mutated along with source: %d", snapshot["a"])
	}
}

func TestTaskTableSchedulesAndFires(t *testing.T) {
	var tasks taskTable
	defer tasks.shutdown()

	fired := make(chan struct{})
	tasks.schedule(taskHint, 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("scheduled task never fired")
	}
}

func TestTaskTableReplaceSameKind(t *testing.T) {
	var tasks taskTable
	defer tasks.shutdown()

	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)
	tasks.schedule(taskHint, 20*time.Millisecond, func() { first <- struct{}{} })
	tasks.schedule(taskHint, 10*time.Millisecond, func() { second <- struct{}{} })

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("replacement task never fired")
	}

	select {
	case <-first:
		t.Fatal("replaced task fired anyway")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTaskTableCancel(t *testing.T) {
	var tasks taskTable
	defer tasks.shutdown()

	fired := make(chan struct{}, 1)
	tasks.schedule(taskTimeout, 20*time.Millisecond, func() { fired <- struct{}{} })
	tasks.cancel(taskTimeout)

	select {
	case <-fired:
		t.Fatal("cancelled task fired anyway")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestTaskTableShutdownRefusesNewWork(t *testing.T) {
	var tasks taskTable
	tasks.shutdown()

	fired := make(chan struct{}, 1)
	tasks.schedule(taskEnd, time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
		t.Fatal("task scheduled after shutdown fired")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestRankResults(t *testing.T) {
	results := []playerResult{
		{ID: "dead-rich", Health: 0, IsAlive: false, CorrectAnswers: 9},
		{ID: "alive-poor", Health: 100, IsAlive: true, CorrectAnswers: 1},
		{ID: "alive-rich", Health: 900, IsAlive: true, CorrectAnswers: 0},
	}
	rankResults(results, false)

	expected := []string{"alive-rich", "alive-poor", "dead-rich"}
	for i, id := range expected {
		if results[i].ID != id {
			t.Errorf("rank %d = %s, expected %s", i, results[i].ID, id)
		}
	}
}

func TestRankResultsByCorrectBreaksTies(t *testing.T) {
	results := []playerResult{
		{ID: "fewer", Health: 500, IsAlive: true, CorrectAnswers: 2},
		{ID: "more", Health: 500, IsAlive: true, CorrectAnswers: 7},
	}
	rankResults(results, true)

	if results[0].ID != "more" {
		t.Errorf("expected correct answers to break the health tie, got %s first", results[0].ID)
	}
}

package main

import (
	"sync"
	"testing"
	"time"
)

// newTestDuel returns a started duel with real timers disabled, so tests
// drive hints, timeouts, and round advances by hand.
func newTestDuel(t *testing.T) (*duelRoom, *fakeConn, *fakeConn) {
	t.Helper()

	room := newDuelRoom(testConfig(), "TESTDUEL", "general", newTestCatalog(10, "General"))
	p1 := &fakeConn{}
	p2 := &fakeConn{}

	if !room.addPlayer(p1, "p1", "Alice", "general", "") {
		t.Fatal("first addPlayer failed")
	}
	if !room.addPlayer(p2, "p2", "Bob", "general", "") {
		t.Fatal("second addPlayer failed")
	}

	room.startGame()
	if room.currentState() != statePlaying {
		t.Fatal("duel did not start")
	}
	room.tasks.shutdown()

	return room, p1, p2
}

func (r *duelRoom) currentAnswer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.questions[r.current].Answer
}

func TestDuelAddPlayerLimits(t *testing.T) {
	room := newDuelRoom(testConfig(), "LIMITS", "general", newTestCatalog(10, "General"))
	defer room.close()

	room.addPlayer(&fakeConn{}, "p1", "Alice", "general", "")
	room.addPlayer(&fakeConn{}, "p2", "Bob", "general", "")

	if room.addPlayer(&fakeConn{}, "p3", "Carol", "general", "") {
		t.Error("third player joined a full duel")
	}

	room.startGame()
	if room.addPlayer(&fakeConn{}, "p4", "Dave", "general", "") {
		t.Error("player joined a duel in progress")
	}
}

func TestDuelCorrectGuessScoring(t *testing.T) {
	room, p1, p2 := newTestDuel(t)

	room.mu.Lock()
	room.health["p1"] = 3000
	room.startTime = time.Now().Add(-10 * time.Second)
	room.mu.Unlock()

	room.handleGuess("p1", room.currentAnswer())

	room.mu.Lock()
	health := room.health["p1"]
	answered := room.answered
	room.mu.Unlock()

	// 3000, minus ten seconds of thinking, plus the correct bonus
	if health != 3990 {
		t.Errorf("health after correct guess = %d, expected 3990", health)
	}
	if !answered {
		t.Error("round not marked answered")
	}

	for _, conn := range []*fakeConn{p1, p2} {
		ev, ok := conn.lastOf("questionResult")
		if !ok {
			t.Fatal("questionResult not broadcast")
		}
		result := ev.Data.(questionResultData)
		if result.Winner == nil || *result.Winner != "p1" {
			t.Errorf("unexpected winner: %v", result.Winner)
		}
		if result.IsTimeout {
			t.Error("correct guess flagged as timeout")
		}
	}
}

func TestDuelCorrectBonusIsCapped(t *testing.T) {
	room, _, _ := newTestDuel(t)

	room.handleGuess("p1", room.currentAnswer())

	room.mu.Lock()
	health := room.health["p1"]
	room.mu.Unlock()

	if health != duelMaxHealth {
		t.Errorf("health exceeded cap: %d", health)
	}
}

func TestDuelWrongGuess(t *testing.T) {
	room, p1, p2 := newTestDuel(t)

	room.handleGuess("p1", "definitely not it")

	room.mu.Lock()
	health := room.health["p1"]
	answered := room.answered
	room.mu.Unlock()

	if health != duelMaxHealth-duelWrongPenalty {
		t.Errorf("health after wrong guess = %d, expected %d", health, duelMaxHealth-duelWrongPenalty)
	}
	if answered {
		t.Error("wrong guess resolved the round")
	}

	// Only the guesser learns what they guessed; everyone sees health.
	if p1.countOf("wrongAnswer") != 1 {
		t.Error("guesser did not receive wrongAnswer")
	}
	if p2.countOf("wrongAnswer") != 0 {
		t.Error("opponent received the guesser's wrongAnswer")
	}
	if p2.countOf("healthUpdate") != 1 {
		t.Error("opponent did not receive healthUpdate")
	}
}

func TestDuelWrongGuessElimination(t *testing.T) {
	room, p1, p2 := newTestDuel(t)

	room.mu.Lock()
	room.health["p1"] = 400
	room.mu.Unlock()

	room.handleGuess("p1", "definitely not it")

	if room.currentState() != stateFinished {
		t.Fatal("duel did not end after elimination left one player")
	}

	ev, ok := p2.lastOf("playerEliminated")
	if !ok {
		t.Fatal("playerEliminated not broadcast")
	}
	if data := ev.Data.(playerEliminatedData); data.EliminatedID != "p1" || data.Reason != "wrong_answer" {
		t.Errorf("unexpected elimination payload: %+v", data)
	}

	end, ok := p1.lastOf("gameEnd")
	if !ok {
		t.Fatal("gameEnd not broadcast")
	}
	results := end.Data.(gameEndData).Results
	if len(results) != 2 || results[0].ID != "p2" || !results[0].IsAlive {
		t.Errorf("survivor not ranked first: %+v", results)
	}
}

func TestDuelGuessAfterResolveIgnored(t *testing.T) {
	room, _, _ := newTestDuel(t)

	room.handleGuess("p1", room.currentAnswer())

	room.mu.Lock()
	before := room.health["p2"]
	room.mu.Unlock()

	room.handleGuess("p2", "definitely not it")

	room.mu.Lock()
	after := room.health["p2"]
	room.mu.Unlock()

	if before != after {
		t.Errorf("late guess changed health: %d -> %d", before, after)
	}
}

func TestDuelHintReveal(t *testing.T) {
	room, p1, p2 := newTestDuel(t)

	room.revealHint(0)

	room.mu.Lock()
	h1, h2 := room.health["p1"], room.health["p2"]
	hintIndex := room.hintIndex
	room.mu.Unlock()

	if h1 != duelMaxHealth-duelHintPenalty || h2 != duelMaxHealth-duelHintPenalty {
		t.Errorf("hint penalty not applied to both players: %d, %d", h1, h2)
	}
	if hintIndex != 1 {
		t.Errorf("hintIndex = %d, expected 1", hintIndex)
	}

	for _, conn := range []*fakeConn{p1, p2} {
		ev, ok := conn.lastOf("hintRevealed")
		if !ok {
			t.Fatal("hintRevealed not broadcast")
		}
		if data := ev.Data.(hintRevealedData); data.Index != 0 || data.Text == "" {
			t.Errorf("unexpected hint payload: %+v", data)
		}
	}
}

func TestDuelStaleHintCallbackIgnored(t *testing.T) {
	room, p1, _ := newTestDuel(t)

	room.revealHint(3)

	room.mu.Lock()
	health := room.health["p1"]
	room.mu.Unlock()

	if health != duelMaxHealth {
		t.Error("stale hint callback charged players")
	}
	if p1.countOf("hintRevealed") != 0 {
		t.Error("stale hint callback broadcast a hint")
	}
}

func TestDuelHintExhaustion(t *testing.T) {
	room, p1, _ := newTestDuel(t)

	room.mu.Lock()
	total := room.questions[0].totalHints()
	room.mu.Unlock()

	for range total + 3 {
		room.revealHint(0)
	}

	if got := p1.countOf("hintRevealed"); got != total {
		t.Errorf("broadcast %d hints for a question with %d", got, total)
	}
}

func TestDuelTimeout(t *testing.T) {
	room, p1, _ := newTestDuel(t)

	room.handleTimeout(0)

	room.mu.Lock()
	health := room.health["p1"]
	room.mu.Unlock()

	expected := duelMaxHealth - int(duelQuestionTimeout.Seconds())
	if health != expected {
		t.Errorf("health after timeout = %d, expected %d", health, expected)
	}

	ev, ok := p1.lastOf("questionResult")
	if !ok {
		t.Fatal("questionResult not broadcast on timeout")
	}
	result := ev.Data.(questionResultData)
	if result.Winner != nil || !result.IsTimeout {
		t.Errorf("unexpected timeout result: %+v", result)
	}

	// the same timeout firing twice must not double-charge
	room.handleTimeout(0)
	room.mu.Lock()
	again := room.health["p1"]
	room.mu.Unlock()
	if again != expected {
		t.Errorf("duplicate timeout changed health to %d", again)
	}
}

func TestDuelDisconnectForfeits(t *testing.T) {
	room, _, p2 := newTestDuel(t)

	room.removePlayer("p1")

	if room.currentState() != stateFinished {
		t.Error("duel kept playing after a disconnect")
	}
	if _, ok := p2.lastOf("playerDisconnected"); !ok {
		t.Error("remaining player not told about the disconnect")
	}
	if _, ok := p2.lastOf("gameEnd"); !ok {
		t.Error("remaining player did not receive final results")
	}
}

func TestDuelCategoryModeQuestionCount(t *testing.T) {
	physics := newTestCatalog(10, "Physics")
	history := newTestCatalog(10, "History")
	for i := range history {
		history[i].ID = "h" + history[i].ID
		history[i].Answer = "history " + history[i].Answer
	}

	room := newDuelRoom(testConfig(), "CATDUEL", "category", append(physics, history...))
	defer room.close()

	room.addPlayer(&fakeConn{}, "p1", "Alice", "category", "Physics")
	room.addPlayer(&fakeConn{}, "p2", "Bob", "category", "History")
	room.startGame()

	room.mu.Lock()
	count := len(room.questions)
	room.mu.Unlock()

	if count != duelCategoryRounds {
		t.Errorf("category duel sampled %d questions, expected %d", count, duelCategoryRounds)
	}
}

func TestDuelMatchableWith(t *testing.T) {
	room := newDuelRoom(testConfig(), "MATCH", "category", newTestCatalog(10, "General"))
	defer room.close()

	room.addPlayer(&fakeConn{}, "p1", "Alice", "category", "Physics")

	if room.matchableWith("general", "") {
		t.Error("category room matched a general request")
	}
	if room.matchableWith("category", "Physics") {
		t.Error("category room matched an identical preference")
	}
	if !room.matchableWith("category", "History") {
		t.Error("category room rejected a diverse preference")
	}
}

func TestDuelExpireIfUnmatched(t *testing.T) {
	room := newDuelRoom(testConfig(), "EXPIRE", "general", newTestCatalog(10, "General"))
	p1 := &fakeConn{}
	room.addPlayer(p1, "p1", "Alice", "general", "")

	if !room.expireIfUnmatched() {
		t.Fatal("waiting half-empty room did not expire")
	}
	if _, ok := p1.lastOf("matchTimeout"); !ok {
		t.Error("expired player not notified")
	}
	if room.expireIfUnmatched() {
		t.Error("room expired twice")
	}
}

func TestDuelDoesNotStartBelowMinimum(t *testing.T) {
	room := newDuelRoom(testConfig(), "SHORT", "general", newTestCatalog(10, "General"))
	defer room.close()

	room.addPlayer(&fakeConn{}, "p1", "Alice", "general", "")
	room.startGame()

	if room.currentState() != stateWaiting {
		t.Error("duel started with a single player")
	}
}

func TestDuelConcurrentGuessesResolveOnce(t *testing.T) {
	room, p1, _ := newTestDuel(t)
	answer := room.currentAnswer()

	var wg sync.WaitGroup
	for _, id := range []string{"p1", "p2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			room.handleGuess(id, answer)
		}()
	}
	wg.Wait()

	if got := p1.countOf("questionResult"); got != 1 {
		t.Errorf("round resolved %d times, expected once", got)
	}

	room.mu.Lock()
	winners := 0
	for _, p := range room.players {
		winners += p.correct
	}
	room.mu.Unlock()
	if winners != 1 {
		t.Errorf("%d players credited for one round", winners)
	}
}

func TestDuelSnapshot(t *testing.T) {
	room, _, _ := newTestDuel(t)

	room.mu.Lock()
	snap := room.snapshotLocked()
	room.mu.Unlock()

	if snap.Kind != mirrorKindDuel || snap.ID != "TESTDUEL" {
		t.Errorf("unexpected snapshot identity: %s %s", snap.Kind, snap.ID)
	}
	if len(snap.Members) != 2 || len(snap.Health) != 2 {
		t.Errorf("snapshot members/health incomplete: %d/%d", len(snap.Members), len(snap.Health))
	}
	if snap.GameState != statePlaying || snap.QuestionsPerGame != duelRounds {
		t.Errorf("snapshot state wrong: %s, %d questions", snap.GameState, snap.QuestionsPerGame)
	}

	// the snapshot must be detached from live state
	snap.Health["p1"] = -1
	room.mu.Lock()
	live := room.health["p1"]
	room.mu.Unlock()
	if live == -1 {
		t.Error("snapshot shares the live health map")
	}
}

func TestDuelFullRoomDoesNotExpire(t *testing.T) {
	room, _, _ := newTestDuel(t)

	if room.expireIfUnmatched() {
		t.Error("playing room expired")
	}
}

// Hintman Duel Mode
//
// Two players race to identify the same secret answer from a series of
// progressively revealed hints. Both start with 5000 HP and bleed health for
// every hint revealed and every second spent thinking; a wrong guess costs a
// flat 500 HP on top, a correct one refunds 1000. A round ends on the first
// correct guess, on a player's elimination leaving no opponent, or after the
// two-minute timeout. Whoever is alive with the most health after the last
// round wins.
//
// All state for one duel lives behind a single mutex; guesses and timer
// callbacks are serialized through it, and the round's answered flag decides
// the winner of any photo-finish race. Timers are tracked in a per-room task
// table so that resolving a round mechanically cancels the hint/timeout pair.

package main

import (
	"sync"
	"time"
)

const (
	duelMaxHealth       = 5000
	duelRounds          = 5
	duelCategoryRounds  = 10
	duelHintPenalty     = 100
	duelWrongPenalty    = 500
	duelCorrectBonus    = 1000
	duelFirstHintDelay  = 1 * time.Second
	duelHintInterval    = 15 * time.Second
	duelQuestionTimeout = 120 * time.Second
	duelAdvanceDelay    = 3 * time.Second
	duelStartGrace      = 2 * time.Second
)

type duelRoom struct {
	id       string
	gameMode string // "general" or "category"
	cfg      *Config

	mu        sync.Mutex
	state     string
	players   []*gamePlayer
	health    map[string]int
	questions []Question
	current   int // round index
	hintIndex int
	answered  bool
	startTime time.Time // current round start
	createdAt time.Time

	catalog []Question
	tasks   taskTable

	// persist mirrors the room into the external store when configured.
	// Always called outside the room lock with a detached snapshot.
	persist func(snap roomSnapshot)
}

func newDuelRoom(cfg *Config, id, gameMode string, catalog []Question) *duelRoom {
	return &duelRoom{
		id:        id,
		gameMode:  gameMode,
		cfg:       cfg,
		state:     stateWaiting,
		health:    make(map[string]int),
		catalog:   catalog,
		createdAt: time.Now(),
	}
}

// addPlayer joins a connection to the duel. Joining is only possible while
// the room is Waiting and below capacity; anything else reports failure so
// the matchmaker falls through to a fresh room.
func (r *duelRoom) addPlayer(conn sender, id, name, gameMode, personalCategory string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateWaiting || len(r.players) >= 2 {
		return false
	}

	r.players = append(r.players, &gamePlayer{
		id:               id,
		name:             name,
		conn:             conn,
		gameMode:         gameMode,
		personalCategory: personalCategory,
	})
	r.health[id] = duelMaxHealth

	return true
}

// removePlayer drops a member on disconnect. Mid-game this is a forfeit: the
// round resolves immediately and the remaining player gets a final ranking
// instead of a silent hang.
func (r *duelRoom) removePlayer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.players[:0]
	found := false
	for _, p := range r.players {
		if p.id == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	r.players = kept
	delete(r.health, id)

	if !found {
		return
	}

	if len(r.players) > 0 {
		broadcastTo(r.players, "playerDisconnected", playerDisconnectedData{DisconnectedID: id})
	}

	if r.state == statePlaying {
		r.answered = true
		r.tasks.cancel(taskHint, taskTimeout, taskAdvance)
		r.endGameLocked()
	}
	if len(r.players) == 0 {
		r.tasks.shutdown()
	}
}

// startGame samples the question sequence and begins round 0. It is a no-op
// unless exactly two players are present and the room is still Waiting, so a
// stale start timer racing a disconnect resolves harmlessly.
func (r *duelRoom) startGame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateWaiting || len(r.players) != 2 {
		return
	}

	if r.gameMode == "category" {
		r.questions = pickCategoryMix(r.catalog, duelCategoryRounds/2,
			r.players[0].personalCategory, r.players[1].personalCategory)
	} else {
		r.questions = pickQuestions(r.catalog, duelRounds, "")
	}

	logf(r.cfg, "DUEL: Starting game %s (%s vs %s)", r.id, r.players[0].name, r.players[1].name)

	r.state = statePlaying
	r.current = 0
	r.startRoundLocked()
}

func (r *duelRoom) startRoundLocked() {
	if r.current >= len(r.questions) || r.aliveCountLocked() < 2 {
		r.endGameLocked()
		return
	}

	question := &r.questions[r.current]
	r.hintIndex = 0
	r.answered = false
	r.startTime = time.Now()

	broadcastTo(r.players, "questionStart", questionStartData{
		TargetIndex:  r.current + 1,
		TotalTargets: len(r.questions),
		Category:     question.Category,
		Difficulty:   question.Difficulty,
		Health:       copyHealth(r.health),
	})

	round := r.current
	r.tasks.schedule(taskHint, duelFirstHintDelay, func() { r.revealHint(round) })
	r.tasks.schedule(taskTimeout, duelQuestionTimeout, func() { r.handleTimeout(round) })

	r.persistLocked()
}

// revealHint discloses the next hint for the given round, charging every
// alive player for it. Fires from the task table; a stale callback from an
// already-resolved round drops itself on the guards.
func (r *duelRoom) revealHint(round int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != statePlaying || r.answered || round != r.current {
		return
	}

	question := &r.questions[r.current]
	if r.hintIndex >= question.totalHints() {
		return
	}

	for _, p := range r.players {
		if r.isAliveLocked(p.id) {
			r.applyHealthLocked(p.id, -duelHintPenalty)
		}
	}

	broadcastTo(r.players, "hintRevealed", hintRevealedData{
		Index:  r.hintIndex,
		Text:   question.hint(r.hintIndex),
		Health: copyHealth(r.health),
	})

	r.hintIndex++
	r.tasks.schedule(taskHint, duelHintInterval, func() { r.revealHint(round) })
}

// handleGuess scores one guess. The guesser always pays one HP per elapsed
// second; a correct guess resolves the round, a wrong one costs a flat
// penalty and can eliminate the guesser on the spot.
func (r *duelRoom) handleGuess(playerID, guess string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	player := r.playerLocked(playerID)
	if player == nil || r.state != statePlaying || r.answered || !r.isAliveLocked(playerID) {
		return
	}

	question := &r.questions[r.current]
	elapsed := time.Since(r.startTime)

	r.applyHealthLocked(playerID, -int(elapsed.Seconds()))

	if question.checkAnswer(guess) {
		r.answered = true
		player.correct++
		r.applyHealthLocked(playerID, duelCorrectBonus)

		logf(r.cfg, "DUEL: %s won round %d of %s with %q", player.name, r.current+1, r.id, guess)

		winner := player.id
		winnerName := player.name
		broadcastTo(r.players, "questionResult", questionResultData{
			Winner:        &winner,
			WinnerName:    &winnerName,
			CorrectAnswer: question.Answer,
			TimeElapsed:   elapsed.Seconds(),
			Health:        copyHealth(r.health),
			HealthGained:  duelCorrectBonus,
		})

		r.advanceLocked()
		return
	}

	player.mistakes++
	r.applyHealthLocked(playerID, -duelWrongPenalty)

	if player.conn != nil {
		player.conn.Send("wrongAnswer", wrongAnswerData{
			Guess:         guess,
			HealthLost:    duelWrongPenalty,
			CurrentHealth: r.health[playerID],
		})
	}

	broadcastTo(r.players, "healthUpdate", healthUpdateData{Health: copyHealth(r.health)})

	if !r.isAliveLocked(playerID) {
		player.eliminated = true
		broadcastTo(r.players, "playerEliminated", playerEliminatedData{
			EliminatedID:   playerID,
			EliminatedName: player.name,
			Health:         copyHealth(r.health),
			Reason:         "wrong_answer",
		})

		if r.aliveCountLocked() <= 1 {
			r.answered = true
			r.tasks.cancel(taskHint, taskTimeout)
			r.endGameLocked()
		}
	}
}

// handleTimeout closes a round nobody solved: every alive player pays the
// full timeout duration and the answer is revealed with no winner.
func (r *duelRoom) handleTimeout(round int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != statePlaying || r.answered || round != r.current {
		return
	}

	r.answered = true
	question := &r.questions[r.current]

	for _, p := range r.players {
		if r.isAliveLocked(p.id) {
			r.applyHealthLocked(p.id, -int(duelQuestionTimeout.Seconds()))
		}
	}

	broadcastTo(r.players, "questionResult", questionResultData{
		Winner:        nil,
		CorrectAnswer: question.Answer,
		TimeElapsed:   duelQuestionTimeout.Seconds(),
		Health:        copyHealth(r.health),
		IsTimeout:     true,
	})

	r.advanceLocked()
}

// advanceLocked cancels the round's timer pair and schedules the next round
// after a short pause for the client-side transition.
func (r *duelRoom) advanceLocked() {
	r.tasks.cancel(taskHint, taskTimeout)
	r.persistLocked()

	r.tasks.schedule(taskAdvance, duelAdvanceDelay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.state != statePlaying {
			return
		}
		r.current++
		r.startRoundLocked()
	})
}

func (r *duelRoom) endGameLocked() {
	r.tasks.cancel(taskHint, taskTimeout, taskAdvance)
	r.state = stateFinished

	results := make([]playerResult, 0, len(r.players))
	for _, p := range r.players {
		results = append(results, playerResult{
			ID:             p.id,
			Name:           p.name,
			Health:         r.health[p.id],
			IsAlive:        r.isAliveLocked(p.id),
			CorrectAnswers: p.correct,
			Mistakes:       p.mistakes,
			IsEliminated:   p.eliminated,
		})
	}
	rankResults(results, false)

	logf(r.cfg, "DUEL: Game %s ended after %d rounds", r.id, r.current+1)

	broadcastTo(r.players, "gameEnd", gameEndData{Results: results})
	r.persistLocked()
}

func (r *duelRoom) playerLocked(id string) *gamePlayer {
	for _, p := range r.players {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (r *duelRoom) isAliveLocked(id string) bool {
	return r.health[id] > 0
}

func (r *duelRoom) aliveCountLocked() int {
	alive := 0
	for _, p := range r.players {
		if r.isAliveLocked(p.id) {
			alive++
		}
	}
	return alive
}

func (r *duelRoom) applyHealthLocked(id string, delta int) {
	if _, ok := r.health[id]; !ok {
		return
	}
	r.health[id] = clampHealth(r.health[id]+delta, duelMaxHealth)
}

// matchableWith reports whether a waiting room with a lone occupant can take
// a new player of the given mode. Category duels additionally require the two
// preferences to differ, which is what forces the mixed question set.
func (r *duelRoom) matchableWith(gameMode, personalCategory string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateWaiting || len(r.players) != 1 || r.gameMode != gameMode {
		return false
	}
	if gameMode == "category" && r.players[0].personalCategory == personalCategory {
		return false
	}
	return true
}

// matchInfo snapshots the membership for a matchFound broadcast, plus the
// members' category preferences in join order.
func (r *duelRoom) matchInfo() ([]matchPlayer, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	players := make([]matchPlayer, 0, len(r.players))
	categories := make([]string, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, matchPlayer{
			ID:               p.id,
			Name:             p.name,
			GameMode:         p.gameMode,
			PersonalCategory: p.personalCategory,
		})
		categories = append(categories, p.personalCategory)
	}
	return players, categories
}

// expireIfUnmatched tears down a room that is still waiting below the start
// size, notifying any lone occupant. Reports whether it expired; a room that
// filled or started in the meantime is left alone.
func (r *duelRoom) expireIfUnmatched() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateWaiting || len(r.players) >= 2 {
		return false
	}

	broadcastTo(r.players, "matchTimeout", nil)
	r.state = stateFinished
	r.tasks.shutdown()

	return true
}

func (r *duelRoom) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

func (r *duelRoom) currentState() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *duelRoom) notify(eventType string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	broadcastTo(r.players, eventType, data)
}

func (r *duelRoom) close() {
	r.tasks.shutdown()
}

func (r *duelRoom) persistLocked() {
	if r.persist == nil {
		return
	}
	snap := r.snapshotLocked()
	go r.persist(snap)
}

func (r *duelRoom) snapshotLocked() roomSnapshot {
	members := make([]memberSnapshot, 0, len(r.players))
	for _, p := range r.players {
		members = append(members, memberSnapshot{
			ID:               p.id,
			Name:             p.name,
			PersonalCategory: p.personalCategory,
			Eliminated:       p.eliminated,
			CorrectAnswers:   p.correct,
			Mistakes:         p.mistakes,
		})
	}

	return roomSnapshot{
		Kind:             mirrorKindDuel,
		ID:               r.id,
		GameMode:         r.gameMode,
		GameState:        r.state,
		CurrentQuestion:  r.current,
		CurrentHintIndex: r.hintIndex,
		QuestionsPerGame: len(r.questions),
		QuestionAnswered: r.answered,
		CreatedAt:        r.createdAt.UnixMilli(),
		Members:          members,
		Questions:        r.questions,
		Health:           copyHealth(r.health),
	}
}

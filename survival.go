// Hintman Survival Mode
//
// Up to six players share one battle-royale room. Everyone starts with
// 10000 HP and answers the same twenty questions; hints bleed health from
// every living player, wrong guesses hurt only the guesser, and the damage
// of both escalates as the field thins out, so the endgame between the last
// two survivors is played for the highest stakes. A player whose health hits
// zero is eliminated exactly once, with the reason and round recorded in the
// room's eliminations ledger. The game ends when the rounds run out or a
// single survivor remains.
//
// Rooms gate their start on a ready check: the match fills in the lobby, and
// the countdown begins only once every member has signalled ready.

package main

import (
	"sync"
	"time"
)

const (
	survivalMaxHealth       = 10000
	survivalRounds          = 20
	survivalMaxPlayers      = 6
	survivalMinPlayers      = 2
	survivalHintCap         = 5
	survivalFirstHintDelay  = 1 * time.Second
	survivalHintInterval    = 12 * time.Second
	survivalQuestionTimeout = 120 * time.Second
	survivalAdvanceDelay    = 3 * time.Second
	survivalCountdownDelay  = 3 * time.Second
	survivalElimEndDelay    = 2 * time.Second
	survivalWrongEndDelay   = 1 * time.Second
)

// survivalDamage maps the count of living players to the penalty magnitude.
// Fewer survivors means higher stakes; counts below the table's smallest
// bucket use the top entry.
func survivalDamage(playersRemaining int, wrongAnswer bool) int {
	if wrongAnswer {
		switch playersRemaining {
		case 6:
			return 400
		case 5:
			return 500
		case 4:
			return 600
		case 3:
			return 700
		case 2:
			return 800
		default:
			return 900
		}
	}

	switch playersRemaining {
	case 6:
		return 30
	case 5:
		return 50
	case 4:
		return 70
	case 3:
		return 90
	case 2:
		return 110
	default:
		return 130
	}
}

type survivalRoom struct {
	id  string
	cfg *Config

	mu        sync.Mutex
	state     string
	players   []*gamePlayer
	health    map[string]int
	questions []Question
	current   int // question index
	round     int // 1-based display round
	hintIndex int
	answered  bool
	startTime time.Time
	createdAt time.Time

	eliminations []elimination

	catalog []Question
	tasks   taskTable

	persist func(snap roomSnapshot)
}

func newSurvivalRoom(cfg *Config, id string, catalog []Question) *survivalRoom {
	return &survivalRoom{
		id:        id,
		cfg:       cfg,
		state:     stateWaiting,
		health:    make(map[string]int),
		catalog:   catalog,
		createdAt: time.Now(),
		round:     1,
	}
}

// addPlayer joins a connection while the room is still filling. The question
// sequence is sampled as soon as the minimum player count is reached, not at
// explicit start.
func (r *survivalRoom) addPlayer(conn sender, id, name, gameMode, personalCategory string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateWaiting || len(r.players) >= survivalMaxPlayers {
		return false
	}

	r.players = append(r.players, &gamePlayer{
		id:               id,
		name:             name,
		conn:             conn,
		gameMode:         gameMode,
		personalCategory: personalCategory,
	})
	r.health[id] = survivalMaxHealth

	if len(r.players) >= survivalMinPlayers && len(r.questions) == 0 {
		r.questions = pickQuestions(r.catalog, survivalRounds, "")
	}

	return true
}

// removePlayer handles a disconnect. Mid-game it counts as an elimination
// with reason "disconnection" before the membership record goes away, so the
// ledger keeps the player's run.
func (r *survivalRoom) removePlayer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	player := r.playerLocked(id)
	if player == nil {
		return
	}

	if r.state == statePlaying && !player.eliminated {
		r.eliminateLocked(player, "disconnection")
	}

	kept := r.players[:0]
	for _, p := range r.players {
		if p.id != id {
			kept = append(kept, p)
		}
	}
	r.players = kept
	delete(r.health, id)

	switch {
	case len(r.players) == 0:
		r.tasks.shutdown()
	case r.state == stateWaiting:
		broadcastTo(r.players, "playerUnready", readyStateData{
			PlayerID:     id,
			ReadyPlayers: r.readyIDsLocked(),
		})
	case r.state == statePlaying && r.aliveCountLocked() <= 1:
		r.endGameLocked()
	}
}

// setReady toggles a member's ready flag and reports the updated ready set,
// or false when the player is not in the room.
func (r *survivalRoom) setReady(id string, ready bool) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	player := r.playerLocked(id)
	if player == nil || r.state != stateWaiting {
		return nil, false
	}

	player.ready = ready

	eventType := "playerUnready"
	if ready {
		eventType = "playerReady"
	}
	readySet := r.readyIDsLocked()
	broadcastTo(r.players, eventType, readyStateData{
		PlayerID:     id,
		ReadyPlayers: readySet,
	})

	if ready && r.allReadyLocked() {
		logf(r.cfg, "SURVIVAL: All %d players ready in %s, starting countdown", len(r.players), r.id)
		broadcastTo(r.players, "allPlayersReady", nil)
		r.tasks.schedule(taskStart, survivalCountdownDelay, r.startGame)
	}

	return readySet, true
}

func (r *survivalRoom) allReadyLocked() bool {
	if len(r.players) < survivalMinPlayers {
		return false
	}
	for _, p := range r.players {
		if !p.ready {
			return false
		}
	}
	return true
}

func (r *survivalRoom) readyIDsLocked() []string {
	ids := make([]string, 0, len(r.players))
	for _, p := range r.players {
		if p.ready {
			ids = append(ids, p.id)
		}
	}
	return ids
}

// startGame begins the match once the ready countdown lands, provided the
// lobby is still eligible. Everyone's health is reset to full in case a
// member left and rejoined while waiting.
func (r *survivalRoom) startGame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateWaiting || len(r.players) < survivalMinPlayers ||
		len(r.questions) == 0 || !r.allReadyLocked() {
		return
	}

	logf(r.cfg, "SURVIVAL: Starting battle royale in %s with %d players", r.id, len(r.players))

	r.state = statePlaying
	r.current = 0
	r.round = 1

	for _, p := range r.players {
		r.health[p.id] = survivalMaxHealth
	}

	broadcastTo(r.players, "gameStart", gameStartData{
		Round:  r.round,
		Health: copyHealth(r.health),
	})

	r.tasks.schedule(taskStart, survivalCountdownDelay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.state == statePlaying {
			r.startRoundLocked()
		}
	})

	r.persistLocked()
}

func (r *survivalRoom) startRoundLocked() {
	if r.current >= len(r.questions) || r.aliveCountLocked() <= 1 {
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
		Round:        r.round,
	})

	round := r.current
	r.tasks.schedule(taskHint, survivalFirstHintDelay, func() { r.revealHint(round) })
	r.tasks.schedule(taskTimeout, survivalQuestionTimeout, func() { r.handleTimeout(round) })

	r.persistLocked()
}

// revealHint discloses the next hint, at most survivalHintCap per question,
// charging every living player the alive-count-scaled time penalty.
func (r *survivalRoom) revealHint(round int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != statePlaying || r.answered || round != r.current || r.aliveCountLocked() <= 1 {
		return
	}

	question := &r.questions[r.current]
	if r.hintIndex >= survivalHintCap || r.hintIndex >= question.totalHints() {
		return
	}

	penalty := survivalDamage(r.aliveCountLocked(), false)
	for _, p := range r.players {
		if r.isAliveLocked(p.id) {
			r.updateHealthLocked(p, -penalty, "hint_penalty")
		}
	}

	broadcastTo(r.players, "hintRevealed", hintRevealedData{
		Index:       r.hintIndex,
		Text:        question.hint(r.hintIndex),
		Health:      copyHealth(r.health),
		TimePenalty: penalty,
	})

	r.hintIndex++
	r.tasks.schedule(taskHint, survivalHintInterval, func() { r.revealHint(round) })
}

func (r *survivalRoom) handleGuess(playerID, guess string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	player := r.playerLocked(playerID)
	if player == nil || r.state != statePlaying || r.answered || !r.isAliveLocked(playerID) {
		return
	}

	question := &r.questions[r.current]

	if question.checkAnswer(guess) {
		r.answered = true
		player.correct++

		logf(r.cfg, "SURVIVAL: %s survives round %d of %s", player.name, r.round, r.id)

		winner := player.id
		winnerName := player.name
		broadcastTo(r.players, "questionResult", questionResultData{
			Winner:        &winner,
			WinnerName:    &winnerName,
			CorrectAnswer: question.Answer,
			TimeElapsed:   time.Since(r.startTime).Seconds(),
			Health:        copyHealth(r.health),
		})

		r.advanceLocked()
		return
	}

	player.mistakes++
	damage := survivalDamage(r.aliveCountLocked(), true)
	r.updateHealthLocked(player, -damage, "wrong_answer")

	broadcastTo(r.players, "wrongAnswer", survivalWrongAnswerData{
		PlayerID:   playerID,
		PlayerName: player.name,
		Guess:      guess,
		Damage:     damage,
		Health:     copyHealth(r.health),
	})

	if r.aliveCountLocked() <= 1 {
		r.answered = true
		r.tasks.cancel(taskHint, taskTimeout)
		r.tasks.schedule(taskEnd, survivalWrongEndDelay, r.endGame)
	}
}

// handleTimeout applies the softer nobody-knew-it penalty, half the
// wrong-answer damage for the same alive count, to every living player.
func (r *survivalRoom) handleTimeout(round int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != statePlaying || r.answered || round != r.current || r.aliveCountLocked() <= 1 {
		return
	}

	r.answered = true
	question := &r.questions[r.current]
	penalty := survivalDamage(r.aliveCountLocked(), true) / 2

	for _, p := range r.players {
		if r.isAliveLocked(p.id) {
			r.updateHealthLocked(p, -penalty, "timeout_penalty")
		}
	}

	broadcastTo(r.players, "questionResult", questionResultData{
		Winner:         nil,
		CorrectAnswer:  question.Answer,
		TimeElapsed:    survivalQuestionTimeout.Seconds(),
		Health:         copyHealth(r.health),
		TimeoutPenalty: penalty,
		IsTimeout:      true,
	})

	r.advanceLocked()
}

func (r *survivalRoom) advanceLocked() {
	r.tasks.cancel(taskHint, taskTimeout)
	r.round++
	r.persistLocked()

	r.tasks.schedule(taskAdvance, survivalAdvanceDelay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.state != statePlaying {
			return
		}
		r.current++
		r.startRoundLocked()
	})
}

// updateHealthLocked applies a clamped health change and fires the one-time
// elimination latch if it bottoms out.
func (r *survivalRoom) updateHealthLocked(player *gamePlayer, delta int, reason string) {
	if _, ok := r.health[player.id]; !ok {
		return
	}
	r.health[player.id] = clampHealth(r.health[player.id]+delta, survivalMaxHealth)

	if r.health[player.id] == 0 && !player.eliminated {
		r.eliminateLocked(player, reason)
	}
}

// eliminateLocked records and broadcasts an elimination exactly once per
// player; the latch makes reprocessing impossible.
func (r *survivalRoom) eliminateLocked(player *gamePlayer, reason string) {
	if player.eliminated {
		return
	}

	player.eliminated = true
	r.health[player.id] = 0
	r.eliminations = append(r.eliminations, elimination{
		ID:           player.id,
		Name:         player.name,
		EliminatedAt: time.Now().UnixMilli(),
		Reason:       reason,
		FinalRound:   r.round,
	})

	remaining := r.aliveCountLocked()
	logf(r.cfg, "SURVIVAL: %s eliminated from %s (%s), %d remaining", player.name, r.id, reason, remaining)

	broadcastTo(r.players, "playerEliminated", playerEliminatedData{
		EliminatedID:     player.id,
		EliminatedName:   player.name,
		Health:           copyHealth(r.health),
		PlayersRemaining: remaining,
		Reason:           reason,
	})

	if remaining <= 1 {
		r.tasks.schedule(taskEnd, survivalElimEndDelay, r.endGame)
	}
}

func (r *survivalRoom) endGame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endGameLocked()
}

func (r *survivalRoom) endGameLocked() {
	if r.state == stateFinished {
		return
	}

	r.tasks.cancel(taskHint, taskTimeout, taskAdvance, taskStart, taskEnd)
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
			Category:       p.personalCategory,
			IsEliminated:   p.eliminated,
		})
	}
	rankResults(results, true)

	var winner *playerResult
	if len(results) > 0 {
		winner = &results[0]
	}

	logf(r.cfg, "SURVIVAL: Battle royale %s ended after %d rounds", r.id, r.round)

	broadcastTo(r.players, "gameEnd", gameEndData{
		Winner:            winner,
		Results:           results,
		TotalRounds:       r.round,
		EliminatedPlayers: r.eliminations,
	})

	r.persistLocked()
}

func (r *survivalRoom) playerLocked(id string) *gamePlayer {
	for _, p := range r.players {
		if p.id == id {
			return p
		}
	}
	return nil
}

// isAliveLocked requires both positive health and a clear elimination latch,
// so a latched player can never be revived by a stale health write.
func (r *survivalRoom) isAliveLocked(id string) bool {
	player := r.playerLocked(id)
	return player != nil && !player.eliminated && r.health[id] > 0
}

func (r *survivalRoom) aliveCountLocked() int {
	alive := 0
	for _, p := range r.players {
		if r.isAliveLocked(p.id) {
			alive++
		}
	}
	return alive
}

// matchable reports whether the lobby can still take another player.
func (r *survivalRoom) matchable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateWaiting && len(r.players) < survivalMaxPlayers
}

func (r *survivalRoom) matchInfo() []matchPlayer {
	r.mu.Lock()
	defer r.mu.Unlock()

	players := make([]matchPlayer, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, matchPlayer{
			ID:               p.id,
			Name:             p.name,
			GameMode:         p.gameMode,
			PersonalCategory: p.personalCategory,
		})
	}
	return players
}

// expireIfUnderfilled tears down a lobby that never reached the minimum
// player count, notifying the members still waiting. Reports whether it
// expired.
func (r *survivalRoom) expireIfUnderfilled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateWaiting || len(r.players) >= survivalMinPlayers {
		return false
	}

	broadcastTo(r.players, "matchTimeout", nil)
	r.state = stateFinished
	r.tasks.shutdown()

	return true
}

func (r *survivalRoom) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

func (r *survivalRoom) currentState() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *survivalRoom) notify(eventType string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	broadcastTo(r.players, eventType, data)
}

func (r *survivalRoom) close() {
	r.tasks.shutdown()
}

func (r *survivalRoom) persistLocked() {
	if r.persist == nil {
		return
	}
	snap := r.snapshotLocked()
	go r.persist(snap)
}

func (r *survivalRoom) snapshotLocked() roomSnapshot {
	members := make([]memberSnapshot, 0, len(r.players))
	ready := make([]string, 0, len(r.players))
	for _, p := range r.players {
		members = append(members, memberSnapshot{
			ID:               p.id,
			Name:             p.name,
			PersonalCategory: p.personalCategory,
			Eliminated:       p.eliminated,
			CorrectAnswers:   p.correct,
			Mistakes:         p.mistakes,
		})
		if p.ready {
			ready = append(ready, p.id)
		}
	}

	return roomSnapshot{
		Kind:             mirrorKindSurvival,
		ID:               r.id,
		GameMode:         "survival",
		GameState:        r.state,
		CurrentQuestion:  r.current,
		CurrentHintIndex: r.hintIndex,
		QuestionsPerGame: len(r.questions),
		MaxPlayers:       survivalMaxPlayers,
		QuestionAnswered: r.answered,
		CreatedAt:        r.createdAt.UnixMilli(),
		Members:          members,
		Questions:        r.questions,
		Health:           copyHealth(r.health),
		ReadyPlayers:     ready,
		Eliminations:     r.eliminations,
	}
}

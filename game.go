package main

import (
	"sort"
	"sync"
	"time"
)

// Room lifecycle states, shared by both game variants.
const (
	stateWaiting  = "waiting"
	statePlaying  = "playing"
	stateFinished = "finished"
)

// Scheduled task kinds. Each room keeps at most one live timer per kind;
// starting a round or resolving one cancels the kinds it supersedes, so a
// stale hint or timeout can never fire into a later round.
const (
	taskHint    = "hint"
	taskTimeout = "timeout"
	taskAdvance = "advance"
	taskStart   = "start"
	taskExpire  = "expire"
	taskEnd     = "end"
)

// sender delivers one event to a single connection. Send must never block;
// it reports whether the event was accepted for delivery. A dead recipient
// is skipped, never an error.
type sender interface {
	Send(eventType string, data any) bool
}

// event is the wire envelope for every outbound message.
type event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// gamePlayer is one room membership record. Health lives in the room's
// health map, which is the single source of truth for aliveness; the fields
// here are identity, counters, and per-mode flags.
type gamePlayer struct {
	id               string
	name             string
	conn             sender
	gameMode         string
	personalCategory string
	eliminated       bool
	correct          int
	mistakes         int
	ready            bool
}

func clampHealth(health, maxHealth int) int {
	if health < 0 {
		return 0
	}
	if health > maxHealth {
		return maxHealth
	}
	return health
}

// copyHealth snapshots a health map for broadcasting, so the payload cannot
// race with later mutations once it leaves the room's critical section.
func copyHealth(health map[string]int) map[string]int {
	snapshot := make(map[string]int, len(health))
	for id, hp := range health {
		snapshot[id] = hp
	}
	return snapshot
}

func broadcastTo(players []*gamePlayer, eventType string, data any) {
	for _, p := range players {
		if p.conn != nil {
			p.conn.Send(eventType, data)
		}
	}
}

// taskTable is a per-room set of scheduled callbacks keyed by task kind.
// Scheduling a kind replaces any pending timer of the same kind, and a
// stopped table refuses new work, so room teardown cannot leak callbacks.
type taskTable struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func (t *taskTable) schedule(kind string, delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if t.timers == nil {
		t.timers = make(map[string]*time.Timer)
	}
	if prev, ok := t.timers[kind]; ok {
		prev.Stop()
	}
	t.timers[kind] = time.AfterFunc(delay, fn)
}

func (t *taskTable) cancel(kinds ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, kind := range kinds {
		if timer, ok := t.timers[kind]; ok {
			timer.Stop()
			delete(t.timers, kind)
		}
	}
}

func (t *taskTable) shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for kind, timer := range t.timers {
		timer.Stop()
		delete(t.timers, kind)
	}
}

// ---- Outbound event payloads ----

type waitingForMatchData struct {
	RoomID               string `json:"roomId"`
	GameMode             string `json:"gameMode"`
	PersonalCategory     string `json:"personalCategory"`
	PersonalCategoryName string `json:"personalCategoryName,omitempty"`
	PlayersInRoom        int    `json:"playersInRoom,omitempty"`
	MaxPlayers           int    `json:"maxPlayers,omitempty"`
}

type matchPlayer struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	GameMode         string `json:"gameMode"`
	PersonalCategory string `json:"personalCategory"`
}

type categoryInfo struct {
	Player1Category  string `json:"player1Category,omitempty"`
	Player2Category  string `json:"player2Category,omitempty"`
	QuestionsPerGame int    `json:"questionsPerGame"`
	MixStrategy      string `json:"mixStrategy"`
	GameType         string `json:"gameType,omitempty"`
}

type matchFoundData struct {
	Players      []matchPlayer `json:"players"`
	GameMode     string        `json:"gameMode"`
	CategoryInfo categoryInfo  `json:"categoryInfo"`
}

type gameStartData struct {
	Round  int            `json:"round"`
	Health map[string]int `json:"health"`
}

type questionStartData struct {
	TargetIndex  int            `json:"targetIndex"`
	TotalTargets int            `json:"totalTargets"`
	Category     string         `json:"category"`
	Difficulty   string         `json:"difficulty"`
	Health       map[string]int `json:"health"`
	Round        int            `json:"round,omitempty"`
}

type hintRevealedData struct {
	Index       int            `json:"index"`
	Text        string         `json:"text"`
	Health      map[string]int `json:"health"`
	TimePenalty int            `json:"timePenalty,omitempty"`
}

type questionResultData struct {
	Winner         *string        `json:"winner"`
	WinnerName     *string        `json:"winnerName,omitempty"`
	CorrectAnswer  string         `json:"correctAnswer"`
	TimeElapsed    float64        `json:"timeElapsed"`
	Health         map[string]int `json:"health"`
	HealthGained   int            `json:"healthGained,omitempty"`
	TimeoutPenalty int            `json:"timeoutPenalty,omitempty"`
	IsTimeout      bool           `json:"isTimeout,omitempty"`
}

type wrongAnswerData struct {
	Guess         string `json:"guess"`
	HealthLost    int    `json:"healthLost"`
	CurrentHealth int    `json:"currentHealth"`
}

type survivalWrongAnswerData struct {
	PlayerID   string         `json:"playerId"`
	PlayerName string         `json:"playerName"`
	Guess      string         `json:"guess"`
	Damage     int            `json:"damage"`
	Health     map[string]int `json:"health"`
}

type healthUpdateData struct {
	Health map[string]int `json:"health"`
}

type playerEliminatedData struct {
	EliminatedID     string         `json:"eliminatedId"`
	EliminatedName   string         `json:"eliminatedName"`
	Health           map[string]int `json:"health"`
	PlayersRemaining int            `json:"playersRemaining,omitempty"`
	Reason           string         `json:"reason,omitempty"`
}

type playerDisconnectedData struct {
	DisconnectedID string `json:"disconnectedId"`
}

type readyStateData struct {
	PlayerID     string   `json:"playerId"`
	ReadyPlayers []string `json:"readyPlayers"`
}

type playerResult struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Health         int    `json:"health"`
	IsAlive        bool   `json:"isAlive"`
	CorrectAnswers int    `json:"correctAnswers"`
	Mistakes       int    `json:"mistakes"`
	Category       string `json:"category,omitempty"`
	IsEliminated   bool   `json:"isEliminated"`
}

type elimination struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	EliminatedAt int64  `json:"eliminatedAt"`
	Reason       string `json:"reason"`
	FinalRound   int    `json:"finalRound"`
}

type gameEndData struct {
	Winner            *playerResult  `json:"winner,omitempty"`
	Results           []playerResult `json:"results"`
	TotalRounds       int            `json:"totalRounds,omitempty"`
	EliminatedPlayers []elimination  `json:"eliminatedPlayers,omitempty"`
}

type serverShutdownData struct {
	Reason string `json:"reason"`
}

// rankResults orders results alive-first, then health descending; when
// byCorrect is set, correct-answer count breaks health ties.
func rankResults(results []playerResult, byCorrect bool) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.IsAlive != b.IsAlive {
			return a.IsAlive
		}
		if a.Health != b.Health {
			return a.Health > b.Health
		}
		if byCorrect {
			return a.CorrectAnswers > b.CorrectAnswers
		}
		return false
	})
}

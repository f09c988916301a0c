// Matchmaking and the connection registry. The gameManager owns every live
// session and room, places find-match requests into compatible waiting rooms
// or creates fresh ones, routes guesses to the right engine, forfeits players
// on disconnect, and reaps rooms that finished or never filled. It is the
// only state shared between rooms, so all index mutations happen under its
// mutex; per-room game state stays behind each room's own lock.

package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	kindDuel     = "duel"
	kindSurvival = "survival"

	survivalTokenPrefix = "SURVIVAL-"
)

// session tracks one live connection and the room it occupies, if any.
type session struct {
	id          string
	conn        sender
	connectedAt time.Time
	roomID      string
	roomKind    string
}

type gameManager struct {
	cfg     *Config
	catalog []Question
	mirror  *roomMirror // nil unless --redis-url is set

	mu        sync.Mutex
	sessions  map[string]*session
	duels     map[string]*duelRoom
	survivals map[string]*survivalRoom

	startedAt time.Time
	done      chan struct{}
}

func newGameManager(cfg *Config, catalog []Question, mirror *roomMirror) *gameManager {
	gm := &gameManager{
		cfg:       cfg,
		catalog:   catalog,
		mirror:    mirror,
		sessions:  make(map[string]*session),
		duels:     make(map[string]*duelRoom),
		survivals: make(map[string]*survivalRoom),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	if cfg.sessionTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *gameManager) handleConnect(conn sender, connectionID string) {
	gm.mu.Lock()
	gm.sessions[connectionID] = &session{
		id:          connectionID,
		conn:        conn,
		connectedAt: time.Now(),
	}
	gm.mu.Unlock()

	logf(gm.cfg, "MATCH: Player connected: %s", connectionID)

	if gm.mirror != nil {
		go gm.mirror.savePlayer(connectionID, time.Now(), "", "")
	}
}

func (gm *gameManager) handleDisconnect(connectionID string) {
	gm.mu.Lock()
	sess := gm.sessions[connectionID]
	delete(gm.sessions, connectionID)
	gm.mu.Unlock()

	logf(gm.cfg, "MATCH: Player disconnected: %s", connectionID)

	if gm.mirror != nil {
		go gm.mirror.deletePlayer(connectionID)
	}
	if sess == nil || sess.roomID == "" {
		return
	}

	switch sess.roomKind {
	case kindDuel:
		gm.mu.Lock()
		room := gm.duels[sess.roomID]
		gm.mu.Unlock()
		if room == nil {
			return
		}
		room.removePlayer(connectionID)
		if room.memberCount() == 0 {
			gm.deleteDuelRoom(sess.roomID)
		}
	case kindSurvival:
		gm.mu.Lock()
		room := gm.survivals[sess.roomID]
		gm.mu.Unlock()
		if room == nil {
			return
		}
		room.removePlayer(connectionID)
		if room.memberCount() == 0 {
			gm.deleteSurvivalRoom(sess.roomID)
		}
	}
}

// findMatch places a connection into a compatible waiting duel room, or
// creates a new one. In category mode a waiting room only matches when its
// occupant prefers a different category, forcing topic diversity; two players
// with the same preference end up in separate rooms.
func (gm *gameManager) findMatch(connectionID, playerName, gameMode, personalCategory, personalCategoryName string) {
	sess := gm.lookupIdleSession(connectionID)
	if sess == nil {
		return
	}

	logf(gm.cfg, "MATCH: Finding duel for %s (%s/%s)", playerName, gameMode, personalCategory)

	gm.mu.Lock()
	var found *duelRoom
	for _, room := range gm.duels {
		if room.matchableWith(gameMode, personalCategory) {
			found = room
			break
		}
	}
	gm.mu.Unlock()

	if found != nil && found.addPlayer(sess.conn, connectionID, playerName, gameMode, personalCategory) {
		gm.placeSession(sess, found.id, kindDuel)

		players, categories := found.matchInfo()
		info := categoryInfo{
			QuestionsPerGame: duelRounds,
			MixStrategy:      "General knowledge questions",
		}
		if gameMode == "category" && len(categories) == 2 {
			info = categoryInfo{
				Player1Category:  categories[0],
				Player2Category:  categories[1],
				QuestionsPerGame: duelCategoryRounds,
				MixStrategy:      fmt.Sprintf("%d questions from %s + %d from %s", duelCategoryRounds/2, categories[0], duelCategoryRounds/2, categories[1]),
			}
		}

		found.notify("matchFound", matchFoundData{
			Players:      players,
			GameMode:     gameMode,
			CategoryInfo: info,
		})

		// Short grace before starting so the clients can settle; startGame
		// re-checks state and member count, so losing a race to a
		// disconnect in the meantime is a no-op.
		found.tasks.schedule(taskStart, duelStartGrace, found.startGame)
		return
	}

	gm.mu.Lock()
	roomID := gm.newRoomTokenLocked("")
	room := newDuelRoom(gm.cfg, roomID, gameMode, gm.catalog)
	if gm.mirror != nil {
		room.persist = gm.mirror.saveRoom
	}
	gm.duels[roomID] = room
	gm.mu.Unlock()

	room.addPlayer(sess.conn, connectionID, playerName, gameMode, personalCategory)
	gm.placeSession(sess, roomID, kindDuel)

	logf(gm.cfg, "MATCH: Created duel room %s for %s", roomID, playerName)

	sess.conn.Send("waitingForMatch", waitingForMatchData{
		RoomID:               roomID,
		GameMode:             gameMode,
		PersonalCategory:     personalCategory,
		PersonalCategoryName: personalCategoryName,
	})

	room.tasks.schedule(taskExpire, gm.cfg.matchTimeout, func() { gm.expireDuelRoom(roomID) })
}

// findSurvivalMatch joins any waiting survival room with an open slot, or
// creates one. Filled rooms move to the ready lobby rather than starting
// outright.
func (gm *gameManager) findSurvivalMatch(connectionID, playerName, gameMode, personalCategory, personalCategoryName string) {
	sess := gm.lookupIdleSession(connectionID)
	if sess == nil {
		return
	}

	logf(gm.cfg, "MATCH: Finding survival match for %s", playerName)

	gm.mu.Lock()
	var found *survivalRoom
	for _, room := range gm.survivals {
		if room.matchable() {
			found = room
			break
		}
	}
	gm.mu.Unlock()

	if found != nil && found.addPlayer(sess.conn, connectionID, playerName, gameMode, personalCategory) {
		gm.placeSession(sess, found.id, kindSurvival)

		players := found.matchInfo()
		found.notify("matchFound", matchFoundData{
			Players:  players,
			GameMode: "survival",
			CategoryInfo: categoryInfo{
				QuestionsPerGame: survivalRounds,
				MixStrategy:      "Mixed categories for survival challenge",
				GameType:         "Battle Royale",
			},
		})
		return
	}

	gm.mu.Lock()
	roomID := gm.newRoomTokenLocked(survivalTokenPrefix)
	room := newSurvivalRoom(gm.cfg, roomID, gm.catalog)
	if gm.mirror != nil {
		room.persist = gm.mirror.saveRoom
	}
	gm.survivals[roomID] = room
	gm.mu.Unlock()

	room.addPlayer(sess.conn, connectionID, playerName, gameMode, personalCategory)
	gm.placeSession(sess, roomID, kindSurvival)

	logf(gm.cfg, "MATCH: Created survival room %s for %s", roomID, playerName)

	sess.conn.Send("waitingForMatch", waitingForMatchData{
		RoomID:               roomID,
		GameMode:             "survival",
		PersonalCategory:     personalCategory,
		PersonalCategoryName: personalCategoryName,
		PlayersInRoom:        1,
		MaxPlayers:           survivalMaxPlayers,
	})

	room.tasks.schedule(taskExpire, gm.cfg.survivalMatchTimeout, func() { gm.expireSurvivalRoom(roomID) })
}

// setPlayerReady toggles readiness in the player's survival lobby. A toggle
// from a connection without a survival room is a benign no-op.
func (gm *gameManager) setPlayerReady(connectionID string, ready bool) {
	gm.mu.Lock()
	sess := gm.sessions[connectionID]
	var room *survivalRoom
	if sess != nil && sess.roomKind == kindSurvival {
		room = gm.survivals[sess.roomID]
	}
	gm.mu.Unlock()

	if room == nil {
		return
	}
	room.setReady(connectionID, ready)
}

// routeGuess forwards a guess to the guesser's current room. Guesses without
// a room, or into a room that is not playing, are silently dropped.
func (gm *gameManager) routeGuess(connectionID, guess string) {
	gm.mu.Lock()
	sess := gm.sessions[connectionID]
	var duel *duelRoom
	var survival *survivalRoom
	if sess != nil {
		switch sess.roomKind {
		case kindDuel:
			duel = gm.duels[sess.roomID]
		case kindSurvival:
			survival = gm.survivals[sess.roomID]
		}
	}
	gm.mu.Unlock()

	switch {
	case duel != nil:
		duel.handleGuess(connectionID, guess)
	case survival != nil:
		survival.handleGuess(connectionID, guess)
	}
}

// expireDuelRoom discards a duel room that never matched, notifying the lone
// occupant. Safe to call for ids that are already gone.
func (gm *gameManager) expireDuelRoom(roomID string) {
	gm.mu.Lock()
	room := gm.duels[roomID]
	gm.mu.Unlock()

	if room == nil || !room.expireIfUnmatched() {
		return
	}

	logf(gm.cfg, "MATCH: Expired unmatched duel room %s", roomID)
	gm.deleteDuelRoom(roomID)
}

func (gm *gameManager) expireSurvivalRoom(roomID string) {
	gm.mu.Lock()
	room := gm.survivals[roomID]
	gm.mu.Unlock()

	if room == nil || !room.expireIfUnderfilled() {
		return
	}

	logf(gm.cfg, "MATCH: Expired underfilled survival room %s", roomID)
	gm.deleteSurvivalRoom(roomID)
}

func (gm *gameManager) deleteDuelRoom(roomID string) {
	gm.mu.Lock()
	room := gm.duels[roomID]
	delete(gm.duels, roomID)
	gm.releaseSessionsLocked(roomID)
	gm.mu.Unlock()

	if room == nil {
		return
	}
	room.close()
	if gm.mirror != nil {
		go gm.mirror.deleteRoom(mirrorKindDuel, roomID)
	}
}

func (gm *gameManager) deleteSurvivalRoom(roomID string) {
	gm.mu.Lock()
	room := gm.survivals[roomID]
	delete(gm.survivals, roomID)
	gm.releaseSessionsLocked(roomID)
	gm.mu.Unlock()

	if room == nil {
		return
	}
	room.close()
	if gm.mirror != nil {
		go gm.mirror.deleteRoom(mirrorKindSurvival, roomID)
	}
}

// releaseSessionsLocked clears the room pointers of every still-connected
// member of a deleted room, so the connection can queue for another match.
func (gm *gameManager) releaseSessionsLocked(roomID string) {
	for _, sess := range gm.sessions {
		if sess.roomID == roomID {
			sess.roomID = ""
			sess.roomKind = ""
		}
	}
}

// lookupIdleSession returns the session iff it exists and is not in a live
// room; duplicate find-match requests from a placed connection are dropped
// here rather than corrupting the registry. A session still pointing at a
// finished or deleted room is released so the player can queue again.
func (gm *gameManager) lookupIdleSession(connectionID string) *session {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	sess := gm.sessions[connectionID]
	if sess == nil {
		return nil
	}
	if sess.roomID == "" {
		return sess
	}

	state := ""
	switch sess.roomKind {
	case kindDuel:
		if room := gm.duels[sess.roomID]; room != nil {
			state = room.currentState()
		}
	case kindSurvival:
		if room := gm.survivals[sess.roomID]; room != nil {
			state = room.currentState()
		}
	}
	if state == stateWaiting || state == statePlaying {
		return nil
	}

	sess.roomID = ""
	sess.roomKind = ""
	return sess
}

func (gm *gameManager) placeSession(sess *session, roomID, roomKind string) {
	gm.mu.Lock()
	sess.roomID = roomID
	sess.roomKind = roomKind
	gm.mu.Unlock()

	if gm.mirror != nil {
		go gm.mirror.savePlayer(sess.id, sess.connectedAt, roomID, roomKind)
	}
}

// newRoomTokenLocked generates a short shareable room token (the first UUID
// segment, uppercased) and retries on the off chance it collides with a live
// room.
func (gm *gameManager) newRoomTokenLocked(prefix string) string {
	for {
		token := prefix + strings.ToUpper(strings.SplitN(uuid.NewString(), "-", 2)[0])
		if _, exists := gm.duels[token]; exists {
			continue
		}
		if _, exists := gm.survivals[token]; exists {
			continue
		}
		return token
	}
}

type managerStats struct {
	TotalRooms          int            `json:"totalRooms"`
	TotalPlayers        int            `json:"totalPlayers"`
	WaitingPlayers      int            `json:"waitingPlayers"`
	RoomStats           map[string]int `json:"roomStats"`
	QuestionsAvailable  int            `json:"questionsAvailable"`
	RegularRoomsActive  int            `json:"regularRoomsActive"`
	SurvivalRoomsActive int            `json:"survivalRoomsActive"`
}

func (gm *gameManager) stats() managerStats {
	gm.mu.Lock()
	duels := make([]*duelRoom, 0, len(gm.duels))
	for _, room := range gm.duels {
		duels = append(duels, room)
	}
	survivals := make([]*survivalRoom, 0, len(gm.survivals))
	for _, room := range gm.survivals {
		survivals = append(survivals, room)
	}
	totalPlayers := len(gm.sessions)
	gm.mu.Unlock()

	stats := managerStats{
		TotalRooms:          len(duels) + len(survivals),
		TotalPlayers:        totalPlayers,
		RoomStats:           map[string]int{stateWaiting: 0, statePlaying: 0, stateFinished: 0},
		QuestionsAvailable:  len(gm.catalog),
		RegularRoomsActive:  len(duels),
		SurvivalRoomsActive: len(survivals),
	}

	for _, room := range duels {
		state := room.currentState()
		stats.RoomStats[state]++
		if state == stateWaiting {
			stats.WaitingPlayers += room.memberCount()
		}
	}
	for _, room := range survivals {
		state := room.currentState()
		stats.RoomStats[state]++
		if state == stateWaiting {
			stats.WaitingPlayers += room.memberCount()
		}
	}

	return stats
}

// reaperLoop periodically drops rooms that have finished or emptied out but
// were never deleted through the disconnect path.
func (gm *gameManager) reaperLoop() {
	ticker := time.NewTicker(gm.cfg.sessionTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gm.reapStaleRooms()
		case <-gm.done:
			return
		}
	}
}

func (gm *gameManager) reapStaleRooms() {
	gm.mu.Lock()
	duelIDs := make([]string, 0, len(gm.duels))
	for id := range gm.duels {
		duelIDs = append(duelIDs, id)
	}
	survivalIDs := make([]string, 0, len(gm.survivals))
	for id := range gm.survivals {
		survivalIDs = append(survivalIDs, id)
	}
	gm.mu.Unlock()

	for _, id := range duelIDs {
		gm.mu.Lock()
		room := gm.duels[id]
		gm.mu.Unlock()
		if room != nil && (room.currentState() == stateFinished || room.memberCount() == 0) {
			logf(gm.cfg, "MATCH: Reaping stale duel room %s", id)
			gm.deleteDuelRoom(id)
		}
	}
	for _, id := range survivalIDs {
		gm.mu.Lock()
		room := gm.survivals[id]
		gm.mu.Unlock()
		if room != nil && (room.currentState() == stateFinished || room.memberCount() == 0) {
			logf(gm.cfg, "MATCH: Reaping stale survival room %s", id)
			gm.deleteSurvivalRoom(id)
		}
	}
}

// shutdown notifies every room, cancels all timers, and clears the
// registries. Called once on server teardown.
func (gm *gameManager) shutdown() {
	close(gm.done)

	gm.mu.Lock()
	duels := gm.duels
	survivals := gm.survivals
	gm.duels = make(map[string]*duelRoom)
	gm.survivals = make(map[string]*survivalRoom)
	gm.sessions = make(map[string]*session)
	gm.mu.Unlock()

	notice := serverShutdownData{Reason: "Server maintenance"}
	for id, room := range duels {
		room.notify("serverShutdown", notice)
		room.close()
		if gm.mirror != nil {
			gm.mirror.deleteRoom(mirrorKindDuel, id)
		}
	}
	for id, room := range survivals {
		room.notify("serverShutdown", notice)
		room.close()
		if gm.mirror != nil {
			gm.mirror.deleteRoom(mirrorKindSurvival, id)
		}
	}

	logf(gm.cfg, "MATCH: Game manager shut down")
}

// Optional Redis mirror for horizontal scale-out. Rooms are written through
// as hashes with a bounded TTL so another process can reconstruct a room's
// state, but the mirror is a cache, never a source of truth: in-process state
// always wins while the room is owned here, and every mirror failure is
// logged and swallowed rather than surfaced to the game.

package main

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	mirrorKindDuel     = "room"
	mirrorKindSurvival = "survival"

	mirrorRoomTTL    = 2 * time.Hour
	mirrorPlayerTTL  = 1 * time.Hour
	mirrorOpTimeout  = 5 * time.Second
	mirrorPlayerKeys = "player:"
)

type memberSnapshot struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	PersonalCategory string `json:"personalCategory"`
	Eliminated       bool   `json:"eliminated"`
	CorrectAnswers   int    `json:"correctAnswers"`
	Mistakes         int    `json:"mistakes"`
}

// roomSnapshot is the full serializable state of one room: enough to rebuild
// membership, the question sequence, health, and round position elsewhere.
type roomSnapshot struct {
	Kind             string
	ID               string
	GameMode         string
	GameState        string
	CurrentQuestion  int
	CurrentHintIndex int
	QuestionsPerGame int
	MaxPlayers       int
	QuestionAnswered bool
	CreatedAt        int64
	Members          []memberSnapshot
	Questions        []Question
	Health           map[string]int
	ReadyPlayers     []string
	Eliminations     []elimination
}

type roomMirror struct {
	cfg *Config
	rdb *redis.Client
}

func newRoomMirror(cfg *Config) (*roomMirror, error) {
	opts, err := redis.ParseURL(cfg.redisURL)
	if err != nil {
		return nil, err
	}

	return &roomMirror{
		cfg: cfg,
		rdb: redis.NewClient(opts),
	}, nil
}

func (m *roomMirror) close() error {
	return m.rdb.Close()
}

func (m *roomMirror) saveRoom(snap roomSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()

	members, _ := json.Marshal(snap.Members)
	questions, _ := json.Marshal(snap.Questions)
	health, _ := json.Marshal(snap.Health)

	fields := map[string]any{
		"id":               snap.ID,
		"gameMode":         snap.GameMode,
		"gameState":        snap.GameState,
		"currentQuestion":  strconv.Itoa(snap.CurrentQuestion),
		"currentHintIndex": strconv.Itoa(snap.CurrentHintIndex),
		"questionsPerGame": strconv.Itoa(snap.QuestionsPerGame),
		"questionAnswered": strconv.FormatBool(snap.QuestionAnswered),
		"createdAt":        strconv.FormatInt(snap.CreatedAt, 10),
		"players":          string(members),
		"questions":        string(questions),
		"health":           string(health),
	}

	if snap.Kind == mirrorKindSurvival {
		ready, _ := json.Marshal(snap.ReadyPlayers)
		eliminated, _ := json.Marshal(snap.Eliminations)
		fields["maxPlayers"] = strconv.Itoa(snap.MaxPlayers)
		fields["readyPlayers"] = string(ready)
		fields["eliminatedPlayers"] = string(eliminated)
	}

	key := snap.Kind + ":" + snap.ID
	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, mirrorRoomTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		logf(m.cfg, "REDIS: Error saving %s: %v", key, err)
	}
}

func (m *roomMirror) loadRoom(kind, id string) (*roomSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()

	data, err := m.rdb.HGetAll(ctx, kind+":"+id).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, redis.Nil
	}

	snap := &roomSnapshot{
		Kind:      kind,
		ID:        data["id"],
		GameMode:  data["gameMode"],
		GameState: data["gameState"],
	}
	snap.CurrentQuestion, _ = strconv.Atoi(data["currentQuestion"])
	snap.CurrentHintIndex, _ = strconv.Atoi(data["currentHintIndex"])
	snap.QuestionsPerGame, _ = strconv.Atoi(data["questionsPerGame"])
	snap.MaxPlayers, _ = strconv.Atoi(data["maxPlayers"])
	snap.QuestionAnswered, _ = strconv.ParseBool(data["questionAnswered"])
	snap.CreatedAt, _ = strconv.ParseInt(data["createdAt"], 10, 64)

	if err := json.Unmarshal([]byte(data["players"]), &snap.Members); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data["questions"]), &snap.Questions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data["health"]), &snap.Health); err != nil {
		return nil, err
	}
	if raw, ok := data["readyPlayers"]; ok {
		_ = json.Unmarshal([]byte(raw), &snap.ReadyPlayers)
	}
	if raw, ok := data["eliminatedPlayers"]; ok {
		_ = json.Unmarshal([]byte(raw), &snap.Eliminations)
	}

	return snap, nil
}

func (m *roomMirror) deleteRoom(kind, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()

	if err := m.rdb.Del(ctx, kind+":"+id).Err(); err != nil {
		logf(m.cfg, "REDIS: Error deleting %s:%s: %v", kind, id, err)
	}
}

func (m *roomMirror) savePlayer(id string, connectedAt time.Time, roomID, roomKind string) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()

	key := mirrorPlayerKeys + id
	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"id":          id,
		"connectedAt": strconv.FormatInt(connectedAt.UnixMilli(), 10),
		"currentRoom": roomID,
		"roomType":    roomKind,
	})
	pipe.Expire(ctx, key, mirrorPlayerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		logf(m.cfg, "REDIS: Error saving player %s: %v", id, err)
	}
}

func (m *roomMirror) deletePlayer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()

	if err := m.rdb.Del(ctx, mirrorPlayerKeys+id).Err(); err != nil {
		logf(m.cfg, "REDIS: Error deleting player %s: %v", id, err)
	}
}

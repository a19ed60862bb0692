// Package session tracks respondent sessions keyed by resume token.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"surveygraph/api/internal/auth"
)

var ErrSessionNotFound = errors.New("session not found or expired")

// Record is what the tracker keeps for a resume token. It holds identifiers
// and timestamps only; navigation state is always recomputed from storage.
type Record struct {
	SurveyID     string    `json:"survey_id"`
	ResponseID   string    `json:"response_id"`
	SessionID    string    `json:"session_id,omitempty"`
	RespondentID string    `json:"respondent_id,omitempty"`
	Status       string    `json:"status"`
	LastSeen     time.Time `json:"last_seen"`
}

// RedisTracker stores one record per resume token plus a per-survey sorted
// set scored by last-seen time.
type RedisTracker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisTracker connects to redisURL and verifies the connection.
func NewRedisTracker(redisURL string, ttl time.Duration) (*RedisTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisTrackerWithClient(client, ttl), nil
}

// NewRedisTrackerWithClient creates a tracker from an existing Redis client.
func NewRedisTrackerWithClient(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisTracker{
		client: client,
		prefix: "resume:",
		ttl:    ttl,
		now:    time.Now,
	}
}

func (t *RedisTracker) key(tokenHash string) string {
	return t.prefix + tokenHash
}

func (t *RedisTracker) surveyKey(surveyID string) string {
	return t.prefix + "survey:" + surveyID
}

// Track records activity on a resume token. The token itself is never stored.
func (t *RedisTracker) Track(ctx context.Context, resumeToken string, record Record) error {
	if record.LastSeen.IsZero() {
		record.LastSeen = t.now().UTC()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	tokenHash := auth.HashToken(resumeToken)
	surveyKey := t.surveyKey(record.SurveyID)
	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, t.key(tokenHash), payload, t.ttl)
		pipe.ZAdd(ctx, surveyKey, redis.Z{Score: float64(record.LastSeen.Unix()), Member: tokenHash})
		pipe.Expire(ctx, surveyKey, t.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("track session: %w", err)
	}
	return nil
}

// lookup returns the record stored for a resume token.
func (t *RedisTracker) lookup(ctx context.Context, resumeToken string) (Record, error) {
	raw, err := t.client.Get(ctx, t.key(auth.HashToken(resumeToken))).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup session: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Record{}, fmt.Errorf("unmarshal session record: %w", err)
	}
	return record, nil
}

// ActiveSessions counts tokens of a survey seen within the TTL window.
func (t *RedisTracker) ActiveSessions(ctx context.Context, surveyID string) (int64, error) {
	surveyKey := t.surveyKey(surveyID)
	cutoff := t.now().Add(-t.ttl).Unix()
	if err := t.client.ZRemRangeByScore(ctx, surveyKey, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	count, err := t.client.ZCard(ctx, surveyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// ForgetSurvey drops every tracked session of a survey.
func (t *RedisTracker) ForgetSurvey(ctx context.Context, surveyID string) error {
	surveyKey := t.surveyKey(surveyID)
	members, err := t.client.ZRange(ctx, surveyKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list survey sessions: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, tokenHash := range members {
		keys = append(keys, t.key(tokenHash))
	}
	keys = append(keys, surveyKey)
	if err := t.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("forget survey sessions: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (t *RedisTracker) Close() error {
	return t.client.Close()
}

// Ping checks if Redis is reachable
func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

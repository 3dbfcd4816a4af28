// Package redisstore implements sessionstore.Store on Redis. Sessions and
// flow stashes carry real TTLs so expired records disappear without a
// janitor, and onboarding records use SET NX for conditional-create
// semantics under concurrent first logins.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/strandhq/agentgate/internal/config"
	"github.com/strandhq/agentgate/sessionstore"
)

type Store struct {
	rdb *goredis.Client
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is empty")
	}

	opts := &goredis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Store{rdb: rdb}, nil
}

// NewWithClient wraps an existing client, used by tests.
func NewWithClient(rdb *goredis.Client) *Store {
	return &Store{rdb: rdb}
}

var _ sessionstore.Store = (*Store)(nil)

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) Put(ctx context.Context, session sessionstore.Session) error {
	if session.AppID == "" || session.TenantID == "" || session.SessionID == "" {
		return fmt.Errorf("appID, tenantID and sessionID are required")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	key := sessionstore.SessionKey(session.AppID, session.TenantID, session.SessionID)
	if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, appID, tenantID, sessionID string) (sessionstore.Session, error) {
	key := sessionstore.SessionKey(appID, tenantID, sessionID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return sessionstore.Session{}, sessionstore.ErrNotFound
	}
	if err != nil {
		return sessionstore.Session{}, fmt.Errorf("redis get session: %w", err)
	}

	var session sessionstore.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return sessionstore.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

func (s *Store) Delete(ctx context.Context, appID, tenantID, sessionID string) error {
	key := sessionstore.SessionKey(appID, tenantID, sessionID)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (s *Store) UpdateTokens(ctx context.Context, appID, tenantID, sessionID, accessToken, refreshToken string, tokenExpiry time.Time) error {
	session, err := s.Get(ctx, appID, tenantID, sessionID)
	if err != nil {
		return err
	}

	session.AccessToken = accessToken
	if refreshToken != "" {
		session.RefreshToken = refreshToken
	}
	session.TokenExpiry = tokenExpiry

	return s.Put(ctx, session)
}

func (s *Store) CreateOnboardingIfAbsent(ctx context.Context, record sessionstore.OnboardingRecord) (bool, sessionstore.OnboardingRecord, error) {
	if record.AppID == "" || record.TenantID == "" {
		return false, sessionstore.OnboardingRecord{}, fmt.Errorf("appID and tenantID are required")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return false, sessionstore.OnboardingRecord{}, fmt.Errorf("marshal onboarding record: %w", err)
	}

	key := sessionstore.OnboardingKey(record.AppID, record.TenantID)
	created, err := s.rdb.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return false, sessionstore.OnboardingRecord{}, fmt.Errorf("redis setnx onboarding: %w", err)
	}
	if created {
		return true, record, nil
	}

	existing, err := s.GetOnboarding(ctx, record.AppID, record.TenantID)
	if err != nil {
		return false, sessionstore.OnboardingRecord{}, err
	}
	return false, existing, nil
}

func (s *Store) GetOnboarding(ctx context.Context, appID, tenantID string) (sessionstore.OnboardingRecord, error) {
	key := sessionstore.OnboardingKey(appID, tenantID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return sessionstore.OnboardingRecord{}, sessionstore.ErrNotFound
	}
	if err != nil {
		return sessionstore.OnboardingRecord{}, fmt.Errorf("redis get onboarding: %w", err)
	}

	var record sessionstore.OnboardingRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return sessionstore.OnboardingRecord{}, fmt.Errorf("unmarshal onboarding record: %w", err)
	}
	return record, nil
}

func (s *Store) PutFlowState(ctx context.Context, flow sessionstore.FlowState) error {
	if flow.State == "" {
		return fmt.Errorf("state is required")
	}

	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow state: %w", err)
	}

	ttl := time.Until(flow.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("flow state already expired")
	}

	if err := s.rdb.Set(ctx, sessionstore.FlowKey(flow.State), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set flow state: %w", err)
	}
	return nil
}

func (s *Store) TakeFlowState(ctx context.Context, state string) (sessionstore.FlowState, error) {
	// GETDEL makes the stash single-use: a replayed state finds nothing.
	data, err := s.rdb.GetDel(ctx, sessionstore.FlowKey(state)).Bytes()
	if err == goredis.Nil {
		return sessionstore.FlowState{}, sessionstore.ErrNotFound
	}
	if err != nil {
		return sessionstore.FlowState{}, fmt.Errorf("redis getdel flow state: %w", err)
	}

	var flow sessionstore.FlowState
	if err := json.Unmarshal(data, &flow); err != nil {
		return sessionstore.FlowState{}, fmt.Errorf("unmarshal flow state: %w", err)
	}
	return flow, nil
}

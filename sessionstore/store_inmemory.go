package sessionstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryStore is a thread-safe in-memory implementation of Store. Suitable
// for development and tests; production deployments use the redis adapter.
type InMemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]Session
	flows      map[string]FlowState
	onboarding map[string]OnboardingRecord
	now        func() time.Time
}

// NewInMemoryStore creates a new in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:   make(map[string]Session),
		flows:      make(map[string]FlowState),
		onboarding: make(map[string]OnboardingRecord),
		now:        time.Now,
	}
}

var _ Store = (*InMemoryStore)(nil)

// Put creates or replaces a session
func (s *InMemoryStore) Put(_ context.Context, session Session) error {
	if session.AppID == "" || session.TenantID == "" || session.SessionID == "" {
		return fmt.Errorf("appID, tenantID and sessionID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[SessionKey(session.AppID, session.TenantID, session.SessionID)] = session
	return nil
}

// Get retrieves a session, honouring TTL expiry
func (s *InMemoryStore) Get(_ context.Context, appID, tenantID, sessionID string) (Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[SessionKey(appID, tenantID, sessionID)]
	s.mu.RUnlock()

	if !ok {
		return Session{}, ErrNotFound
	}
	if !session.ExpiresAt.After(s.now()) {
		// Lazy expiry: drop the record and report it missing.
		s.mu.Lock()
		delete(s.sessions, SessionKey(appID, tenantID, sessionID))
		s.mu.Unlock()
		return Session{}, ErrNotFound
	}
	return session, nil
}

// Delete removes a session
func (s *InMemoryStore) Delete(_ context.Context, appID, tenantID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, SessionKey(appID, tenantID, sessionID))
	return nil
}

// UpdateTokens replaces a session's credentials, leaving identity scope intact
func (s *InMemoryStore) UpdateTokens(_ context.Context, appID, tenantID, sessionID, accessToken, refreshToken string, tokenExpiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := SessionKey(appID, tenantID, sessionID)
	session, ok := s.sessions[key]
	if !ok {
		return ErrNotFound
	}

	session.AccessToken = accessToken
	if refreshToken != "" {
		session.RefreshToken = refreshToken
	}
	session.TokenExpiry = tokenExpiry
	s.sessions[key] = session
	return nil
}

// CreateOnboardingIfAbsent conditionally creates the onboarding record
func (s *InMemoryStore) CreateOnboardingIfAbsent(_ context.Context, record OnboardingRecord) (bool, OnboardingRecord, error) {
	if record.AppID == "" || record.TenantID == "" {
		return false, OnboardingRecord{}, fmt.Errorf("appID and tenantID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := OnboardingKey(record.AppID, record.TenantID)
	if existing, ok := s.onboarding[key]; ok {
		return false, existing, nil
	}

	s.onboarding[key] = record
	return true, record, nil
}

// GetOnboarding retrieves a tenant's onboarding record
func (s *InMemoryStore) GetOnboarding(_ context.Context, appID, tenantID string) (OnboardingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.onboarding[OnboardingKey(appID, tenantID)]
	if !ok {
		return OnboardingRecord{}, ErrNotFound
	}
	return record, nil
}

// PutFlowState stashes login flow state
func (s *InMemoryStore) PutFlowState(_ context.Context, flow FlowState) error {
	if flow.State == "" {
		return fmt.Errorf("state is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[FlowKey(flow.State)] = flow
	return nil
}

// TakeFlowState retrieves and deletes flow state in one shot
func (s *InMemoryStore) TakeFlowState(_ context.Context, state string) (FlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := FlowKey(state)
	flow, ok := s.flows[key]
	if !ok {
		return FlowState{}, ErrNotFound
	}
	delete(s.flows, key)

	if !flow.ExpiresAt.IsZero() && !flow.ExpiresAt.After(s.now()) {
		return FlowState{}, ErrNotFound
	}
	return flow, nil
}

package auth

import "sync"

// AuthState is the snapshot consumers render from.
type AuthState struct {
	User            *User    `json:"user"`
	Session         *Session `json:"session"`
	IsLoading       bool     `json:"is_loading"`
	AuthInitialized bool     `json:"auth_initialized"`
}

// IsAuthenticated holds when both a user and a session are present.
func (s AuthState) IsAuthenticated() bool {
	return s.User != nil && s.Session != nil
}

func (s AuthState) clone() AuthState {
	return AuthState{
		User:            s.User.Clone(),
		Session:         s.Session.Clone(),
		IsLoading:       s.IsLoading,
		AuthInitialized: s.AuthInitialized,
	}
}

// StateListener receives every committed AuthState. Listeners run on the
// writer goroutine and must not write to the store.
type StateListener func(AuthState)

// SessionStore holds the AuthState. It does no validation: the
// orchestrator is its only writer and owns the invariants.
type SessionStore struct {
	mu        sync.RWMutex
	notifyMu  sync.Mutex
	state     AuthState
	listeners map[uint64]StateListener
	nextID    uint64
}

// NewSessionStore starts loading and not initialized.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		state:     AuthState{IsLoading: true},
		listeners: map[uint64]StateListener{},
	}
}

// State returns a copy of the current state.
func (s *SessionStore) State() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *SessionStore) SetUser(user *User) {
	s.Update(func(st *AuthState) { st.User = user.Clone() })
}

func (s *SessionStore) SetSession(session *Session) {
	s.Update(func(st *AuthState) { st.Session = session.Clone() })
}

func (s *SessionStore) SetIsLoading(loading bool) {
	s.Update(func(st *AuthState) { st.IsLoading = loading })
}

func (s *SessionStore) SetAuthInitialized(initialized bool) {
	s.Update(func(st *AuthState) { st.AuthInitialized = initialized })
}

// Update applies fn atomically: readers never observe a partial change and
// listeners get one notification per call, in commit order.
func (s *SessionStore) Update(fn func(*AuthState)) {
	if fn == nil {
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	fn(&s.state)
	snapshot := s.state.clone()
	listeners := make([]StateListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot.clone())
	}
}

// Subscribe registers listener and returns a function removing it.
func (s *SessionStore) Subscribe(listener StateListener) (unsubscribe func()) {
	if listener == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

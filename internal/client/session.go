package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hitoshi/authgate/internal/model"
)

// 永続化に使うキー
const (
	KeyAuthToken  = "authToken"
	KeyUser       = "user"
	KeyOAuthState = "oauthState"
)

// Session は永続化されたトークンとユーザーの組。
type Session struct {
	Token string
	User  model.Identity
}

// SessionStore はStorageの上でセッションレコードを読み書きする。
// トークンとユーザーは常に一緒に書き込み、一緒に消す。
type SessionStore struct {
	storage Storage
	mu      sync.Mutex
}

// NewSessionStore はSessionStoreを生成する。
func NewSessionStore(storage Storage) *SessionStore {
	return &SessionStore{storage: storage}
}

// Session は保存されているセッションを返す。
// トークンとユーザーの片方しかない、またはユーザーが壊れている場合は不完全なレコードとして破棄し、nilを返す。
func (s *SessionStore) Session() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.storage.Load()
	if err != nil {
		return nil, err
	}

	token, hasToken := values[KeyAuthToken]
	rawUser, hasUser := values[KeyUser]
	if !hasToken && !hasUser {
		return nil, nil
	}

	var user model.Identity
	if token == "" || rawUser == "" || json.Unmarshal([]byte(rawUser), &user) != nil {
		delete(values, KeyAuthToken)
		delete(values, KeyUser)
		if err := s.storage.Save(values); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &Session{Token: token, User: user}, nil
}

// Token は保存されているトークンを返す。なければ空文字列。
func (s *SessionStore) Token() string {
	session, err := s.Session()
	if err != nil || session == nil {
		return ""
	}
	return session.Token
}

// Commit はトークンとユーザーを1回の書き込みで保存し、保留中のstateを消す。
func (s *SessionStore) Commit(token string, user model.Identity) error {
	if token == "" {
		return fmt.Errorf("cannot commit session without token")
	}
	rawUser, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.storage.Load()
	if err != nil {
		values = map[string]string{}
	}
	values[KeyAuthToken] = token
	values[KeyUser] = string(rawUser)
	delete(values, KeyOAuthState)
	return s.storage.Save(values)
}

// Clear はセッションレコードを消す。保留中のstateは残す。
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked()
}

// ClearUnlessSuperseded はtokenで送った呼び出しが拒否されたときにセッションを消す。
// 別のトークンが保存されている場合は新しいログインで置き換わったものとして何もせず、trueを返す。
func (s *SessionStore) ClearUnlessSuperseded(token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.storage.Load()
	if err != nil {
		return false, err
	}
	if current := values[KeyAuthToken]; current != "" && current != token {
		return true, nil
	}
	return false, s.clearLocked()
}

func (s *SessionStore) clearLocked() error {
	values, err := s.storage.Load()
	if err != nil {
		values = map[string]string{}
	}
	delete(values, KeyAuthToken)
	delete(values, KeyUser)
	return s.storage.Save(values)
}

// SetPendingState はログイン開始時に発行されたstateを保存する。
func (s *SessionStore) SetPendingState(state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.storage.Load()
	if err != nil {
		return err
	}
	if state == "" {
		delete(values, KeyOAuthState)
	} else {
		values[KeyOAuthState] = state
	}
	return s.storage.Save(values)
}

// PendingState は保留中のstateを返す。なければ空文字列。
// stateはCommitで消える。
func (s *SessionStore) PendingState() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.storage.Load()
	if err != nil {
		return "", err
	}
	return values[KeyOAuthState], nil
}

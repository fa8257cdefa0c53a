package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/authgate/internal/model"
)

// State はログインフローの状態。
type State int

const (
	StateUnknown State = iota
	StateChecking
	StateAuthenticated
	StateAnonymous
)

// String はfmt.Stringerを実装する。
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateChecking:
		return "checking"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrStateMismatch はコールバックのstateがログイン開始時に保存したものと異なることを表す。
	ErrStateMismatch = errors.New("oauth state does not match the pending login")

	// ErrSuperseded は処理中にログアウトや401が起きたため結果を破棄したことを表す。
	ErrSuperseded = errors.New("result discarded: session was cleared while the request was in flight")
)

// AuthAPI はControllerが使うサーバーAPI。APIClientが実装する。
type AuthAPI interface {
	LoginURL(ctx context.Context) (*LoginInfo, error)
	Callback(ctx context.Context, code, state string) (*CallbackResult, error)
	Verify(ctx context.Context, token string) (*VerifyResult, error)
	Logout(ctx context.Context, token string) error
}

var _ AuthAPI = (*APIClient)(nil)

// Controller はログインフローの状態機械。
// ネットワーク呼び出し中はロックを保持しない。
// clearEpochはログアウトと401で進み、処理中のコード交換の結果を無効にする。
// sessionGenはセッションの確定と削除のたびに進み、処理中の起動時検証の結果を無効にする。
type Controller struct {
	api   AuthAPI
	store *SessionStore

	mu         sync.Mutex
	state      State
	user       *model.Identity
	token      string
	lastErr    error
	clearEpoch uint64
	sessionGen uint64
	listeners  []func(State)
}

// NewController はControllerを生成する。初期状態はStateUnknown。
func NewController(api AuthAPI, store *SessionStore) *Controller {
	return &Controller{api: api, store: store, state: StateUnknown}
}

// OnChange は状態が変わるたびに呼ばれる関数を登録する。
// 関数はロックの外で呼ばれる。
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// State は現在の状態を返す。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// User は認証済みの場合にユーザーを返す。
func (c *Controller) User() (model.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return model.Identity{}, false
	}
	return *c.user, true
}

// Token は認証済みの場合にトークンを返す。
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// LastError は直近の失敗理由を返す。
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Start は保存済みのセッションを読み込み、サーバーで検証する。
// セッションがなければStateAnonymous、検証に成功すればStateAuthenticated、
// 失敗すればセッションを消してStateAnonymousになる。
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	session, err := c.store.Session()
	if err != nil || session == nil {
		if err != nil {
			c.lastErr = err
			slog.Warn("failed to load session", slog.String("error", err.Error()))
		}
		notify := c.becomeAnonymousLocked()
		c.mu.Unlock()
		notify()
		return err
	}
	gen := c.sessionGen
	notify := c.setStateLocked(StateChecking)
	c.mu.Unlock()
	notify()

	_, verifyErr := c.api.Verify(ctx, session.Token)

	c.mu.Lock()
	if c.sessionGen != gen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if verifyErr != nil {
		c.lastErr = verifyErr
		if err := c.store.Clear(); err != nil {
			slog.Warn("failed to clear session", slog.String("error", err.Error()))
		}
		c.sessionGen++
		notify = c.becomeAnonymousLocked()
		c.mu.Unlock()
		notify()
		return verifyErr
	}
	user := session.User
	c.user = &user
	c.token = session.Token
	c.lastErr = nil
	notify = c.setStateLocked(StateAuthenticated)
	c.mu.Unlock()
	notify()
	return nil
}

// Login は認可URLを取得し、そのstateを保留中として保存する。
// 状態は変わらない。呼び出し側は返したURLへ遷移させる。
func (c *Controller) Login(ctx context.Context) (*LoginInfo, error) {
	info, err := c.api.LoginURL(ctx)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return nil, err
	}
	if err := c.store.SetPendingState(info.State()); err != nil {
		return nil, fmt.Errorf("failed to save pending state: %w", err)
	}
	return info, nil
}

// HandleCallback は認可コードを交換してセッションを確定する。
// stateが保留中のものと一致しない場合はErrStateMismatchを返し、状態と既存のセッションはそのまま残す。
// 交換中にログアウトや401が起きた場合は結果を破棄してErrSupersededを返す。
// 複数のコールバックが並行した場合は最後に完了したものが有効になる。
func (c *Controller) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	c.mu.Lock()
	pending, err := c.store.PendingState()
	if err != nil {
		c.lastErr = err
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to read pending state: %w", err)
	}
	if pending == "" || pending != state {
		c.lastErr = ErrStateMismatch
		c.mu.Unlock()
		return nil, ErrStateMismatch
	}
	epoch := c.clearEpoch
	notify := c.setStateLocked(StateChecking)
	c.mu.Unlock()
	notify()

	result, exchangeErr := c.api.Callback(ctx, code, state)

	c.mu.Lock()
	if c.clearEpoch != epoch {
		c.mu.Unlock()
		return nil, ErrSuperseded
	}
	if exchangeErr == nil {
		exchangeErr = c.store.Commit(result.Token, result.User)
	}
	if exchangeErr != nil {
		c.lastErr = exchangeErr
		if err := c.store.Clear(); err != nil {
			slog.Warn("failed to clear session", slog.String("error", err.Error()))
		}
		c.sessionGen++
		notify = c.becomeAnonymousLocked()
		c.mu.Unlock()
		notify()
		return nil, exchangeErr
	}

	c.sessionGen++
	user := result.User
	c.user = &user
	c.token = result.Token
	c.lastErr = nil
	notify = c.setStateLocked(StateAuthenticated)
	c.mu.Unlock()
	notify()
	return result, nil
}

// Logout はセッションを消してStateAnonymousにし、サーバーへ通知する。
// サーバーへの通知の失敗はログに残すだけで返さない。
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	token := c.token
	if token == "" {
		token = c.store.Token()
	}
	c.clearLocked()
	c.lastErr = nil
	notify := c.becomeAnonymousLocked()
	c.mu.Unlock()
	notify()

	if err := c.api.Logout(ctx, token); err != nil {
		slog.Warn("logout request failed", slog.String("error", err.Error()))
	}
}

// ForceAnonymous はサーバーに拒否された場合などにセッションを消してStateAnonymousにする。
// APIClientの401ハンドラーとして登録する。
func (c *Controller) ForceAnonymous(reason error) {
	c.mu.Lock()
	c.clearLocked()
	c.lastErr = reason
	notify := c.becomeAnonymousLocked()
	c.mu.Unlock()
	notify()
}

// clearLocked は処理中の結果を無効にしてセッションを消す。
func (c *Controller) clearLocked() {
	c.clearEpoch++
	c.sessionGen++
	if err := c.store.Clear(); err != nil {
		slog.Warn("failed to clear session", slog.String("error", err.Error()))
	}
}

func (c *Controller) becomeAnonymousLocked() func() {
	c.user = nil
	c.token = ""
	return c.setStateLocked(StateAnonymous)
}

// setStateLocked は状態を更新し、ロック解放後に呼ぶ通知関数を返す。
func (c *Controller) setStateLocked(s State) func() {
	if c.state == s {
		return func() {}
	}
	c.state = s
	listeners := append([]func(State){}, c.listeners...)
	return func() {
		for _, fn := range listeners {
			fn(s)
		}
	}
}

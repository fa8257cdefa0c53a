package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hitoshi/authgate/internal/client"
	"github.com/hitoshi/authgate/internal/config"
	"github.com/hitoshi/authgate/internal/logger"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

const clientUsage = "usage: authgate client status|login|callback <code> <state>|logout|get <path>|users|products|orders|stats|health"

// errClientUsage はclientサブコマンドの引数が不正であることを表す。
var errClientUsage = errors.New(clientUsage)

// clientRunner はclientサブコマンドの実行に必要な依存関係を保持する。
type clientRunner struct {
	api   *client.APIClient
	store *client.SessionStore
	ctrl  *client.Controller
	out   io.Writer
}

// runClient はCLIクライアントとしてAPIを呼び出す。
// 結果はoutにJSONで、ログはlogwに出力する。
func runClient(ctx context.Context, out, logw io.Writer, args []string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("failed to load client config: %w", err)
	}
	logger.SetupDefault(logw, cfg.LogLevel)

	files := client.NewFileStore(cfg.SessionFile)
	slog.Debug("using session file", slog.String("path", files.Path()))
	store := client.NewSessionStore(files)
	runner, err := newClientRunner(cfg.APIURL, store, cfg.Timeout, out)
	if err != nil {
		return err
	}
	return runner.run(ctx, args)
}

// newClientRunner はAPIClientとControllerを組み立てる。
// 401を受けた場合はControllerを匿名状態に戻す。
func newClientRunner(apiURL string, store *client.SessionStore, timeout time.Duration, out io.Writer) (*clientRunner, error) {
	api, err := client.NewAPIClient(apiURL, store, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	ctrl := client.NewController(api, store)
	api.SetUnauthorizedHandler(func() {
		ctrl.ForceAnonymous(client.ErrUnauthorized)
	})
	ctrl.OnChange(func(s client.State) {
		slog.Debug("auth state changed", slog.String("state", s.String()))
	})
	return &clientRunner{api: api, store: store, ctrl: ctrl, out: out}, nil
}

// statusOutput はstatusコマンドの出力。
type statusOutput struct {
	State     string          `json:"state"`
	User      *model.Identity `json:"user,omitempty"`
	Roles     []string        `json:"roles,omitempty"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// loginOutput はloginコマンドの出力。
type loginOutput struct {
	AuthURL         string `json:"authUrl"`
	State           string `json:"state"`
	Message         string `json:"message,omitempty"`
	DevelopmentMode bool   `json:"developmentMode"`
}

// run はargsに応じてサブコマンドを実行する。
func (r *clientRunner) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errClientUsage
	}

	switch args[0] {
	case "status":
		return r.status(ctx)
	case "login":
		info, err := r.ctrl.Login(ctx)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		return r.print(loginOutput{
			AuthURL:         info.AuthURL,
			State:           info.State(),
			Message:         info.Message,
			DevelopmentMode: info.DevelopmentMode,
		})
	case "callback":
		if len(args) != 3 {
			return errClientUsage
		}
		result, err := r.ctrl.HandleCallback(ctx, args[1], args[2])
		if err != nil {
			return fmt.Errorf("callback failed: %w", err)
		}
		return r.print(statusOutput{
			State:     r.ctrl.State().String(),
			User:      &result.User,
			Roles:     result.Roles,
			ExpiresAt: &result.ExpiresAt,
		})
	case "logout":
		r.ctrl.Logout(ctx)
		return r.print(statusOutput{State: r.ctrl.State().String()})
	case "get":
		if len(args) != 2 {
			return errClientUsage
		}
		var raw json.RawMessage
		if err := r.api.GetJSON(ctx, args[1], &raw); err != nil {
			return fmt.Errorf("GET %s failed: %w", args[1], err)
		}
		return r.print(raw)
	case "users":
		return r.printResult(r.api.Users(ctx))
	case "products":
		return r.printResult(r.api.Products(ctx))
	case "orders":
		return r.printResult(r.api.Orders(ctx))
	case "stats":
		return r.printResult(r.api.Stats(ctx))
	case "health":
		if err := r.api.Health(ctx); err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		return r.print(map[string]string{"status": "ok"})
	default:
		return errClientUsage
	}
}

// status は保存済みセッションを検証して現在の状態を表示する。
// 有効期限とロールは署名を検証せずにトークンから読み取る表示専用の値。
func (r *clientRunner) status(ctx context.Context) error {
	out := statusOutput{}
	if err := r.ctrl.Start(ctx); err != nil {
		out.Reason = err.Error()
	}
	out.State = r.ctrl.State().String()

	if user, ok := r.ctrl.User(); ok {
		out.User = &user
		if claims, err := token.InspectUnverified(r.ctrl.Token()); err == nil {
			out.Roles = claims.Roles
			if !claims.ExpiresAt.IsZero() {
				exp := claims.ExpiresAt
				out.ExpiresAt = &exp
			}
		}
	}
	return r.print(out)
}

func (r *clientRunner) printResult(v any, err error) error {
	if err != nil {
		return err
	}
	return r.print(v)
}

func (r *clientRunner) print(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

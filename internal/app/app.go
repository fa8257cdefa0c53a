package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/config"
	"github.com/hitoshi/authgate/internal/database"
	"github.com/hitoshi/authgate/internal/handler"
	"github.com/hitoshi/authgate/internal/logger"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/token"
)

const (
	defaultHealthcheckPort = "3001"
	dbPingTimeout          = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, nil)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再構成する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck と client は軽量サブコマンドのため、サーバー設定の読み込みをスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = defaultHealthcheckPort
		}
		return runHealthcheck(port)
	case CommandClient:
		return runClient(context.Background(), w, os.Stderr, args[1:])
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("offline_mode", cfg.OfflineMode()),
	)

	switch cmd {
	case CommandMigrate:
		var direction string
		if len(args) > 1 {
			direction = args[1]
		}
		return runMigrate(cfg, direction)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// server はserveモードで組み立てた依存関係を保持する。
type server struct {
	handler http.Handler
	limiter *middleware.RateLimiter
	closers []io.Closer
}

// Close は保持しているリソースを解放する。
func (s *server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// buildServer は設定から全依存関係をワイヤリングし、HTTPハンドラーを構築する。
// DATABASE_URLが未設定の場合はインメモリのレコードを使用する。
func buildServer(ctx context.Context, cfg *config.Config, reg *prometheus.Registry) (*server, error) {
	srv := &server{}

	// 1. メトリクス
	collector := metrics.NewCollector(reg)

	// 2. 業務レコード
	records, closer, err := openRecords(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		srv.closers = append(srv.closers, closer)
	}

	// 3. 認証サービス
	authService, err := newAuthService(cfg, collector)
	if err != nil {
		srv.Close()
		return nil, err
	}

	// 4. ルーターの構築
	srv.limiter = middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitCallback),
		collector,
	)
	srv.handler = handler.NewRouter(&handler.RouterDeps{
		Verifier:          authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       srv.limiter,
		Logger:            slog.Default(),
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		AuthService:       authService,
		Records:           records,
	})
	return srv, nil
}

// openRecords はレコードリポジトリを生成する。
// Postgresを使う場合は接続を確認し、閉じるべきリソースも返す。
func openRecords(ctx context.Context, cfg *config.Config) (repository.RecordRepository, io.Closer, error) {
	if cfg.DatabaseURL == "" {
		slog.Info("DATABASE_URL is not set, serving the in-memory dataset")
		return repository.NewMemoryRecordRepo(time.Now), nil, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return repository.NewPostgresRecordRepo(db), db, nil
}

// newAuthService はトークン、state、IdPプロバイダー、ロールマッピングを組み立てる。
// IdPの資格情報が1つでも欠けている場合はオフラインプロバイダーを使用する。
func newAuthService(cfg *config.Config, collector metrics.MetricsCollector) (*auth.Service, error) {
	secret := []byte(cfg.JWTSecret)
	tokenCfg := token.Config{
		Secret:     secret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		DefaultTTL: cfg.JWTExpiration,
	}
	issuer, err := token.NewIssuer(tokenCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	verifier, err := token.NewVerifier(tokenCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}
	state, err := auth.NewStateCodec(auth.StateConfig{
		Secret: secret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.OAuthStateTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create state codec: %w", err)
	}

	provider, err := newIdentityProvider(cfg)
	if err != nil {
		return nil, err
	}

	var roles auth.RoleMapper = auth.DefaultRoleMapper{}
	if len(cfg.AdminEmails) > 0 {
		roles = auth.NewEmailRoleMapper(cfg.AdminEmails)
	}

	return auth.NewService(provider, issuer, verifier, state, roles, collector,
		auth.ServiceConfig{TokenTTL: cfg.JWTExpiration}), nil
}

// newIdentityProvider は設定からIdPプロバイダーを選択する。
// Entraを使う場合、上書き可能なエンドポイントを起動時に検証する。
func newIdentityProvider(cfg *config.Config) (auth.IdentityProvider, error) {
	if cfg.OfflineMode() {
		slog.Warn("identity provider credentials are incomplete, using the offline provider",
			slog.String("redirect_uri", cfg.AzureRedirectURI),
		)
		return auth.NewOfflineProvider(cfg.AzureRedirectURI), nil
	}

	guard := security.NewEndpointGuard()
	for name, endpoint := range map[string]string{
		"AZURE_AUTHORITY_HOST": cfg.AzureAuthorityHost,
		"GRAPH_PROFILE_URL":    cfg.GraphProfileURL,
	} {
		if err := guard.ValidateEndpoint(endpoint); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	return auth.NewEntraOAuthProvider(auth.EntraOAuthConfig{
		ClientID:      cfg.AzureClientID,
		ClientSecret:  cfg.AzureClientSecret,
		TenantID:      cfg.AzureTenantID,
		RedirectURL:   cfg.AzureRedirectURI,
		AuthorityHost: cfg.AzureAuthorityHost,
		ProfileURL:    cfg.GraphProfileURL,
		Timeout:       cfg.ProviderTimeout,
	}), nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := buildServer(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer srv.Close()

	listener, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	httpServer := &http.Server{
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", listener.Addr().String()))
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// directionが空または"up"の場合は未適用分をすべて適用し、"down"の場合は1つ戻す。
func runMigrate(cfg *config.Config, direction string) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate requires DATABASE_URL")
	}

	run := database.RunMigrations
	switch direction {
	case "", "up":
		direction = "up"
	case "down":
		run = database.RollbackMigration
	default:
		return fmt.Errorf("unknown migrate direction %q (want up or down)", direction)
	}

	slog.Info("running database migrations",
		slog.String("direction", direction),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := run(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("dirty", status.Dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/weatherid/internal/auth"
	"github.com/hitoshi/weatherid/internal/config"
	"github.com/hitoshi/weatherid/internal/database"
	"github.com/hitoshi/weatherid/internal/gateway"
	"github.com/hitoshi/weatherid/internal/handler"
	"github.com/hitoshi/weatherid/internal/logger"
	"github.com/hitoshi/weatherid/internal/metrics"
	"github.com/hitoshi/weatherid/internal/middleware"
	"github.com/hitoshi/weatherid/internal/repository"
	"github.com/hitoshi/weatherid/internal/security"
	"github.com/hitoshi/weatherid/internal/telemetry"
	"github.com/hitoshi/weatherid/internal/worker/cleanup"
)

const serviceName = "weatherid"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envがあれば取り込み、環境変数から設定を読み込む
	loaded, err := config.LoadDotEnv(".env")
	if err != nil {
		return nil, err
	}
	if loaded {
		slog.Info("loaded .env file")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを再構成する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("unknown LOG_LEVEL, falling back to info", slog.String("log_level", cfg.LogLevel))
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("schema", cfg.DatabaseSchema),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, cfg.DatabaseSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newOAuthProvider はYandex OAuthプロバイダーを構築する。
// OAUTH_SAFE_CLIENTが有効な場合はエンドポイントURLを検証し、SSRF防止クライアントを使用する。
func newOAuthProvider(cfg *config.Config) (*auth.YandexOAuthProvider, error) {
	providerCfg := auth.YandexOAuthConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURL,
		AuthURL:      cfg.OAuth.AuthURL,
		TokenURL:     cfg.OAuth.TokenURL,
		InfoURL:      cfg.OAuth.InfoURL,
		Timeout:      cfg.OAuthTimeout,
	}

	if cfg.OAuthSafeClient {
		guard := security.NewOutboundGuard()
		for name, u := range map[string]string{
			"YANDEX_TOKEN_URL": cfg.OAuth.TokenURL,
			"YANDEX_INFO_URL":  cfg.OAuth.InfoURL,
		} {
			if u == "" {
				continue
			}
			if err := guard.ValidateURL(u); err != nil {
				return nil, fmt.Errorf("invalid %s: %w", name, err)
			}
		}
		providerCfg.HTTPClient = guard.NewSafeClient(cfg.OAuthTimeout)
	}

	return auth.NewYandexOAuthProvider(providerCfg), nil
}

// newAuthService は認証サービスを構築する。
func newAuthService(cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector) (*auth.Service, error) {
	provider, err := newOAuthProvider(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.OAuth.ClientID == "" || cfg.OAuth.ClientSecret == "" {
		slog.Warn("yandex oauth credentials are not set; oauth callback will fail")
	}

	return auth.NewService(
		provider,
		repository.NewPostgresStore(db),
		security.NewNameSanitizer(),
		collector,
		auth.ServiceConfig{SessionTTL: cfg.SessionTTL},
	), nil
}

// newRouter はAPIサーバーのルーターを構築する。
// 返り値のstop関数はレートリミッターのバックグラウンド処理を停止する。
func newRouter(cfg *config.Config, db *sql.DB, svc *auth.Service, collector *metrics.Collector, gatherer prometheus.Gatherer) (http.Handler, func()) {
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitAuth))

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		TokenResolver:     svc,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		TrustProxyHeaders: cfg.TrustProxyHeaders,

		Gateway:     gateway.New(svc, gateway.Config{AllowedOrigin: cfg.CORSAllowedOrigin}),
		AuthService: svc,
		AuthConfig:  handler.AuthHandlerConfig{CookieSecure: cfg.CookieSecure()},

		DB:             db,
		MetricsHandler: metrics.Handler(gatherer),
	}

	return handler.NewRouter(deps), rateLimiter.Stop
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. トレースの初期化
	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// 2. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 3. メトリクスの初期化
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 4. ドメインサービスの初期化
	authService, err := newAuthService(cfg, db, collector)
	if err != nil {
		return err
	}

	// 5. ルーターの構築
	router, stopRouter := newRouter(cfg, db, authService, collector, reg)
	defer stopRouter()

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションの掃除ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. メトリクスの初期化と公開
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.WorkerMetricsEnabled {
		metricsServer := newWorkerMetricsServer(cfg.WorkerMetricsPort, reg)
		go func() {
			slog.Info("worker metrics server starting", slog.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("worker metrics server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("failed to stop worker metrics server", slog.String("error", err.Error()))
			}
		}()
	}

	// 3. 掃除ジョブの初期化
	reaper := cleanup.NewSessionReaper(
		repository.NewPostgresSessionRepo(db),
		metrics.NewCollector(reg),
		slog.Default(),
	)
	reaper.Retention = cfg.SessionRetention

	// 4. メインgoroutineで実行（ブロッキング）
	reaper.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerMetricsServer はワーカーの/metricsのみを公開するHTTPサーバーを返す。
func newWorkerMetricsServer(port string, gatherer prometheus.Gatherer) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(gatherer))
	return &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("schema", cfg.DatabaseSchema),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := database.RunMigrations(ctx, cfg.DatabaseURL, cfg.DatabaseSchema); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("xxxxx")
	}
	u.RawQuery = ""
	return u.String()
}

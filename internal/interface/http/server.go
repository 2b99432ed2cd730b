package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server はREST APIを提供するHTTPサーバを表す
type Server struct {
	addr   string
	engine *gin.Engine
	logger *slog.Logger
}

type serverOptions struct {
	logger *slog.Logger
}

// ServerOption は Server のオプション設定
type ServerOption func(*serverOptions)

// WithServerLogger はロガーを設定する
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// NewServer は新しいServerを作成する
func NewServer(addr string, handler *Handler, opts ...ServerOption) *Server {
	options := serverOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(options.logger))
	// ローカルのフロントエンドからの呼び出しを想定して全オリジンを許可する
	engine.Use(cors.Default())

	handler.RegisterRoutes(engine)

	return &Server{
		addr:   addr,
		engine: engine,
		logger: options.logger,
	}
}

// Run はサーバを起動し、コンテキストのキャンセルで graceful shutdown する
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバを起動します", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバの起動に失敗しました: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("HTTPサーバを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバの停止に失敗しました: %w", err)
	}
	return nil
}

// requestLogger はリクエスト単位のアクセスログを出力するミドルウェア
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

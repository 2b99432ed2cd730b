package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/video-rag/internal/platform/config"
	"github.com/jinford/video-rag/internal/platform/container"
	"github.com/jinford/video-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
}

// NewAppContext は設定ファイルを読み込み、DBに接続して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	return NewAppContextFromConfig(ctx, cfg)
}

// NewAppContextFromConfig は読み込み済みの設定から AppContext を作成する
// フラグで設定値を上書きするコマンドが使用する
func NewAppContextFromConfig(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	cont, err := container.NewContainer(ctx, cfg, container.WithContainerLogger(appLogger))
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/video-rag/internal/infra/postgres"
)

// DBInitAction はデータベーススキーマを初期化するコマンドのアクション
func DBInitAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := postgres.InitSchema(ctx, appCtx.Container.Database().Pool); err != nil {
		return fmt.Errorf("スキーマの初期化に失敗: %w", err)
	}

	fmt.Println("✓ データベーススキーマを初期化しました")

	return nil
}

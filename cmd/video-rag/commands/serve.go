package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/jinford/video-rag/internal/interface/http"
)

// ServeAction はHTTPサーバを起動するコマンドのアクション
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	addr := cmd.String("addr")
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if addr == "" {
		addr = appCtx.Config.HTTP.Addr
	}

	handler := http.NewHandler(
		appCtx.Container.VideoService,
		appCtx.Container.IngestService,
		appCtx.Container.SearchService,
		http.WithHandlerLogger(appCtx.Logger()),
		http.WithFramesRoot(appCtx.Config.Media.FramesDir),
	)
	server := http.NewServer(addr, handler, http.WithServerLogger(appCtx.Logger()))

	return server.Run(ctx)
}

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/video-rag/cmd/video-rag/commands"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "video-rag",
		Usage: "YouTube動画のフレーム抽出・Embedding生成・視覚検索システム",
		Commands: []*cli.Command{
			{
				Name:  "video",
				Usage: "動画管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "register",
						Usage: "YouTube動画を登録",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "url",
								Usage:    "YouTube動画URL",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "download",
								Usage: "登録後にメディアをダウンロード",
							},
						},
						Action: commands.VideoRegisterAction,
					},
					{
						Name:  "list",
						Usage: "動画一覧を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: commands.VideoListAction,
					},
					{
						Name:  "show",
						Usage: "動画詳細を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "動画ID",
								Required: true,
							},
						},
						Action: commands.VideoShowAction,
					},
					{
						Name:  "delete",
						Usage: "動画と関連データを削除",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "動画ID",
								Required: true,
							},
						},
						Action: commands.VideoDeleteAction,
					},
					{
						Name:  "download",
						Usage: "動画メディアをダウンロード",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "動画ID",
								Required: true,
							},
						},
						Action: commands.VideoDownloadAction,
					},
				},
			},
			{
				Name:  "transcript",
				Usage: "トランスクリプト管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "import",
						Usage: "トランスクリプトをJSONファイルからインポート",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "video",
								Usage:    "動画ID",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "file",
								Usage:    "セグメントJSONファイルパス",
								Required: true,
							},
						},
						Action: commands.TranscriptImportAction,
					},
				},
			},
			{
				Name:  "frames",
				Usage: "フレーム管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "extract",
						Usage: "動画からフレームを抽出",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "video",
								Usage:    "動画ID",
								Required: true,
							},
							&cli.IntFlag{
								Name:  "interval",
								Usage: "抽出間隔（秒、省略時は環境変数またはデフォルトの10）",
							},
						},
						Action: commands.FramesExtractAction,
					},
				},
			},
			{
				Name:  "embeddings",
				Usage: "Embedding管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "generate",
						Usage: "フレームのEmbeddingを生成",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "video",
								Usage:    "動画ID",
								Required: true,
							},
							&cli.IntFlag{
								Name:  "workers",
								Usage: "並列ワーカー数（省略時は環境変数またはデフォルトの4）",
							},
							&cli.IntFlag{
								Name:  "batch-size",
								Usage: "エンコードバッチサイズ（省略時は環境変数またはデフォルトの16）",
							},
							&cli.BoolFlag{
								Name:  "overwrite",
								Usage: "既存のEmbeddingを上書きして再生成",
							},
						},
						Action: commands.EmbeddingsGenerateAction,
					},
					{
						Name:  "status",
						Usage: "Embedding生成状況を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "video",
								Usage:    "動画ID",
								Required: true,
							},
						},
						Action: commands.EmbeddingsStatusAction,
					},
				},
			},
			{
				Name:  "search",
				Usage: "動画フレームを検索",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "video",
						Usage:    "動画ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "検索クエリ",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "検索モード (text/visual/hybrid)",
						Value: "hybrid",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "最大結果件数（省略時は環境変数またはデフォルトの20）",
					},
					&cli.FloatFlag{
						Name:  "weight-visual",
						Usage: "ハイブリッド検索の視覚スコア重み (0.0-1.0、省略時は設定値)",
						Value: -1,
					},
				},
				Action: commands.SearchAction,
			},
			{
				Name:  "serve",
				Usage: "HTTPサーバを起動",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:  "addr",
						Usage: "リッスンアドレス（省略時は環境変数またはデフォルトの:8080）",
					},
				},
				Action: commands.ServeAction,
			},
			{
				Name:  "worker",
				Usage: "バックグラウンドワーカーコマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "Embedding生成ワーカーを起動",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:  "schedule",
								Usage: "Cron形式のスケジュール (例: */10 * * * * = 10分ごと)",
								Value: "*/10 * * * *",
							},
						},
						Action: commands.WorkerStartAction,
					},
				},
			},
			{
				Name:  "db",
				Usage: "データベース管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "init",
						Usage: "データベーススキーマを初期化",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: commands.DBInitAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

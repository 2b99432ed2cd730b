package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/video-rag/internal/core/visualsearch"
)

// SearchAction は動画のフレームを検索するコマンドのアクション
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	videoIDStr := cmd.String("video")
	query := cmd.String("query")
	mode := cmd.String("mode")
	limit := cmd.Int("limit")
	weightVisual := cmd.Float("weight-visual")
	envFile := cmd.String("env")

	videoID, err := uuid.Parse(videoIDStr)
	if err != nil {
		return fmt.Errorf("動画IDの形式が不正です: %w", err)
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	params := visualsearch.SearchParams{
		VideoID: videoID,
		Query:   query,
		Mode:    visualsearch.Mode(mode),
		Limit:   limit,
	}
	// 負値は未指定扱いで、設定済みのデフォルト重みを使う
	if weightVisual >= 0 {
		params.Weights = &visualsearch.HybridWeights{
			Visual: weightVisual,
			Text:   1 - weightVisual,
		}
	}

	results, err := appCtx.Container.SearchService.Search(ctx, params)
	if err != nil {
		return fmt.Errorf("検索に失敗: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("該当するフレームはありません")
		return nil
	}

	renderSearchResultsTable(results)

	return nil
}

func renderSearchResultsTable(results []visualsearch.SearchResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Frame ID", "Timestamp", "Score", "Match", "Path")

	for _, r := range results {
		table.Append(
			fmt.Sprintf("%d", r.FrameID),
			fmt.Sprintf("%.1fs", r.Timestamp),
			fmt.Sprintf("%.4f", r.Score),
			r.MatchType,
			r.Path,
		)
	}

	table.Render()
}

package visualsearch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// DefaultLimit は件数上限未指定時のデフォルト
const DefaultLimit = 20

// SearchService は視覚検索のビジネスロジックを提供する
// ストア→スコアラ→ランカの一連の処理は検索ごとに完結し、状態を持たない
type SearchService struct {
	store        CandidateStore
	scorer       *Scorer
	defaultLimit int
	logger       *slog.Logger
}

type searchServiceOptions struct {
	defaultLimit int
	logger       *slog.Logger
}

// SearchServiceOption はSearchService構築時のオプション
type SearchServiceOption func(*searchServiceOptions)

// WithSearchLogger はロガーを差し替える
func WithSearchLogger(logger *slog.Logger) SearchServiceOption {
	return func(opts *searchServiceOptions) {
		opts.logger = logger
	}
}

// WithSearchDefaultLimit は件数上限のデフォルト値を差し替える
func WithSearchDefaultLimit(limit int) SearchServiceOption {
	return func(opts *searchServiceOptions) {
		opts.defaultLimit = limit
	}
}

// NewSearchService は新しいSearchServiceを作成する
func NewSearchService(store CandidateStore, scorer *Scorer, opts ...SearchServiceOption) *SearchService {
	options := searchServiceOptions{
		defaultLimit: DefaultLimit,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.defaultLimit <= 0 {
		options.defaultLimit = DefaultLimit
	}

	return &SearchService{
		store:        store,
		scorer:       scorer,
		defaultLimit: options.defaultLimit,
		logger:       options.logger,
	}
}

// SearchParams は視覚検索のパラメータを表す
// Modeが空の場合はハイブリッド、Limitが0の場合はデフォルト値を使用する
// Weightsがnilの場合はScorerのデフォルト重みを使用する
type SearchParams struct {
	VideoID uuid.UUID
	Query   string
	Mode    Mode
	Limit   int
	Weights *HybridWeights
}

// Search はクエリに基づいて動画のフレームを検索し、順序付きの結果を返す
// Embeddingが未生成の動画に対しては、モードに関わらずエラーではなく
// 空の結果を返す（UI側は EmbeddingsExist でゲートする想定）
func (s *SearchService) Search(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, ErrInvalidQuery
	}

	mode := params.Mode
	if mode == "" {
		mode = DefaultMode
	}
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit == 0 {
		limit = s.defaultLimit
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}

	candidates, err := s.store.GetCandidates(ctx, params.VideoID)
	if err != nil {
		return nil, fmt.Errorf("候補の取得に失敗しました: %w", err)
	}

	scored, err := s.scorer.Score(ctx, candidates, ScoreParams{
		Query:   query,
		Mode:    mode,
		Weights: params.Weights,
	})
	if err != nil {
		return nil, err
	}

	results, err := Rank(scored, limit, mode)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("視覚検索を実行しました",
		"videoID", params.VideoID,
		"mode", string(mode),
		"limit", limit,
		"candidates", len(candidates),
		"results", len(results),
	)

	return results, nil
}

// EmbeddingsExist は動画の全フレームにEmbeddingが生成済みかを返す
// UI側の検索パネルの表示制御に使用する
func (s *SearchService) EmbeddingsExist(ctx context.Context, videoID uuid.UUID) (bool, error) {
	exists, err := s.store.EmbeddingsExist(ctx, videoID)
	if err != nil {
		return false, fmt.Errorf("Embedding生成状況の確認に失敗しました: %w", err)
	}
	return exists, nil
}

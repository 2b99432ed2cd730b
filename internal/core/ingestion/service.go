package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/video-rag/internal/core/video"
)

const (
	// DefaultFrameIntervalSec はフレーム抽出のデフォルト間隔（秒）
	DefaultFrameIntervalSec = 10
)

// IngestConfig はインジェスト処理の設定
type IngestConfig struct {
	// FramesRoot は抽出したフレーム画像を保存するルートディレクトリ
	FramesRoot string
	// FrameIntervalSec はフレーム抽出間隔のデフォルト値（秒）
	FrameIntervalSec int
	// ContextWindowSec はコンテキスト収集ウィンドウ（フレーム前後の秒数）
	ContextWindowSec float64
	// ContextTokenBudget はフレームコンテキストの最大トークン数
	ContextTokenBudget int
}

// DefaultIngestConfig はデフォルトのインジェスト設定を返す
func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		FramesRoot:         "data/frames",
		FrameIntervalSec:   DefaultFrameIntervalSec,
		ContextWindowSec:   DefaultContextWindowSec,
		ContextTokenBudget: DefaultContextTokenBudget,
	}
}

// ExtractParams はフレーム抽出のパラメータ
type ExtractParams struct {
	VideoID uuid.UUID
	// IntervalSec が0以下の場合は設定のデフォルト値を使用する
	IntervalSec int
}

// ExtractResult はフレーム抽出処理の結果を表す
type ExtractResult struct {
	VideoID       uuid.UUID
	FrameCount    int
	ContextsBound int
	// Skipped は既存フレームがあり抽出をスキップした場合にtrue
	Skipped  bool
	Duration time.Duration
}

// GenerateParams はEmbedding生成のパラメータ
type GenerateParams struct {
	VideoID uuid.UUID
	// Overwrite がtrueの場合、既存Embeddingを含む全フレームを再生成する
	Overwrite bool
}

// GenerateResult はEmbedding生成処理の結果を表す
type GenerateResult struct {
	VideoID  uuid.UUID
	Stats    *PipelineStats
	Duration time.Duration
}

// EmbeddingStatus は動画のEmbedding生成状況を表す
type EmbeddingStatus struct {
	VideoID         uuid.UUID
	FramesExtracted int
	FramesEmbedded  int
	EmbeddingsExist bool
}

// IngestService はフレーム抽出とEmbedding生成のユースケースを提供する
type IngestService struct {
	repository     Repository
	extractor      FrameExtractor
	encoder        Encoder
	tokenCounter   TokenCounter
	locker         Locker
	config         *IngestConfig
	pipelineConfig *PipelineConfig
	logger         *slog.Logger
}

type ingestServiceOptions struct {
	config         *IngestConfig
	pipelineConfig *PipelineConfig
	logger         *slog.Logger
}

// IngestServiceOption は IngestService のオプション設定
type IngestServiceOption func(*ingestServiceOptions)

// WithIngestLogger は IngestService にロガーを設定する
func WithIngestLogger(logger *slog.Logger) IngestServiceOption {
	return func(o *ingestServiceOptions) {
		o.logger = logger
	}
}

// WithIngestConfig はインジェスト設定を上書きする
func WithIngestConfig(cfg *IngestConfig) IngestServiceOption {
	return func(o *ingestServiceOptions) {
		o.config = cfg
	}
}

// WithIngestPipelineConfig はパイプライン設定を上書きする
func WithIngestPipelineConfig(cfg *PipelineConfig) IngestServiceOption {
	return func(o *ingestServiceOptions) {
		o.pipelineConfig = cfg
	}
}

// NewIngestService は新しいIngestServiceを作成する
func NewIngestService(
	repo Repository,
	extractor FrameExtractor,
	encoder Encoder,
	tokenCounter TokenCounter,
	locker Locker,
	opts ...IngestServiceOption,
) *IngestService {
	options := ingestServiceOptions{
		config:         DefaultIngestConfig(),
		pipelineConfig: DefaultPipelineConfig(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.config == nil {
		options.config = DefaultIngestConfig()
	}
	if options.pipelineConfig == nil {
		options.pipelineConfig = DefaultPipelineConfig()
	}

	return &IngestService{
		repository:     repo,
		extractor:      extractor,
		encoder:        encoder,
		tokenCounter:   tokenCounter,
		locker:         locker,
		config:         options.config,
		pipelineConfig: options.pipelineConfig,
		logger:         options.logger,
	}
}

// ExtractFrames は動画メディアからフレームを抽出して永続化する
// 既にフレームが存在する場合は抽出せずに現在の件数を返す
func (s *IngestService) ExtractFrames(ctx context.Context, params ExtractParams) (*ExtractResult, error) {
	startTime := time.Now()

	interval := params.IntervalSec
	if interval <= 0 {
		interval = s.config.FrameIntervalSec
	}
	if interval <= 0 {
		interval = DefaultFrameIntervalSec
	}

	s.logger.Info("フレーム抽出を開始",
		"videoID", params.VideoID,
		"interval", interval,
	)

	videoOpt, err := s.repository.GetVideoByID(ctx, params.VideoID)
	if err != nil {
		return nil, fmt.Errorf("動画の取得に失敗しました: %w", err)
	}
	v, ok := videoOpt.Get()
	if !ok {
		return nil, fmt.Errorf("%w: %s", video.ErrNotFound, params.VideoID)
	}
	if v.MediaPath == nil || *v.MediaPath == "" {
		return nil, fmt.Errorf("%w: %s", video.ErrMediaNotAvailable, params.VideoID)
	}

	// 既存フレームがあれば抽出をスキップする
	existing, err := s.repository.CountFramesByVideo(ctx, params.VideoID)
	if err != nil {
		return nil, fmt.Errorf("フレーム数の取得に失敗しました: %w", err)
	}
	if existing > 0 {
		s.logger.Info("既にフレーム抽出済み",
			"videoID", params.VideoID,
			"frameCount", existing,
		)
		return &ExtractResult{
			VideoID:    params.VideoID,
			FrameCount: existing,
			Skipped:    true,
			Duration:   time.Since(startTime),
		}, nil
	}

	outDir := filepath.Join(s.config.FramesRoot, params.VideoID.String())
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("フレーム出力先の作成に失敗しました: %w", err)
	}

	extracted, err := s.extractor.ExtractFrames(ctx, *v.MediaPath, outDir, interval)
	if err != nil {
		return nil, fmt.Errorf("フレーム抽出に失敗しました: %w", err)
	}

	frames := make([]*video.Frame, 0, len(extracted))
	for _, ef := range extracted {
		frames = append(frames, &video.Frame{
			VideoID:   params.VideoID,
			Timestamp: ef.Timestamp,
			Path:      ef.Path,
		})
	}

	created, err := s.repository.BatchCreateFrames(ctx, frames)
	if err != nil {
		return nil, fmt.Errorf("フレームの保存に失敗しました: %w", err)
	}

	// トランスクリプトがあればコンテキストを束ねる
	bound, err := s.bindContexts(ctx, params.VideoID, created)
	if err != nil {
		return nil, err
	}

	duration := time.Since(startTime)

	s.logger.Info("フレーム抽出が完了",
		"videoID", params.VideoID,
		"frameCount", len(created),
		"contextsBound", bound,
		"duration", duration,
	)

	return &ExtractResult{
		VideoID:       params.VideoID,
		FrameCount:    len(created),
		ContextsBound: bound,
		Duration:      duration,
	}, nil
}

// BindContexts は抽出済みフレームにトランスクリプト由来のコンテキストを再付与する
// フレーム抽出後にトランスクリプトを取り込んだ場合に使用する
func (s *IngestService) BindContexts(ctx context.Context, videoID uuid.UUID) (int, error) {
	videoOpt, err := s.repository.GetVideoByID(ctx, videoID)
	if err != nil {
		return 0, fmt.Errorf("動画の取得に失敗しました: %w", err)
	}
	if videoOpt.IsAbsent() {
		return 0, fmt.Errorf("%w: %s", video.ErrNotFound, videoID)
	}

	frames, err := s.repository.ListFramesByVideo(ctx, videoID)
	if err != nil {
		return 0, fmt.Errorf("フレーム一覧の取得に失敗しました: %w", err)
	}
	if len(frames) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoFrames, videoID)
	}

	return s.bindContexts(ctx, videoID, frames)
}

// bindContexts はフレーム群にコンテキストを束ねて保存し、付与件数を返す
func (s *IngestService) bindContexts(ctx context.Context, videoID uuid.UUID, frames []*video.Frame) (int, error) {
	segments, err := s.repository.ListTranscriptByVideo(ctx, videoID)
	if err != nil {
		return 0, fmt.Errorf("トランスクリプトの取得に失敗しました: %w", err)
	}
	if len(segments) == 0 {
		return 0, nil
	}

	binder := NewContextBinder(
		s.tokenCounter,
		WithContextWindow(s.config.ContextWindowSec),
		WithContextTokenBudget(s.config.ContextTokenBudget),
	)
	contexts := binder.Bind(frames, segments)
	if len(contexts) == 0 {
		return 0, nil
	}

	if err := s.repository.UpdateFrameContexts(ctx, contexts); err != nil {
		return 0, fmt.Errorf("フレームコンテキストの保存に失敗しました: %w", err)
	}

	return len(contexts), nil
}

// GenerateEmbeddings は動画のフレームEmbeddingを生成する
// 同一動画への生成はロックで直列化され、検索側は生成途中の部分的な状態を参照できる
func (s *IngestService) GenerateEmbeddings(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	startTime := time.Now()

	s.logger.Info("Embedding生成を開始",
		"videoID", params.VideoID,
		"overwrite", params.Overwrite,
	)

	videoOpt, err := s.repository.GetVideoByID(ctx, params.VideoID)
	if err != nil {
		return nil, fmt.Errorf("動画の取得に失敗しました: %w", err)
	}
	if videoOpt.IsAbsent() {
		return nil, fmt.Errorf("%w: %s", video.ErrNotFound, params.VideoID)
	}

	frameCount, err := s.repository.CountFramesByVideo(ctx, params.VideoID)
	if err != nil {
		return nil, fmt.Errorf("フレーム数の取得に失敗しました: %w", err)
	}
	if frameCount == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFrames, params.VideoID)
	}

	lockKey := fmt.Sprintf("embeddings:%s", params.VideoID)

	var result *GenerateResult
	err = s.locker.WithLock(ctx, lockKey, func(ctx context.Context) error {
		frames, err := s.collectTargetFrames(ctx, params)
		if err != nil {
			return err
		}

		if len(frames) == 0 {
			s.logger.Info("生成対象のフレームがありません",
				"videoID", params.VideoID,
			)
			result = &GenerateResult{
				VideoID:  params.VideoID,
				Stats:    &PipelineStats{},
				Duration: time.Since(startTime),
			}
			return nil
		}

		pipeline := NewEmbeddingPipeline(s.repository, s.encoder, s.pipelineConfig, s.logger)
		stats, err := pipeline.Process(ctx, frames)
		if err != nil {
			return fmt.Errorf("embedding生成パイプラインに失敗しました: %w", err)
		}

		result = &GenerateResult{
			VideoID:  params.VideoID,
			Stats:    stats,
			Duration: time.Since(startTime),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Embedding生成が完了",
		"videoID", params.VideoID,
		"totalFrames", result.Stats.TotalFrames,
		"visualEmbedded", result.Stats.VisualEmbedded,
		"textEmbedded", result.Stats.TextEmbedded,
		"failedFrames", result.Stats.FailedFrames,
		"duration", result.Duration,
	)

	return result, nil
}

// collectTargetFrames は生成対象のフレームを決定する
// Overwrite時は全フレーム、それ以外はEmbeddingが不足しているフレームのみを対象とする
// 不足分を含むフレームは両モダリティとも再生成される（上書き）
func (s *IngestService) collectTargetFrames(ctx context.Context, params GenerateParams) ([]*video.Frame, error) {
	if params.Overwrite {
		frames, err := s.repository.ListFramesByVideo(ctx, params.VideoID)
		if err != nil {
			return nil, fmt.Errorf("フレーム一覧の取得に失敗しました: %w", err)
		}
		return frames, nil
	}

	missingVisual, err := s.repository.ListFramesMissingEmbedding(ctx, params.VideoID, ModalityVisual)
	if err != nil {
		return nil, fmt.Errorf("未生成フレームの取得に失敗しました: %w", err)
	}
	missingText, err := s.repository.ListFramesMissingEmbedding(ctx, params.VideoID, ModalityText)
	if err != nil {
		return nil, fmt.Errorf("未生成フレームの取得に失敗しました: %w", err)
	}

	seen := make(map[int64]bool, len(missingVisual)+len(missingText))
	frames := make([]*video.Frame, 0, len(missingVisual)+len(missingText))
	for _, f := range missingVisual {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		frames = append(frames, f)
	}
	for _, f := range missingText {
		// コンテキストのないフレームにtext Embeddingは生成できない
		if strings.TrimSpace(f.Context) == "" {
			continue
		}
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		frames = append(frames, f)
	}

	return frames, nil
}

// Status は動画のEmbedding生成状況を返す
func (s *IngestService) Status(ctx context.Context, videoID uuid.UUID) (*EmbeddingStatus, error) {
	videoOpt, err := s.repository.GetVideoByID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("動画の取得に失敗しました: %w", err)
	}
	if videoOpt.IsAbsent() {
		return nil, fmt.Errorf("%w: %s", video.ErrNotFound, videoID)
	}

	extracted, err := s.repository.CountFramesByVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("フレーム数の取得に失敗しました: %w", err)
	}
	embedded, err := s.repository.CountFramesWithEmbedding(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("embedding生成済みフレーム数の取得に失敗しました: %w", err)
	}

	return &EmbeddingStatus{
		VideoID:         videoID,
		FramesExtracted: extracted,
		FramesEmbedded:  embedded,
		EmbeddingsExist: embedded > 0,
	}, nil
}

// SweepPending はEmbedding未完了の動画を順番に処理する
// workerコマンドの定期実行から呼び出される
func (s *IngestService) SweepPending(ctx context.Context) (int, error) {
	videoIDs, err := s.repository.ListVideosPendingEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("未処理動画の取得に失敗しました: %w", err)
	}
	if len(videoIDs) == 0 {
		return 0, nil
	}

	s.logger.Info("未処理動画のスイープを開始", "count", len(videoIDs))

	processed := 0
	for _, videoID := range videoIDs {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if _, err := s.GenerateEmbeddings(ctx, GenerateParams{VideoID: videoID}); err != nil {
			s.logger.Warn("動画のEmbedding生成に失敗",
				"videoID", videoID,
				"error", err,
			)
			continue
		}
		processed++
	}

	return processed, nil
}

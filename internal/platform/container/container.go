package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/video-rag/internal/core/ingestion"
	"github.com/jinford/video-rag/internal/core/video"
	"github.com/jinford/video-rag/internal/core/visualsearch"
	"github.com/jinford/video-rag/internal/infra/clip"
	"github.com/jinford/video-rag/internal/infra/ffmpeg"
	"github.com/jinford/video-rag/internal/infra/openai"
	"github.com/jinford/video-rag/internal/infra/postgres"
	"github.com/jinford/video-rag/internal/infra/ytdlp"
	"github.com/jinford/video-rag/internal/platform/config"
	"github.com/jinford/video-rag/internal/platform/database"
)

// Encoder は検索クエリのエンコードとインジェストのバッチエンコードの
// 両方を提供するエンコーダを表す
type Encoder interface {
	visualsearch.Encoder
	ingestion.Encoder
}

// ServiceContainer はアプリケーションの依存関係を保持する
type ServiceContainer struct {
	VideoService  *video.Service
	IngestService *ingestion.IngestService
	SearchService *visualsearch.SearchService

	logger   *slog.Logger
	database *database.Database
}

type containerOptions struct {
	logger    *slog.Logger
	encoder   Encoder
	resolver  video.MediaResolver
	extractor ingestion.FrameExtractor
}

// ContainerOption は ServiceContainer のオプション設定
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを設定する
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithContainerEncoder はエンコーダを差し替える
func WithContainerEncoder(encoder Encoder) ContainerOption {
	return func(o *containerOptions) {
		o.encoder = encoder
	}
}

// WithContainerMediaResolver は動画メタデータリゾルバを差し替える
func WithContainerMediaResolver(resolver video.MediaResolver) ContainerOption {
	return func(o *containerOptions) {
		o.resolver = resolver
	}
}

// WithContainerFrameExtractor はフレーム抽出器を差し替える
func WithContainerFrameExtractor(extractor ingestion.FrameExtractor) ContainerOption {
	return func(o *containerOptions) {
		o.extractor = extractor
	}
}

// NewContainer は設定からコンテナを生成する。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	return NewContainerWithDB(cfg, db, opts...)
}

// NewContainerWithDB は既存の Database を受け取りコンテナを生成する。
func NewContainerWithDB(cfg *config.Config, db *database.Database, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Encoder（CLIPサイドカー。構成次第でtext側をOpenAIに差し替える）
	encoder := options.encoder
	if encoder == nil {
		clipClient := clip.NewClient(
			clip.WithBaseURL(cfg.CLIP.Endpoint),
			clip.WithDimension(cfg.CLIP.EmbeddingDimension),
			clip.WithTimeout(time.Duration(cfg.CLIP.TimeoutSeconds)*time.Second),
		)
		encoder = clipClient

		if cfg.Embedding.TextProvider == "openai" {
			embedder := openai.NewEmbedder(cfg.OpenAI.APIKey,
				openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
				openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
			)
			encoder = newMixedEncoder(clipClient, embedder)
		}
	}

	// MediaResolver (yt-dlp) / FrameExtractor (ffmpeg)
	resolver := options.resolver
	if resolver == nil {
		resolver = ytdlp.NewResolver()
	}
	extractor := options.extractor
	if extractor == nil {
		extractor = ffmpeg.NewExtractor()
	}

	// TokenCounter (tiktoken)
	tokenCounter, err := newTokenCounter()
	if err != nil {
		return nil, fmt.Errorf("TokenCounter 初期化に失敗しました: %w", err)
	}

	// Repository / CandidateStore (PostgreSQL)
	repo := postgres.NewRepository(db.Pool)
	candidates := postgres.NewCandidateStore(db.Pool)

	// Locker（動画単位でEmbedding生成を直列化するアドバイザリロック）
	locker := database.NewAdvisoryLocker(database.NewTransactionProvider(db.Pool))

	// VideoService
	videoService := video.NewService(repo, resolver, video.WithVideoLogger(logger))

	// IngestService
	ingestService := ingestion.NewIngestService(repo, extractor, encoder, tokenCounter, locker,
		ingestion.WithIngestLogger(logger),
		ingestion.WithIngestConfig(&ingestion.IngestConfig{
			FramesRoot:         cfg.Media.FramesDir,
			FrameIntervalSec:   cfg.Media.FrameIntervalSeconds,
			ContextWindowSec:   ingestion.DefaultContextWindowSec,
			ContextTokenBudget: ingestion.DefaultContextTokenBudget,
		}),
		ingestion.WithIngestPipelineConfig(&ingestion.PipelineConfig{
			LoadWorkerCount:   cfg.Embedding.Workers,
			EncodeWorkerCount: cfg.Embedding.Workers,
			EncodeBatchSize:   cfg.Embedding.BatchSize,
		}),
	)

	// SearchService
	weights := visualsearch.HybridWeights{
		Visual: cfg.Search.WeightVisual,
		Text:   1 - cfg.Search.WeightVisual,
	}
	if err := weights.Validate(); err != nil {
		logger.Warn("ハイブリッド検索の重み設定が不正なためデフォルト値を使用します",
			"weightVisual", cfg.Search.WeightVisual,
			"error", err,
		)
		weights = visualsearch.DefaultHybridWeights()
	}
	scorer := visualsearch.NewScorer(encoder,
		visualsearch.WithScorerLogger(logger),
		visualsearch.WithScorerWeights(weights),
	)
	searchService := visualsearch.NewSearchService(candidates, scorer,
		visualsearch.WithSearchLogger(logger),
		visualsearch.WithSearchDefaultLimit(cfg.Search.DefaultLimit),
	)

	return &ServiceContainer{
		VideoService:  videoService,
		IngestService: ingestService,
		SearchService: searchService,
		logger:        logger,
		database:      db,
	}, nil
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c != nil && c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はデータベースを返す。
func (c *ServiceContainer) Database() *database.Database {
	if c == nil {
		return nil
	}
	return c.database
}

// --- アダプタ群 ---

// textEmbedder はmixedEncoderが利用するtext Embedding生成器を表す
type textEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
	MaxBatchSize() int
}

// mixedEncoder は視覚EmbeddingをCLIP、text Embeddingを別のEmbedderで生成する
// 合成エンコーダ。検索クエリのエンコードは常にCLIP側で行う（フレームの視覚
// Embeddingと同一空間でなければコサイン類似度が成立しないため）
type mixedEncoder struct {
	visual Encoder
	text   textEmbedder
}

var _ Encoder = (*mixedEncoder)(nil)

func newMixedEncoder(visual Encoder, text textEmbedder) *mixedEncoder {
	return &mixedEncoder{visual: visual, text: text}
}

func (m *mixedEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	return m.visual.EncodeText(ctx, text)
}

func (m *mixedEncoder) BatchEncodeImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	return m.visual.BatchEncodeImages(ctx, images)
}

func (m *mixedEncoder) BatchEncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return m.text.BatchEmbed(ctx, texts)
}

func (m *mixedEncoder) ModelName() string {
	return fmt.Sprintf("%s+%s", m.visual.ModelName(), m.text.ModelName())
}

func (m *mixedEncoder) MaxBatchSize() int {
	if m.text.MaxBatchSize() < m.visual.MaxBatchSize() {
		return m.text.MaxBatchSize()
	}
	return m.visual.MaxBatchSize()
}

// tokenCounter は tiktoken を利用した TokenCounter 実装。
type tokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var _ ingestion.TokenCounter = (*tokenCounter)(nil)

func newTokenCounter() (*tokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &tokenCounter{encoding: enc}, nil
}

func (t *tokenCounter) CountTokens(text string) int {
	if t.encoding == nil {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

func (t *tokenCounter) TrimToTokenLimit(text string, maxTokens int) string {
	if t.encoding == nil {
		return text
	}
	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.encoding.Decode(tokens[:maxTokens])
}

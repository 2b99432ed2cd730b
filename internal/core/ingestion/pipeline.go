package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jinford/video-rag/internal/core/video"
)

const (
	// DefaultLoadWorkerCount はデフォルトのフレーム画像読み込みワーカー数（ディスクI/Oバウンド）
	DefaultLoadWorkerCount = 4
	// DefaultEncodeWorkerCount はデフォルトのEmbedding生成ワーカー数（エンコーダAPI呼び出し）
	DefaultEncodeWorkerCount = 4
	// DefaultEncodeBatchSize はエンコーダAPIのデフォルトバッチサイズ
	DefaultEncodeBatchSize = 16
	// DefaultFailOnEncodeError はエンコード失敗時にパイプラインを停止するかのデフォルト値
	DefaultFailOnEncodeError = false
	// MinBatchSize は最小バッチサイズ（MaxBatchSize()が0を返した場合のフォールバック）
	MinBatchSize = 1
)

// PipelineConfig はEmbedding生成パイプラインの設定
type PipelineConfig struct {
	// LoadWorkerCount はフレーム画像読み込みワーカー数
	LoadWorkerCount int
	// EncodeWorkerCount はEmbedding生成ワーカー数
	EncodeWorkerCount int
	// EncodeBatchSize はエンコーダAPIのバッチサイズ（Encoder.MaxBatchSize()でクリップされる）
	EncodeBatchSize int
	// FailOnEncodeError はエンコード失敗時にパイプラインを停止するかどうか
	FailOnEncodeError bool
}

// DefaultPipelineConfig はデフォルトのパイプライン設定を返す
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		LoadWorkerCount:   DefaultLoadWorkerCount,
		EncodeWorkerCount: DefaultEncodeWorkerCount,
		EncodeBatchSize:   DefaultEncodeBatchSize,
		FailOnEncodeError: DefaultFailOnEncodeError,
	}
}

// PipelineStats はパイプライン処理の統計情報
type PipelineStats struct {
	TotalFrames    int // 処理対象となったフレーム数
	VisualEmbedded int // visual Embeddingを保存したフレーム数
	TextEmbedded   int // text Embeddingを保存したフレーム数
	FailedFrames   int // 画像読み込みまたはEmbedding生成・保存に失敗したフレーム数
	FailedTexts    int // text Embeddingの生成に失敗したフレーム数
	EmptyContexts  int // コンテキスト未設定でtext Embeddingを生成しなかったフレーム数
}

// frameTask は読み込み済みフレーム画像をエンコードステージへ受け渡す単位
type frameTask struct {
	frame *video.Frame
	image []byte
}

// EmbeddingPipeline はフレームのEmbedding生成をパイプライン処理で実行する
type EmbeddingPipeline struct {
	repository Repository
	encoder    Encoder
	config     *PipelineConfig
	logger     *slog.Logger

	// 実際に使用するバッチサイズ（Encoder.MaxBatchSize()でクリップ済み）
	effectiveBatchSize int
}

// NewEmbeddingPipeline は新しいEmbeddingPipelineを作成する
func NewEmbeddingPipeline(
	repository Repository,
	encoder Encoder,
	config *PipelineConfig,
	logger *slog.Logger,
) *EmbeddingPipeline {
	if config == nil {
		config = DefaultPipelineConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	// バッチサイズをエンコーダの最大値でクリップ
	effectiveBatchSize := config.EncodeBatchSize
	maxBatchSize := encoder.MaxBatchSize()

	// MaxBatchSize が0以下の場合はフォールバック
	if maxBatchSize <= 0 {
		logger.Warn("Encoder.MaxBatchSize()が無効な値を返しました。フォールバック値を使用します",
			"returned", maxBatchSize,
			"fallback", MinBatchSize,
		)
		maxBatchSize = MinBatchSize
	}

	if effectiveBatchSize > maxBatchSize {
		logger.Info("EncodeBatchSizeをエンコーダの最大値でクリップ",
			"configured", effectiveBatchSize,
			"max", maxBatchSize,
		)
		effectiveBatchSize = maxBatchSize
	}

	if effectiveBatchSize <= 0 {
		effectiveBatchSize = MinBatchSize
	}

	return &EmbeddingPipeline{
		repository:         repository,
		encoder:            encoder,
		config:             config,
		logger:             logger,
		effectiveBatchSize: effectiveBatchSize,
	}
}

// Process はフレーム群のEmbeddingを生成して保存する
// 個別フレームの失敗は統計に計上して処理を継続する（FailOnEncodeError指定時を除く）
func (p *EmbeddingPipeline) Process(ctx context.Context, frames []*video.Frame) (*PipelineStats, error) {
	// Stage 1: フレームチャネル（入力）
	frameChan := make(chan *video.Frame, len(frames))

	// Stage 2: 読み込み済みタスクチャネル（エンコード用）
	taskChan := make(chan *frameTask, p.config.EncodeWorkerCount*p.effectiveBatchSize)

	// エラー追跡用
	var pipelineErr atomic.Value
	var failedFrames atomic.Int64
	var failedTexts atomic.Int64
	var visualEmbedded atomic.Int64
	var textEmbedded atomic.Int64
	var emptyContexts atomic.Int64

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stage 1: フレームをチャネルに投入
	go func() {
		defer close(frameChan)
		for _, frame := range frames {
			select {
			case frameChan <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Stage 2: フレーム画像読み込みワーカー
	var loadWg sync.WaitGroup
	loadWg.Add(p.config.LoadWorkerCount)
	for i := 0; i < p.config.LoadWorkerCount; i++ {
		go func() {
			defer loadWg.Done()
			p.loadWorker(ctx, frameChan, taskChan, &failedFrames)
		}()
	}

	// 読み込み完了を待ってタスクチャネルを閉じる
	go func() {
		loadWg.Wait()
		close(taskChan)
	}()

	// Stage 3: Embedding生成・保存ワーカー
	var encodeWg sync.WaitGroup
	encodeWg.Add(p.config.EncodeWorkerCount)
	for i := 0; i < p.config.EncodeWorkerCount; i++ {
		go func() {
			defer encodeWg.Done()
			p.encodeWorker(ctx, cancel, taskChan, &pipelineErr, &failedFrames, &failedTexts, &visualEmbedded, &textEmbedded, &emptyContexts)
		}()
	}

	encodeWg.Wait()

	stats := &PipelineStats{
		TotalFrames:    len(frames),
		VisualEmbedded: int(visualEmbedded.Load()),
		TextEmbedded:   int(textEmbedded.Load()),
		FailedFrames:   int(failedFrames.Load()),
		FailedTexts:    int(failedTexts.Load()),
		EmptyContexts:  int(emptyContexts.Load()),
	}

	// 致命的エラーがあった場合
	if errVal := pipelineErr.Load(); errVal != nil {
		if pipeErr, ok := errVal.(error); ok {
			return stats, fmt.Errorf("Embeddingパイプライン処理中に致命的エラー: %w", pipeErr)
		}
	}

	if stats.FailedFrames > 0 || stats.FailedTexts > 0 {
		p.logger.Warn("Embeddingパイプライン完了（一部失敗あり）",
			"totalFrames", stats.TotalFrames,
			"visualEmbedded", stats.VisualEmbedded,
			"textEmbedded", stats.TextEmbedded,
			"failedFrames", stats.FailedFrames,
			"failedTexts", stats.FailedTexts,
			"emptyContexts", stats.EmptyContexts,
		)
	}

	return stats, nil
}

// loadWorker はフレーム画像をディスクから読み込むワーカー
func (p *EmbeddingPipeline) loadWorker(
	ctx context.Context,
	frameChan <-chan *video.Frame,
	taskChan chan<- *frameTask,
	failedFrames *atomic.Int64,
) {
	for frame := range frameChan {
		select {
		case <-ctx.Done():
			return
		default:
		}

		image, err := os.ReadFile(frame.Path)
		if err != nil {
			p.logger.Warn("フレーム画像の読み込みに失敗",
				"frameID", frame.ID,
				"path", frame.Path,
				"error", err,
			)
			failedFrames.Add(1)
			continue
		}

		select {
		case taskChan <- &frameTask{frame: frame, image: image}:
		case <-ctx.Done():
			return
		}
	}
}

// encodeWorker はバッチ単位でEmbeddingを生成して保存するワーカー
func (p *EmbeddingPipeline) encodeWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	taskChan <-chan *frameTask,
	pipelineErr *atomic.Value,
	failedFrames *atomic.Int64,
	failedTexts *atomic.Int64,
	visualEmbedded *atomic.Int64,
	textEmbedded *atomic.Int64,
	emptyContexts *atomic.Int64,
) {
	pending := make([]*frameTask, 0, p.effectiveBatchSize)

	processBatch := func() bool {
		if len(pending) == 0 {
			return true
		}

		images := make([][]byte, 0, len(pending))
		for _, task := range pending {
			images = append(images, task.image)
		}

		vectors, err := p.encoder.BatchEncodeImages(ctx, images)
		if err != nil {
			p.logger.Error("フレーム画像のバッチエンコードに失敗",
				"batchSize", len(images),
				"error", err,
			)
			failedFrames.Add(int64(len(pending)))

			if p.config.FailOnEncodeError {
				pipelineErr.Store(fmt.Errorf("画像エンコード失敗: %w", err))
				cancel()
				return false
			}
			pending = pending[:0]
			return true
		}

		if len(vectors) != len(pending) {
			p.logger.Error("画像Embeddingのベクトル数が不一致",
				"expected", len(pending),
				"actual", len(vectors),
			)
			failedFrames.Add(int64(len(pending)))

			if p.config.FailOnEncodeError {
				pipelineErr.Store(errors.New("画像Embeddingのベクトル数が入力と一致しません"))
				cancel()
				return false
			}
			pending = pending[:0]
			return true
		}

		modelName := p.encoder.ModelName()
		embeddings := make([]*FrameEmbedding, 0, len(pending)*2)
		for i, task := range pending {
			embeddings = append(embeddings, &FrameEmbedding{
				FrameID:  task.frame.ID,
				Modality: ModalityVisual,
				Vector:   vectors[i],
				Model:    modelName,
			})
		}

		// コンテキストを持つフレームのみtext Embeddingを生成する
		textTasks := make([]*frameTask, 0, len(pending))
		texts := make([]string, 0, len(pending))
		for _, task := range pending {
			if strings.TrimSpace(task.frame.Context) == "" {
				emptyContexts.Add(1)
				continue
			}
			textTasks = append(textTasks, task)
			texts = append(texts, task.frame.Context)
		}

		textCount := 0
		if len(texts) > 0 {
			textVectors, err := p.encoder.BatchEncodeTexts(ctx, texts)
			switch {
			case err != nil:
				p.logger.Error("コンテキストのバッチエンコードに失敗",
					"batchSize", len(texts),
					"error", err,
				)
				failedTexts.Add(int64(len(textTasks)))

				if p.config.FailOnEncodeError {
					pipelineErr.Store(fmt.Errorf("テキストエンコード失敗: %w", err))
					cancel()
					return false
				}
			case len(textVectors) != len(textTasks):
				p.logger.Error("text Embeddingのベクトル数が不一致",
					"expected", len(textTasks),
					"actual", len(textVectors),
				)
				failedTexts.Add(int64(len(textTasks)))

				if p.config.FailOnEncodeError {
					pipelineErr.Store(errors.New("text Embeddingのベクトル数が入力と一致しません"))
					cancel()
					return false
				}
			default:
				for i, task := range textTasks {
					embeddings = append(embeddings, &FrameEmbedding{
						FrameID:  task.frame.ID,
						Modality: ModalityText,
						Vector:   textVectors[i],
						Model:    modelName,
					})
					textCount++
				}
			}
		}

		if err := p.repository.BatchUpsertEmbeddings(ctx, embeddings); err != nil {
			p.logger.Error("Embeddingのバッチ保存に失敗",
				"count", len(embeddings),
				"error", err,
			)
			failedFrames.Add(int64(len(pending)))

			if p.config.FailOnEncodeError {
				pipelineErr.Store(fmt.Errorf("embedding保存失敗: %w", err))
				cancel()
				return false
			}
			pending = pending[:0]
			return true
		}

		visualEmbedded.Add(int64(len(pending)))
		textEmbedded.Add(int64(textCount))
		pending = pending[:0]
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-taskChan:
			if !ok {
				processBatch()
				return
			}

			pending = append(pending, task)

			if len(pending) >= p.effectiveBatchSize {
				if !processBatch() {
					return
				}
			}
		}
	}
}

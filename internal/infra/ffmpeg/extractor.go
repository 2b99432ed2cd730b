package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/jinford/video-rag/internal/core/ingestion"
)

// DefaultBinary はffmpegコマンドのデフォルトパス
const DefaultBinary = "ffmpeg"

// framePattern はffmpegに渡す出力ファイル名のパターン（連番は1始まり）
const framePattern = "frame_%04d.jpg"

// Extractor はffmpegコマンドで動画から一定間隔のフレームを抽出する
type Extractor struct {
	binary string
}

type extractorOptions struct {
	binary string
}

// ExtractorOption は Extractor のオプション設定
type ExtractorOption func(*extractorOptions)

// WithBinary はffmpegバイナリのパスを上書きする
func WithBinary(binary string) ExtractorOption {
	return func(o *extractorOptions) {
		o.binary = binary
	}
}

// NewExtractor は新しい Extractor を作成する
func NewExtractor(opts ...ExtractorOption) *Extractor {
	options := extractorOptions{
		binary: DefaultBinary,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.binary == "" {
		options.binary = DefaultBinary
	}

	return &Extractor{binary: options.binary}
}

// ExtractFrames は動画メディアからintervalSec秒間隔でフレームを抽出する
// 先頭フレームはt=0、以降はintervalSecごとのタイムスタンプになる
func (e *Extractor) ExtractFrames(ctx context.Context, mediaPath, outDir string, intervalSec int) ([]ingestion.ExtractedFrame, error) {
	if intervalSec <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", intervalSec)
	}
	if _, err := os.Stat(mediaPath); err != nil {
		return nil, fmt.Errorf("media file not found: %w", err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.binary, buildArgs(mediaPath, outDir, intervalSec)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w\noutput: %s", err, string(output))
	}

	return collectFrames(outDir, intervalSec)
}

// buildArgs はffmpegの引数列を組み立てる
func buildArgs(mediaPath, outDir string, intervalSec int) []string {
	return []string{
		"-i", mediaPath,
		"-vf", fmt.Sprintf("fps=1/%d", intervalSec),
		"-y",
		filepath.Join(outDir, framePattern),
	}
}

// collectFrames は出力ディレクトリからフレームファイルを収集する
// ファイル名の連番からタイムスタンプを復元する（frame_0001.jpg → 0秒）
func collectFrames(outDir string, intervalSec int) ([]ingestion.ExtractedFrame, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	frames := make([]ingestion.ExtractedFrame, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(entry.Name(), "frame_%d.jpg", &n); err != nil || n < 1 {
			continue
		}
		frames = append(frames, ingestion.ExtractedFrame{
			Timestamp: float64((n - 1) * intervalSec),
			Path:      filepath.Join(outDir, entry.Name()),
		})
	}

	if len(frames) == 0 {
		return nil, errors.New("ffmpeg produced no frames")
	}

	sort.Slice(frames, func(i, j int) bool {
		return frames[i].Timestamp < frames[j].Timestamp
	})

	return frames, nil
}

// インターフェース実装の確認
var _ ingestion.FrameExtractor = (*Extractor)(nil)

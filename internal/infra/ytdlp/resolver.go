package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/jinford/video-rag/internal/core/video"
)

// DefaultBinary はyt-dlpコマンドのデフォルトパス
const DefaultBinary = "yt-dlp"

// Resolver はyt-dlpコマンドでYouTube動画のメタデータ解決とダウンロードを行う
type Resolver struct {
	binary string
}

type resolverOptions struct {
	binary string
}

// ResolverOption は Resolver のオプション設定
type ResolverOption func(*resolverOptions)

// WithBinary はyt-dlpバイナリのパスを上書きする
func WithBinary(binary string) ResolverOption {
	return func(o *resolverOptions) {
		o.binary = binary
	}
}

// NewResolver は新しい Resolver を作成する
func NewResolver(opts ...ResolverOption) *Resolver {
	options := resolverOptions{
		binary: DefaultBinary,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.binary == "" {
		options.binary = DefaultBinary
	}

	return &Resolver{binary: options.binary}
}

// dumpJSON は yt-dlp --dump-json の出力のうち必要なフィールドのみを表す
type dumpJSON struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// ResolveMetadata はURLから動画メタデータを取得する（ダウンロードは行わない）
func (r *Resolver) ResolveMetadata(ctx context.Context, url string) (*video.Metadata, error) {
	cmd := exec.CommandContext(ctx, r.binary,
		"--dump-json",
		"--no-download",
		"--no-playlist",
		url,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp failed: %w\nstderr: %s", err, stderr.String())
	}

	var meta dumpJSON
	if err := json.Unmarshal(stdout.Bytes(), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}
	if meta.ID == "" {
		return nil, fmt.Errorf("yt-dlp returned no video id for %s", url)
	}

	return &video.Metadata{
		YouTubeID:   meta.ID,
		Title:       meta.Title,
		DurationSec: meta.Duration,
	}, nil
}

// Download は動画メディアをmp4としてdestDir配下に保存し、保存先パスを返す
// 既にダウンロード済みの場合はそのパスを返す
func (r *Resolver) Download(ctx context.Context, url string, destDir string) (string, error) {
	meta, err := r.ResolveMetadata(ctx, url)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	destPath := filepath.Join(destDir, meta.YouTubeID+".mp4")
	if _, err := os.Stat(destPath); err == nil {
		return destPath, nil
	}

	cmd := exec.CommandContext(ctx, r.binary,
		"--no-playlist",
		"-f", "mp4",
		"-o", destPath,
		url,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("yt-dlp download failed: %w\noutput: %s", err, string(output))
	}

	if _, err := os.Stat(destPath); err != nil {
		return "", fmt.Errorf("yt-dlp reported success but media is missing: %w", err)
	}

	return destPath, nil
}

// インターフェース実装の確認
var _ video.MediaResolver = (*Resolver)(nil)

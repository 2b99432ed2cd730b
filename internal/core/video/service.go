package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound は指定された動画が存在しない場合のエラー
	ErrNotFound = errors.New("video not found")

	// ErrInvalidURL は動画URLが不正な場合のエラー
	ErrInvalidURL = errors.New("invalid video URL")

	// ErrInvalidTranscript はトランスクリプトの内容が不正な場合のエラー
	ErrInvalidTranscript = errors.New("invalid transcript segments")

	// ErrMediaNotAvailable はローカルメディアが未取得の場合のエラー
	ErrMediaNotAvailable = errors.New("video media has not been downloaded")
)

// Service は動画集約のユースケースを提供する
type Service struct {
	repository Repository
	resolver   MediaResolver
	logger     *slog.Logger
}

type serviceOptions struct {
	logger *slog.Logger
}

// ServiceOption はService構築時のオプション
type ServiceOption func(*serviceOptions)

// WithVideoLogger はロガーを差し替える
func WithVideoLogger(logger *slog.Logger) ServiceOption {
	return func(opts *serviceOptions) {
		opts.logger = logger
	}
}

// NewService は新しいServiceを作成する
func NewService(repository Repository, resolver MediaResolver, opts ...ServiceOption) *Service {
	options := serviceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Service{
		repository: repository,
		resolver:   resolver,
		logger:     options.logger,
	}
}

// Register はURLから動画メタデータを解決して登録する
// 同じYouTube IDの動画が既に存在する場合は既存の動画を返す（冪等）
func (s *Service) Register(ctx context.Context, url string) (*Video, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrInvalidURL
	}

	meta, err := s.resolver.ResolveMetadata(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("動画メタデータの解決に失敗しました: %w", err)
	}

	v, err := s.repository.CreateVideoIfNotExists(ctx, meta.YouTubeID, url, meta.Title, meta.DurationSec)
	if err != nil {
		return nil, fmt.Errorf("動画の登録に失敗しました: %w", err)
	}

	s.logger.Info("動画を登録しました",
		"videoID", v.ID,
		"youtubeID", v.YouTubeID,
		"title", v.Title,
	)

	return v, nil
}

// Get はIDで動画を取得する
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Video, error) {
	opt, err := s.repository.GetVideoByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("動画の取得に失敗しました: %w", err)
	}
	v, ok := opt.Get()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v, nil
}

// List は登録済みの全動画を返す
func (s *Service) List(ctx context.Context) ([]*Video, error) {
	videos, err := s.repository.ListVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("動画一覧の取得に失敗しました: %w", err)
	}
	return videos, nil
}

// Delete は動画と、それに属するフレーム・Embedding・トランスクリプトを削除する
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	opt, err := s.repository.GetVideoByID(ctx, id)
	if err != nil {
		return fmt.Errorf("動画の取得に失敗しました: %w", err)
	}
	if opt.IsAbsent() {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := s.repository.DeleteVideo(ctx, id); err != nil {
		return fmt.Errorf("動画の削除に失敗しました: %w", err)
	}

	s.logger.Info("動画を削除しました", "videoID", id)
	return nil
}

// Download は動画メディアをローカルに取得し、保存先を記録する
func (s *Service) Download(ctx context.Context, id uuid.UUID, destDir string) (*Video, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	mediaPath, err := s.resolver.Download(ctx, v.URL, destDir)
	if err != nil {
		return nil, fmt.Errorf("動画メディアの取得に失敗しました: %w", err)
	}

	if err := s.repository.UpdateVideoMediaPath(ctx, id, mediaPath); err != nil {
		return nil, fmt.Errorf("メディアパスの更新に失敗しました: %w", err)
	}

	v.MediaPath = &mediaPath
	s.logger.Info("動画メディアを取得しました", "videoID", id, "path", mediaPath)
	return v, nil
}

// ImportTranscript はトランスクリプトのセグメント列を検証して保存する
// 既存のトランスクリプトは丸ごと置き換えられる
func (s *Service) ImportTranscript(ctx context.Context, videoID uuid.UUID, segments []*TranscriptSegment) error {
	if _, err := s.Get(ctx, videoID); err != nil {
		return err
	}

	if len(segments) == 0 {
		return fmt.Errorf("%w: no segments", ErrInvalidTranscript)
	}
	for i, seg := range segments {
		if seg.StartSec < 0 || seg.Duration < 0 {
			return fmt.Errorf("%w: negative time at segment %d", ErrInvalidTranscript, i)
		}
		if strings.TrimSpace(seg.Text) == "" {
			return fmt.Errorf("%w: empty text at segment %d", ErrInvalidTranscript, i)
		}
	}

	if err := s.repository.ReplaceTranscript(ctx, videoID, segments); err != nil {
		return fmt.Errorf("トランスクリプトの保存に失敗しました: %w", err)
	}

	s.logger.Info("トランスクリプトを保存しました",
		"videoID", videoID,
		"segments", len(segments),
	)
	return nil
}

// ListFrames は動画の抽出済みフレーム一覧を返す
func (s *Service) ListFrames(ctx context.Context, videoID uuid.UUID) ([]*Frame, error) {
	if _, err := s.Get(ctx, videoID); err != nil {
		return nil, err
	}

	frames, err := s.repository.ListFramesByVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("フレーム一覧の取得に失敗しました: %w", err)
	}
	return frames, nil
}

// Transcript は動画のトランスクリプトを返す
func (s *Service) Transcript(ctx context.Context, videoID uuid.UUID) ([]*TranscriptSegment, error) {
	if _, err := s.Get(ctx, videoID); err != nil {
		return nil, err
	}

	segments, err := s.repository.ListTranscriptByVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("トランスクリプトの取得に失敗しました: %w", err)
	}
	return segments, nil
}

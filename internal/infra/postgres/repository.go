package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"

	"github.com/jinford/video-rag/internal/core/ingestion"
	"github.com/jinford/video-rag/internal/core/video"
)

// Repository は video.Repository と ingestion.Repository を実装する
// PostgreSQL リポジトリ
type Repository struct {
	db DBTX
}

// NewRepository は新しい Repository を作成する
// db には *pgxpool.Pool またはトランザクション（pgx.Tx）を渡せる
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// コンパイル時の型チェック
var (
	_ video.Repository     = (*Repository)(nil)
	_ ingestion.Repository = (*Repository)(nil)
)

// === Video ===

func (r *Repository) GetVideoByID(ctx context.Context, id uuid.UUID) (mo.Option[*video.Video], error) {
	query := `
		SELECT id, youtube_id, url, title, duration_sec, media_path, created_at, updated_at
		FROM videos
		WHERE id = $1
	`

	v, err := scanVideo(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return mo.None[*video.Video](), nil
		}
		return mo.None[*video.Video](), fmt.Errorf("failed to get video: %w", err)
	}

	return mo.Some(v), nil
}

func (r *Repository) GetVideoByYouTubeID(ctx context.Context, youtubeID string) (mo.Option[*video.Video], error) {
	query := `
		SELECT id, youtube_id, url, title, duration_sec, media_path, created_at, updated_at
		FROM videos
		WHERE youtube_id = $1
	`

	v, err := scanVideo(r.db.QueryRow(ctx, query, youtubeID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return mo.None[*video.Video](), nil
		}
		return mo.None[*video.Video](), fmt.Errorf("failed to get video by youtube id: %w", err)
	}

	return mo.Some(v), nil
}

func (r *Repository) ListVideos(ctx context.Context) ([]*video.Video, error) {
	query := `
		SELECT id, youtube_id, url, title, duration_sec, media_path, created_at, updated_at
		FROM videos
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []*video.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating videos: %w", err)
	}

	return videos, nil
}

func (r *Repository) CreateVideoIfNotExists(ctx context.Context, youtubeID, url, title string, durationSec float64) (*video.Video, error) {
	query := `
		INSERT INTO videos (youtube_id, url, title, duration_sec)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (youtube_id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			duration_sec = EXCLUDED.duration_sec,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, youtube_id, url, title, duration_sec, media_path, created_at, updated_at
	`

	v, err := scanVideo(r.db.QueryRow(ctx, query, youtubeID, url, title, durationSec))
	if err != nil {
		return nil, fmt.Errorf("failed to create video: %w", err)
	}

	return v, nil
}

func (r *Repository) UpdateVideoMediaPath(ctx context.Context, id uuid.UUID, mediaPath string) error {
	query := `
		UPDATE videos
		SET media_path = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, mediaPath)
	if err != nil {
		return fmt.Errorf("failed to update media path: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("video not found: %s", id)
	}

	return nil
}

func (r *Repository) DeleteVideo(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM videos WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("video not found: %s", id)
	}

	return nil
}

// === Frame ===

func (r *Repository) ListFramesByVideo(ctx context.Context, videoID uuid.UUID) ([]*video.Frame, error) {
	query := `
		SELECT id, video_id, timestamp_sec, path, context, created_at
		FROM frames
		WHERE video_id = $1
		ORDER BY timestamp_sec
	`

	rows, err := r.db.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	defer rows.Close()

	var frames []*video.Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating frames: %w", err)
	}

	return frames, nil
}

func (r *Repository) CountFramesByVideo(ctx context.Context, videoID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM frames WHERE video_id = $1`

	var count int
	if err := r.db.QueryRow(ctx, query, videoID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}

	return count, nil
}

// BatchCreateFrames はフレームを一括登録し、ID採番済みの行を返す
// 全フレームは同一動画に属している前提
func (r *Repository) BatchCreateFrames(ctx context.Context, frames []*video.Frame) ([]*video.Frame, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	videoID := frames[0].VideoID
	timestamps := make([]float64, 0, len(frames))
	paths := make([]string, 0, len(frames))
	contexts := make([]string, 0, len(frames))
	for _, f := range frames {
		timestamps = append(timestamps, f.Timestamp)
		paths = append(paths, f.Path)
		contexts = append(contexts, f.Context)
	}

	query := `
		INSERT INTO frames (video_id, timestamp_sec, path, context)
		SELECT $1, u.timestamp_sec, u.path, u.context
		FROM unnest($2::float8[], $3::text[], $4::text[]) AS u(timestamp_sec, path, context)
		RETURNING id, video_id, timestamp_sec, path, context, created_at
	`

	rows, err := r.db.Query(ctx, query, videoID, timestamps, paths, contexts)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, fmt.Errorf("frames already extracted for video %s: %w", videoID, err)
		}
		return nil, fmt.Errorf("failed to batch create frames: %w", err)
	}
	defer rows.Close()

	created := make([]*video.Frame, 0, len(frames))
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan created frame: %w", err)
		}
		created = append(created, f)
	}
	if err := rows.Err(); err != nil {
		if IsUniqueViolation(err) {
			return nil, fmt.Errorf("frames already extracted for video %s: %w", videoID, err)
		}
		return nil, fmt.Errorf("error iterating created frames: %w", err)
	}

	sort.Slice(created, func(i, j int) bool {
		return created[i].Timestamp < created[j].Timestamp
	})

	return created, nil
}

func (r *Repository) UpdateFrameContexts(ctx context.Context, contexts map[int64]string) error {
	if len(contexts) == 0 {
		return nil
	}

	query := `UPDATE frames SET context = $2 WHERE id = $1`

	batch := &pgx.Batch{}
	for frameID, context := range contexts {
		batch.Queue(query, frameID, context)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range contexts {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to update frame context: %w", err)
		}
	}

	return nil
}

// === Transcript ===

// ReplaceTranscript は既存セグメントの削除と新規登録を単一文で行う（原子的）
func (r *Repository) ReplaceTranscript(ctx context.Context, videoID uuid.UUID, segments []*video.TranscriptSegment) error {
	if len(segments) == 0 {
		if _, err := r.db.Exec(ctx, `DELETE FROM transcript_segments WHERE video_id = $1`, videoID); err != nil {
			return fmt.Errorf("failed to delete transcript: %w", err)
		}
		return nil
	}

	starts := make([]float64, 0, len(segments))
	durations := make([]float64, 0, len(segments))
	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		starts = append(starts, seg.StartSec)
		durations = append(durations, seg.Duration)
		texts = append(texts, seg.Text)
	}

	query := `
		WITH purged AS (
			DELETE FROM transcript_segments WHERE video_id = $1
		)
		INSERT INTO transcript_segments (video_id, start_sec, duration_sec, text)
		SELECT $1, u.start_sec, u.duration_sec, u.text
		FROM unnest($2::float8[], $3::float8[], $4::text[]) AS u(start_sec, duration_sec, text)
	`

	if _, err := r.db.Exec(ctx, query, videoID, starts, durations, texts); err != nil {
		return fmt.Errorf("failed to replace transcript: %w", err)
	}

	return nil
}

func (r *Repository) ListTranscriptByVideo(ctx context.Context, videoID uuid.UUID) ([]*video.TranscriptSegment, error) {
	query := `
		SELECT id, video_id, start_sec, duration_sec, text
		FROM transcript_segments
		WHERE video_id = $1
		ORDER BY start_sec, id
	`

	rows, err := r.db.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript: %w", err)
	}
	defer rows.Close()

	var segments []*video.TranscriptSegment
	for rows.Next() {
		var seg video.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.VideoID, &seg.StartSec, &seg.Duration, &seg.Text); err != nil {
			return nil, fmt.Errorf("failed to scan transcript segment: %w", err)
		}
		segments = append(segments, &seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcript segments: %w", err)
	}

	return segments, nil
}

// === Embedding ===

// BatchUpsertEmbeddings は (frame_id, modality) をキーにEmbeddingを一括登録する
// 既存行は丸ごと上書きされる（部分更新は行わない）
func (r *Repository) BatchUpsertEmbeddings(ctx context.Context, embeddings []*ingestion.FrameEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	query := `
		INSERT INTO frame_embeddings (frame_id, modality, vector, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (frame_id, modality) DO UPDATE SET
			vector = EXCLUDED.vector,
			model = EXCLUDED.model,
			created_at = CURRENT_TIMESTAMP
	`

	batch := &pgx.Batch{}
	for _, e := range embeddings {
		batch.Queue(query, e.FrameID, string(e.Modality), pgvector.NewVector(e.Vector), e.Model)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range embeddings {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert frame embedding: %w", err)
		}
	}

	return nil
}

func (r *Repository) CountFramesWithEmbedding(ctx context.Context, videoID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(DISTINCT f.id)
		FROM frames f
		JOIN frame_embeddings e ON e.frame_id = f.id
		WHERE f.video_id = $1
	`

	var count int
	if err := r.db.QueryRow(ctx, query, videoID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count embedded frames: %w", err)
	}

	return count, nil
}

func (r *Repository) ListFramesMissingEmbedding(ctx context.Context, videoID uuid.UUID, modality ingestion.Modality) ([]*video.Frame, error) {
	query := `
		SELECT f.id, f.video_id, f.timestamp_sec, f.path, f.context, f.created_at
		FROM frames f
		LEFT JOIN frame_embeddings e ON e.frame_id = f.id AND e.modality = $2
		WHERE f.video_id = $1 AND e.id IS NULL
		ORDER BY f.timestamp_sec
	`

	rows, err := r.db.Query(ctx, query, videoID, string(modality))
	if err != nil {
		return nil, fmt.Errorf("failed to list frames missing embedding: %w", err)
	}
	defer rows.Close()

	var frames []*video.Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating frames: %w", err)
	}

	return frames, nil
}

// ListVideosPendingEmbeddings はフレーム抽出済みだがEmbeddingが揃っていない
// 動画のIDを返す（visual未生成、またはコンテキスト付きフレームのtext未生成）
func (r *Repository) ListVideosPendingEmbeddings(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT v.id
		FROM videos v
		WHERE EXISTS (
			SELECT 1
			FROM frames f
			LEFT JOIN frame_embeddings ev ON ev.frame_id = f.id AND ev.modality = 'visual'
			LEFT JOIN frame_embeddings et ON et.frame_id = f.id AND et.modality = 'text'
			WHERE f.video_id = v.id
			  AND (ev.id IS NULL OR (f.context <> '' AND et.id IS NULL))
		)
		ORDER BY v.created_at
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos pending embeddings: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan video id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating video ids: %w", err)
	}

	return ids, nil
}

// === Private helpers ===

func scanVideo(row pgx.Row) (*video.Video, error) {
	var v video.Video
	if err := row.Scan(
		&v.ID,
		&v.YouTubeID,
		&v.URL,
		&v.Title,
		&v.DurationSec,
		&v.MediaPath,
		&v.CreatedAt,
		&v.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &v, nil
}

func scanFrame(row pgx.Row) (*video.Frame, error) {
	var f video.Frame
	if err := row.Scan(
		&f.ID,
		&f.VideoID,
		&f.Timestamp,
		&f.Path,
		&f.Context,
		&f.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &f, nil
}

package postgres

import (
	"context"
	"fmt"
)

// InitSchema は拡張機能・テーブル・インデックスを作成する（冪等）
// frame_embeddings.vector は次元を固定しない vector 型で定義する
// （visual と text でEmbeddingモデルの次元が異なる構成を許容するため）
func InitSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS videos (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			youtube_id TEXT NOT NULL,
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			duration_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
			media_path TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (youtube_id)
		);

		CREATE TABLE IF NOT EXISTS frames (
			id BIGSERIAL PRIMARY KEY,
			video_id UUID NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			timestamp_sec DOUBLE PRECISION NOT NULL,
			path TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (video_id, timestamp_sec)
		);

		CREATE TABLE IF NOT EXISTS transcript_segments (
			id BIGSERIAL PRIMARY KEY,
			video_id UUID NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			start_sec DOUBLE PRECISION NOT NULL,
			duration_sec DOUBLE PRECISION NOT NULL,
			text TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS frame_embeddings (
			id BIGSERIAL PRIMARY KEY,
			frame_id BIGINT NOT NULL REFERENCES frames(id) ON DELETE CASCADE,
			modality TEXT NOT NULL CHECK (modality IN ('visual', 'text')),
			vector vector NOT NULL,
			model TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (frame_id, modality)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	_, err = db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_frames_video_id ON frames(video_id);
		CREATE INDEX IF NOT EXISTS idx_transcript_segments_video_id ON transcript_segments(video_id);
		CREATE INDEX IF NOT EXISTS idx_frame_embeddings_frame_id ON frame_embeddings(frame_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

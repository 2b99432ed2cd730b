package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/video-rag/internal/core/visualsearch"
)

// CandidateStore は visualsearch.CandidateStore を実装する読み取り専用ストア
// Embeddingをフレーム単位でモダリティ別に束ねて返すだけで、
// 類似度計算はコア側で行う（SQLでのベクトル順序付けは行わない）
type CandidateStore struct {
	db DBTX
}

// NewCandidateStore は新しい CandidateStore を作成する
func NewCandidateStore(db DBTX) *CandidateStore {
	return &CandidateStore{db: db}
}

var _ visualsearch.CandidateStore = (*CandidateStore)(nil)

// GetCandidates は動画のEmbedding付きフレームをタイムスタンプ順に返す
// 保存されたベクトルはスキャン時に検証し、不正な形状は
// visualsearch.ErrMalformedEmbedding として弾く
func (s *CandidateStore) GetCandidates(ctx context.Context, videoID uuid.UUID) ([]*visualsearch.Candidate, error) {
	if err := s.ensureVideoExists(ctx, videoID); err != nil {
		return nil, err
	}

	query := `
		SELECT f.id, f.timestamp_sec, f.path, f.context, ev.vector, et.vector
		FROM frames f
		LEFT JOIN frame_embeddings ev ON ev.frame_id = f.id AND ev.modality = 'visual'
		LEFT JOIN frame_embeddings et ON et.frame_id = f.id AND et.modality = 'text'
		WHERE f.video_id = $1
		  AND (ev.id IS NOT NULL OR et.id IS NOT NULL)
		ORDER BY f.timestamp_sec
	`

	rows, err := s.db.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*visualsearch.Candidate
	for rows.Next() {
		var (
			c            visualsearch.Candidate
			visual, text *pgvector.Vector
		)
		if err := rows.Scan(&c.FrameID, &c.Timestamp, &c.Path, &c.Context, &visual, &text); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}

		if visual != nil {
			vec, err := visualsearch.NewVector(visual.Slice(), 0)
			if err != nil {
				return nil, fmt.Errorf("frame %d visual embedding: %w", c.FrameID, err)
			}
			c.Visual = vec
		}
		if text != nil {
			vec, err := visualsearch.NewVector(text.Slice(), 0)
			if err != nil {
				return nil, fmt.Errorf("frame %d text embedding: %w", c.FrameID, err)
			}
			c.Text = vec
		}

		candidates = append(candidates, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}

	return candidates, nil
}

// EmbeddingsExist は抽出済みの全フレームが1つ以上のEmbeddingを持つ場合にtrueを返す
// フレーム未抽出の動画はfalse
func (s *CandidateStore) EmbeddingsExist(ctx context.Context, videoID uuid.UUID) (bool, error) {
	if err := s.ensureVideoExists(ctx, videoID); err != nil {
		return false, err
	}

	query := `
		SELECT COUNT(f.id), COUNT(e.frame_id)
		FROM frames f
		LEFT JOIN (SELECT DISTINCT frame_id FROM frame_embeddings) e ON e.frame_id = f.id
		WHERE f.video_id = $1
	`

	var total, embedded int
	if err := s.db.QueryRow(ctx, query, videoID).Scan(&total, &embedded); err != nil {
		return false, fmt.Errorf("failed to count embedded frames: %w", err)
	}

	return total > 0 && embedded == total, nil
}

func (s *CandidateStore) ensureVideoExists(ctx context.Context, videoID uuid.UUID) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)`, videoID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check video existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", visualsearch.ErrVideoNotFound, videoID)
	}
	return nil
}

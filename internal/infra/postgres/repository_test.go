package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/video-rag/internal/core/ingestion"
	"github.com/jinford/video-rag/internal/core/video"
	"github.com/jinford/video-rag/internal/core/visualsearch"
)

// testPool はdockertestで起動したPostgreSQLへの共有接続プール
// Dockerが利用できない環境ではnilのままとなり、各テストはスキップされる
var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	cleanup, err := setupTestDatabase()
	if err != nil {
		log.Printf("テスト用PostgreSQLを起動できないため統合テストをスキップします: %v", err)
	}

	code := m.Run()

	if cleanup != nil {
		cleanup()
	}
	os.Exit(code)
}

func setupTestDatabase() (func(), error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("failed to create dockertest pool: %w", err)
	}
	if err := pool.Client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping docker daemon: %w", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=videorag",
			"POSTGRES_PASSWORD=videorag",
			"POSTGRES_DB=videorag_test",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}
	// テストが異常終了してもコンテナが残らないようにする
	_ = resource.Expire(300)

	connString := fmt.Sprintf(
		"postgres://videorag:videorag@%s/videorag_test?sslmode=disable",
		resource.GetHostPort("5432/tcp"),
	)

	ctx := context.Background()
	pool.MaxWait = 60 * time.Second
	if err := pool.Retry(func() error {
		p, err := pgxpool.New(ctx, connString)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		testPool = p
		return nil
	}); err != nil {
		_ = pool.Purge(resource)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := InitSchema(ctx, testPool); err != nil {
		testPool.Close()
		testPool = nil
		_ = pool.Purge(resource)
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	cleanup := func() {
		testPool.Close()
		if err := pool.Purge(resource); err != nil {
			log.Printf("failed to purge postgres container: %v", err)
		}
	}
	return cleanup, nil
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	if testPool == nil {
		t.Skip("テスト用PostgreSQLが利用できません")
	}
	return NewRepository(testPool)
}

// createTestVideo は一意なYouTube IDで動画を1件登録する
func createTestVideo(t *testing.T, repo *Repository) *video.Video {
	t.Helper()
	v, err := repo.CreateVideoIfNotExists(
		context.Background(),
		"yt-"+uuid.NewString(),
		"https://www.youtube.com/watch?v=test",
		"テスト動画",
		120,
	)
	require.NoError(t, err)
	return v
}

// createTestFrames は10秒間隔のフレームをn件登録する
func createTestFrames(t *testing.T, repo *Repository, videoID uuid.UUID, n int) []*video.Frame {
	t.Helper()
	frames := make([]*video.Frame, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, &video.Frame{
			VideoID:   videoID,
			Timestamp: float64(i * 10),
			Path:      fmt.Sprintf("data/frames/%s/frame_%04d.jpg", videoID, i+1),
		})
	}
	created, err := repo.BatchCreateFrames(context.Background(), frames)
	require.NoError(t, err)
	require.Len(t, created, n)
	return created
}

func TestRepository_CreateVideoIfNotExists(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	youtubeID := "yt-" + uuid.NewString()
	created, err := repo.CreateVideoIfNotExists(ctx, youtubeID, "https://youtu.be/a", "最初のタイトル", 60)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, youtubeID, created.YouTubeID)
	assert.Equal(t, float64(60), created.DurationSec)
	assert.Nil(t, created.MediaPath)

	// 同じYouTube IDでの再登録は既存行を更新して返す
	again, err := repo.CreateVideoIfNotExists(ctx, youtubeID, "https://youtu.be/b", "更新後のタイトル", 90)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, "更新後のタイトル", again.Title)
	assert.Equal(t, "https://youtu.be/b", again.URL)
	assert.Equal(t, float64(90), again.DurationSec)
}

func TestRepository_GetVideoByID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	v := createTestVideo(t, repo)

	opt, err := repo.GetVideoByID(ctx, v.ID)
	require.NoError(t, err)
	got, ok := opt.Get()
	require.True(t, ok)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, v.YouTubeID, got.YouTubeID)

	// 存在しないIDはNoneを返す（エラーではない）
	opt, err = repo.GetVideoByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.True(t, opt.IsAbsent())
}

func TestRepository_GetVideoByYouTubeID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	v := createTestVideo(t, repo)

	opt, err := repo.GetVideoByYouTubeID(ctx, v.YouTubeID)
	require.NoError(t, err)
	got, ok := opt.Get()
	require.True(t, ok)
	assert.Equal(t, v.ID, got.ID)

	opt, err = repo.GetVideoByYouTubeID(ctx, "yt-"+uuid.NewString())
	require.NoError(t, err)
	assert.True(t, opt.IsAbsent())
}

func TestRepository_ListVideos(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	v := createTestVideo(t, repo)

	videos, err := repo.ListVideos(ctx)
	require.NoError(t, err)

	var found bool
	for _, got := range videos {
		if got.ID == v.ID {
			found = true
			break
		}
	}
	assert.True(t, found)
}

func TestRepository_UpdateVideoMediaPath(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	v := createTestVideo(t, repo)

	err := repo.UpdateVideoMediaPath(ctx, v.ID, "data/media/"+v.YouTubeID+".mp4")
	require.NoError(t, err)

	opt, err := repo.GetVideoByID(ctx, v.ID)
	require.NoError(t, err)
	got := opt.MustGet()
	require.NotNil(t, got.MediaPath)
	assert.Equal(t, "data/media/"+v.YouTubeID+".mp4", *got.MediaPath)

	// 存在しない動画はエラー
	err = repo.UpdateVideoMediaPath(ctx, uuid.New(), "data/media/x.mp4")
	assert.Error(t, err)
}

func TestRepository_DeleteVideo_Cascades(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	v := createTestVideo(t, repo)
	frames := createTestFrames(t, repo, v.ID, 2)
	require.NoError(t, repo.BatchUpsertEmbeddings(ctx, []*ingestion.FrameEmbedding{
		{FrameID: frames[0].ID, Modality: ingestion.ModalityVisual, Vector: []float32{1, 0, 0, 0}, Model: "clip-ViT-B-32"},
	}))
	require.NoError(t, repo.ReplaceTranscript(ctx, v.ID, []*video.TranscriptSegment{
		{VideoID: v.ID, StartSec: 0, Duration: 5, Text: "導入"},
	}))

	require.NoError(t, repo.DeleteVideo(ctx, v.ID))

	opt, err := repo.GetVideoByID(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, opt.IsAbsent())

	count, err := repo.CountFramesByVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	segments, err := repo.ListTranscriptByVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, segments)

	// 削除済みの動画の再削除はエラー
	assert.Error(t, repo.DeleteVideo(ctx, v.ID))
}

func TestRepository_BatchCreateFrames(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	v := createTestVideo(t, repo)
	created := createTestFrames(t, repo, v.ID, 3)

	// IDが採番され、タイムスタンプ昇順で返る
	assert.Greater(t, created[0].ID, int64(0))
	assert.Equal(t, v.ID, created[0].VideoID)
	assert.Equal(t, float64(0), created[0].Timestamp)
	assert.Equal(t, float64(10), created[1].Timestamp)
	assert.Equal(t, float64(20), created[2].Timestamp)

	count, err := repo.CountFramesByVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// 同一タイムスタンプの重複登録は一意制約違反
	_, err = repo.BatchCreateFrames(ctx, []*video.Frame{
		{VideoID: v.ID, Timestamp: 0, Path: "dup.jpg"},
	})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	// 空スライスは何もしない
	got, err := repo.BatchCreateFrames(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_UpdateFrameContexts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	v := createTestVideo(t, repo)
	frames := createTestFrames(t, repo, v.ID, 2)

	err := repo.UpdateFrameContexts(ctx, map[int64]string{
		frames[0].ID: "冒頭の話題",
		frames[1].ID: "次の話題",
	})
	require.NoError(t, err)

	listed, err := repo.ListFramesByVideo(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "冒頭の話題", listed[0].Context)
	assert.Equal(t, "次の話題", listed[1].Context)

	// 空マップは何もしない
	require.NoError(t, repo.UpdateFrameContexts(ctx, nil))
}

func TestRepository_ReplaceTranscript(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	v := createTestVideo(t, repo)

	first := []*video.TranscriptSegment{
		{VideoID: v.ID, StartSec: 5, Duration: 5, Text: "続き"},
		{VideoID: v.ID, StartSec: 0, Duration: 5, Text: "導入"},
	}
	require.NoError(t, repo.ReplaceTranscript(ctx, v.ID, first))

	segments, err := repo.ListTranscriptByVideo(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	// 開始秒の昇順で返る
	assert.Equal(t, "導入", segments[0].Text)
	assert.Equal(t, "続き", segments[1].Text)

	// 再インポートは丸ごと置き換える
	replacement := []*video.TranscriptSegment{
		{VideoID: v.ID, StartSec: 0, Duration: 10, Text: "修正版"},
	}
	require.NoError(t, repo.ReplaceTranscript(ctx, v.ID, replacement))

	segments, err = repo.ListTranscriptByVideo(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "修正版", segments[0].Text)
	assert.Equal(t, float64(10), segments[0].Duration)
}

func TestRepository_BatchUpsertEmbeddings(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	v := createTestVideo(t, repo)
	frames := createTestFrames(t, repo, v.ID, 2)

	embeddings := []*ingestion.FrameEmbedding{
		{FrameID: frames[0].ID, Modality: ingestion.ModalityVisual, Vector: []float32{1, 0, 0, 0}, Model: "clip-ViT-B-32"},
		{FrameID: frames[0].ID, Modality: ingestion.ModalityText, Vector: []float32{0, 1, 0, 0}, Model: "clip-ViT-B-32"},
	}
	require.NoError(t, repo.BatchUpsertEmbeddings(ctx, embeddings))

	count, err := repo.CountFramesWithEmbedding(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	missing, err := repo.ListFramesMissingEmbedding(ctx, v.ID, ingestion.ModalityVisual)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, frames[1].ID, missing[0].ID)

	// 再生成は同一キーの行を上書きする
	require.NoError(t, repo.BatchUpsertEmbeddings(ctx, []*ingestion.FrameEmbedding{
		{FrameID: frames[0].ID, Modality: ingestion.ModalityVisual, Vector: []float32{0, 0, 1, 0}, Model: "clip-ViT-L-14"},
	}))

	store := NewCandidateStore(testPool)
	candidates, err := store.GetCandidates(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, visualsearch.Vector{0, 0, 1, 0}, candidates[0].Visual)

	// 空スライスは何もしない
	require.NoError(t, repo.BatchUpsertEmbeddings(ctx, nil))
}

func TestRepository_ListVideosPendingEmbeddings(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	// フレーム未抽出の動画は対象外
	noFrames := createTestVideo(t, repo)

	// visual未生成のフレームを持つ動画は対象
	pendingVisual := createTestVideo(t, repo)
	createTestFrames(t, repo, pendingVisual.ID, 1)

	// 全フレーム生成済み（コンテキストなし）の動画は対象外
	complete := createTestVideo(t, repo)
	completeFrames := createTestFrames(t, repo, complete.ID, 1)
	require.NoError(t, repo.BatchUpsertEmbeddings(ctx, []*ingestion.FrameEmbedding{
		{FrameID: completeFrames[0].ID, Modality: ingestion.ModalityVisual, Vector: []float32{1, 0, 0, 0}, Model: "clip-ViT-B-32"},
	}))

	// コンテキスト付きフレームのtext未生成の動画は対象
	pendingText := createTestVideo(t, repo)
	textFrames := createTestFrames(t, repo, pendingText.ID, 1)
	require.NoError(t, repo.UpdateFrameContexts(ctx, map[int64]string{textFrames[0].ID: "話題"}))
	require.NoError(t, repo.BatchUpsertEmbeddings(ctx, []*ingestion.FrameEmbedding{
		{FrameID: textFrames[0].ID, Modality: ingestion.ModalityVisual, Vector: []float32{1, 0, 0, 0}, Model: "clip-ViT-B-32"},
	}))

	ids, err := repo.ListVideosPendingEmbeddings(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, pendingVisual.ID)
	assert.Contains(t, ids, pendingText.ID)
	assert.NotContains(t, ids, complete.ID)
	assert.NotContains(t, ids, noFrames.ID)
}

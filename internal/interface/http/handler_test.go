package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/video-rag/internal/core/ingestion"
	"github.com/jinford/video-rag/internal/core/video"
	"github.com/jinford/video-rag/internal/core/visualsearch"
)

type stubVideoService struct {
	video  *video.Video
	videos []*video.Video
	frames []*video.Frame
	err    error

	registeredURL string
	deletedID     uuid.UUID
}

func (s *stubVideoService) Register(ctx context.Context, url string) (*video.Video, error) {
	s.registeredURL = url
	if s.err != nil {
		return nil, s.err
	}
	return s.video, nil
}

func (s *stubVideoService) Get(ctx context.Context, id uuid.UUID) (*video.Video, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.video, nil
}

func (s *stubVideoService) List(ctx context.Context) ([]*video.Video, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.videos, nil
}

func (s *stubVideoService) Delete(ctx context.Context, id uuid.UUID) error {
	s.deletedID = id
	return s.err
}

func (s *stubVideoService) ListFrames(ctx context.Context, videoID uuid.UUID) ([]*video.Frame, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.frames, nil
}

type stubIngestService struct {
	extractResult  *ingestion.ExtractResult
	generateResult *ingestion.GenerateResult
	status         *ingestion.EmbeddingStatus
	err            error

	lastExtract  ingestion.ExtractParams
	lastGenerate ingestion.GenerateParams
}

func (s *stubIngestService) ExtractFrames(ctx context.Context, params ingestion.ExtractParams) (*ingestion.ExtractResult, error) {
	s.lastExtract = params
	if s.err != nil {
		return nil, s.err
	}
	return s.extractResult, nil
}

func (s *stubIngestService) GenerateEmbeddings(ctx context.Context, params ingestion.GenerateParams) (*ingestion.GenerateResult, error) {
	s.lastGenerate = params
	if s.err != nil {
		return nil, s.err
	}
	return s.generateResult, nil
}

func (s *stubIngestService) Status(ctx context.Context, videoID uuid.UUID) (*ingestion.EmbeddingStatus, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.status, nil
}

type stubSearchService struct {
	results []visualsearch.SearchResult
	exists  bool
	err     error

	lastParams visualsearch.SearchParams
}

func (s *stubSearchService) Search(ctx context.Context, params visualsearch.SearchParams) ([]visualsearch.SearchResult, error) {
	s.lastParams = params
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func (s *stubSearchService) EmbeddingsExist(ctx context.Context, videoID uuid.UUID) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.exists, nil
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func newTestHandler(videos VideoService, ingest IngestService, search SearchService, opts ...HandlerOption) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(videos, ingest, search, append([]HandlerOption{WithHandlerLogger(logger)}, opts...)...)
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func testVideo() *video.Video {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &video.Video{
		ID:          uuid.MustParse("5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11"),
		YouTubeID:   "dQw4w9WgXcQ",
		URL:         "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title:       "test video",
		DurationSec: 212,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestHandler_Health(t *testing.T) {
	h := newTestHandler(&stubVideoService{}, &stubIngestService{}, &stubSearchService{})
	r := newTestRouter(h)

	w := doRequest(t, r, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestHandler_RegisterVideo(t *testing.T) {
	t.Run("正常なURLで201と動画を返す", func(t *testing.T) {
		videos := &stubVideoService{video: testVideo()}
		r := newTestRouter(newTestHandler(videos, &stubIngestService{}, &stubSearchService{}))

		w := doRequest(t, r, http.MethodPost, "/api/videos", strings.NewReader(`{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`))

		require.Equal(t, http.StatusCreated, w.Code)
		resp := decodeBody(t, w)
		assert.Equal(t, "5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11", resp["id"])
		assert.Equal(t, "dQw4w9WgXcQ", resp["youtube_id"])
		assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", videos.registeredURL)
	})

	t.Run("不正なJSONボディで400を返す", func(t *testing.T) {
		r := newTestRouter(newTestHandler(&stubVideoService{}, &stubIngestService{}, &stubSearchService{}))

		w := doRequest(t, r, http.MethodPost, "/api/videos", strings.NewReader(`{invalid`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("不正なURLで400を返す", func(t *testing.T) {
		videos := &stubVideoService{err: video.ErrInvalidURL}
		r := newTestRouter(newTestHandler(videos, &stubIngestService{}, &stubSearchService{}))

		w := doRequest(t, r, http.MethodPost, "/api/videos", strings.NewReader(`{"url":"https://example.com/not-youtube"}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeBody(t, w)
		assert.Contains(t, resp["error"], "invalid video URL")
	})
}

func TestHandler_GetVideo(t *testing.T) {
	t.Run("存在する動画を返す", func(t *testing.T) {
		videos := &stubVideoService{video: testVideo()}
		r := newTestRouter(newTestHandler(videos, &stubIngestService{}, &stubSearchService{}))

		w := doRequest(t, r, http.MethodGet, "/api/videos/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11", nil)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeBody(t, w)
		assert.Equal(t, "test video", resp["title"])
		assert.Equal(t, 212.0, resp["duration_sec"])
		assert.Nil(t, resp["media_path"])
	})

	t.Run("不正なIDで400を返す", func(t *testing.T) {
		r := newTestRouter(newTestHandler(&stubVideoService{}, &stubIngestService{}, &stubSearchService{}))

		w := doRequest(t, r, http.MethodGet, "/api/videos/not-a-uuid", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("存在しない動画で404を返す", func(t *testing.T) {
		videos := &stubVideoService{err: video.ErrNotFound}
		r := newTestRouter(newTestHandler(videos, &stubIngestService{}, &stubSearchService{}))

		w := doRequest(t, r, http.MethodGet, "/api/videos/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_ListVideos(t *testing.T) {
	videos := &stubVideoService{videos: []*video.Video{testVideo()}}
	r := newTestRouter(newTestHandler(videos, &stubIngestService{}, &stubSearchService{}))

	w := doRequest(t, r, http.MethodGet, "/api/videos", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	list, ok := resp["videos"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
}

func TestHandler_DeleteVideo(t *testing.T) {
	videos := &stubVideoService{}
	r := newTestRouter(newTestHandler(videos, &stubIngestService{}, &stubSearchService{}))

	w := doRequest(t, r, http.MethodDelete, "/api/videos/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11", videos.deletedID.String())
}

func TestHandler_ListFrames(t *testing.T) {
	videoID := uuid.MustParse("5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11")
	videos := &stubVideoService{frames: []*video.Frame{
		{ID: 1, VideoID: videoID, Timestamp: 0, Path: "data/frames/x/frame_0000.jpg", Context: "intro"},
		{ID: 2, VideoID: videoID, Timestamp: 10, Path: "data/frames/x/frame_0010.jpg"},
	}}
	r := newTestRouter(newTestHandler(videos, &stubIngestService{}, &stubSearchService{}))

	w := doRequest(t, r, http.MethodGet, "/api/videos/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11/frames", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	frames, ok := resp["frames"].([]any)
	require.True(t, ok)
	require.Len(t, frames, 2)
	first, ok := frames[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "intro", first["context"])
	assert.Equal(t, 0.0, first["timestamp"])
}

func TestHandler_EmbeddingsStatus(t *testing.T) {
	videoID := uuid.MustParse("5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11")
	ingest := &stubIngestService{status: &ingestion.EmbeddingStatus{
		VideoID:         videoID,
		FramesExtracted: 42,
		FramesEmbedded:  30,
	}}
	search := &stubSearchService{exists: false}
	r := newTestRouter(newTestHandler(&stubVideoService{}, ingest, search))

	w := doRequest(t, r, http.MethodGet, "/api/videos/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11/embeddings-status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, false, resp["embeddings_exist"])
	assert.Equal(t, 42.0, resp["frames_extracted"])
	assert.Equal(t, 30.0, resp["frames_embedded"])
}

func TestHandler_ExtractFrames(t *testing.T) {
	videoID := uuid.MustParse("5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11")
	result := &ingestion.ExtractResult{VideoID: videoID, FrameCount: 12, ContextsBound: 10}

	t.Run("間隔指定ありで抽出を実行する", func(t *testing.T) {
		ingest := &stubIngestService{extractResult: result}
		r := newTestRouter(newTestHandler(&stubVideoService{}, ingest, &stubSearchService{}))

		w := doRequest(t, r, http.MethodPost, "/api/videos/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11/extract-frames", strings.NewReader(`{"interval":5}`))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 5, ingest.lastExtract.IntervalSec)
		assert.Equal(t, videoID, ingest.lastExtract.VideoID)
		resp := decodeBody(t, w)
		assert.Equal(t, 12.0, resp["frame_count"])
	})

	t.Run("ボディ省略時は間隔0でサービスに委譲する", func(t *testing.T) {
		ingest := &stubIngestService{extractResult: result}
		r := newTestRouter(newTestHandler(&stubVideoService{}, ingest, &stubSearchService{}))

		w := doRequest(t, r, http.MethodPost, "/api/videos/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11/extract-frames", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 0, ingest.lastExtract.IntervalSec)
	})

	t.Run("メディア未取得で400を返す", func(t *testing.T) {
		ingest := &stubIngestService{err: video.ErrMediaNotAvailable}
		r := newTestRouter(newTestHandler(&stubVideoService{}, ingest, &stubSearchService{}))

		w := doRequest(t, r, http.MethodPost, "/api/videos/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11/extract-frames", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_GenerateEmbeddings(t *testing.T) {
	videoID := uuid.MustParse("5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11")
	result := &ingestion.GenerateResult{
		VideoID: videoID,
		Stats:   &ingestion.PipelineStats{TotalFrames: 12, VisualEmbedded: 12, TextEmbedded: 10},
	}

	t.Run("Embedding生成を実行して統計を返す", func(t *testing.T) {
		ingest := &stubIngestService{generateResult: result}
		r := newTestRouter(newTestHandler(&stubVideoService{}, ingest, &stubSearchService{}))

		w := doRequest(t, r, http.MethodPost, "/api/videos/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11/generate-embeddings", strings.NewReader(`{"overwrite":true}`))

		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, ingest.lastGenerate.Overwrite)
		resp := decodeBody(t, w)
		assert.Equal(t, 12.0, resp["total_frames"])
		assert.Equal(t, 10.0, resp["text_embedded"])
	})

	t.Run("フレーム未抽出で400を返す", func(t *testing.T) {
		ingest := &stubIngestService{err: ingestion.ErrNoFrames}
		r := newTestRouter(newTestHandler(&stubVideoService{}, ingest, &stubSearchService{}))

		w := doRequest(t, r, http.MethodPost, "/api/videos/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11/generate-embeddings", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_VisualSearch(t *testing.T) {
	videoID := uuid.MustParse("5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11")

	t.Run("検索結果とメタ情報を返す", func(t *testing.T) {
		search := &stubSearchService{results: []visualsearch.SearchResult{
			{FrameID: 1, Timestamp: 30, Score: 0.92, MatchType: "hybrid", Path: "data/frames/x/frame_0030.jpg"},
			{FrameID: 2, Timestamp: 60, Score: 0.81, MatchType: "hybrid", Path: "data/frames/x/frame_0060.jpg"},
		}}
		r := newTestRouter(newTestHandler(&stubVideoService{}, &stubIngestService{}, search))

		w := doRequest(t, r, http.MethodGet, "/api/visual-search/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11?query=red+car&search_type=hybrid&limit=2", nil)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeBody(t, w)
		assert.Equal(t, "red car", resp["query"])
		assert.Equal(t, "hybrid", resp["search_type"])
		assert.Equal(t, 2.0, resp["total_results"])

		results, ok := resp["results"].([]any)
		require.True(t, ok)
		require.Len(t, results, 2)
		first, ok := results[0].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 1.0, first["frame_id"])
		assert.Equal(t, 0.92, first["score"])
		assert.Equal(t, "hybrid", first["match_type"])

		assert.Equal(t, videoID, search.lastParams.VideoID)
		assert.Equal(t, visualsearch.ModeHybrid, search.lastParams.Mode)
		assert.Equal(t, 2, search.lastParams.Limit)
	})

	t.Run("search_type省略時はハイブリッドで検索する", func(t *testing.T) {
		search := &stubSearchService{}
		r := newTestRouter(newTestHandler(&stubVideoService{}, &stubIngestService{}, search))

		w := doRequest(t, r, http.MethodGet, "/api/visual-search/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11?query=sunset", nil)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeBody(t, w)
		assert.Equal(t, "hybrid", resp["search_type"])
		assert.Equal(t, visualsearch.ModeHybrid, search.lastParams.Mode)
		assert.Equal(t, 0, search.lastParams.Limit)
	})

	t.Run("limitが整数でない場合400を返す", func(t *testing.T) {
		r := newTestRouter(newTestHandler(&stubVideoService{}, &stubIngestService{}, &stubSearchService{}))

		w := doRequest(t, r, http.MethodGet, "/api/visual-search/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11?query=sunset&limit=abc", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("クエリが空の場合400を返す", func(t *testing.T) {
		search := &stubSearchService{err: visualsearch.ErrInvalidQuery}
		r := newTestRouter(newTestHandler(&stubVideoService{}, &stubIngestService{}, search))

		w := doRequest(t, r, http.MethodGet, "/api/visual-search/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("エンコーダ障害で502を返す", func(t *testing.T) {
		search := &stubSearchService{err: visualsearch.ErrEncoder}
		r := newTestRouter(newTestHandler(&stubVideoService{}, &stubIngestService{}, search))

		w := doRequest(t, r, http.MethodGet, "/api/visual-search/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11?query=sunset", nil)

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestHandler_ServeFrame(t *testing.T) {
	framesRoot := t.TempDir()
	frameDir := filepath.Join(framesRoot, "5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11")
	require.NoError(t, os.MkdirAll(frameDir, 0755))
	framePath := filepath.Join(frameDir, "frame_0000.jpg")
	require.NoError(t, os.WriteFile(framePath, []byte("jpeg-bytes"), 0644))

	h := newTestHandler(&stubVideoService{}, &stubIngestService{}, &stubSearchService{}, WithFramesRoot(framesRoot))
	r := newTestRouter(h)

	t.Run("ルート相対パスで画像を配信する", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/frames/file/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11/frame_0000.jpg", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "jpeg-bytes", w.Body.String())
	})

	t.Run("ルートを含む保存済みパスも配信する", func(t *testing.T) {
		path := "/api/frames/file" + framePath
		w := doRequest(t, r, http.MethodGet, path, nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "jpeg-bytes", w.Body.String())
	})

	t.Run("ルート外へのパストラバーサルは403を返す", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/frames/file/placeholder", nil)
		req.URL.Path = "/api/frames/file/../../../etc/passwd"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("存在しないファイルは404を返す", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/frames/file/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11/missing.jpg", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("ディレクトリ指定は404を返す", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/frames/file/5b0c1f34-9a6e-4c7d-8f21-3d2a6b9e0c11", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

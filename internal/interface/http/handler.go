package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jinford/video-rag/internal/core/ingestion"
	"github.com/jinford/video-rag/internal/core/video"
	"github.com/jinford/video-rag/internal/core/visualsearch"
)

// VideoService は動画集約のユースケースを表す
// テスト時のモック用に消費者側で定義
type VideoService interface {
	Register(ctx context.Context, url string) (*video.Video, error)
	Get(ctx context.Context, id uuid.UUID) (*video.Video, error)
	List(ctx context.Context) ([]*video.Video, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListFrames(ctx context.Context, videoID uuid.UUID) ([]*video.Frame, error)
}

// IngestService はフレーム抽出とEmbedding生成のユースケースを表す
type IngestService interface {
	ExtractFrames(ctx context.Context, params ingestion.ExtractParams) (*ingestion.ExtractResult, error)
	GenerateEmbeddings(ctx context.Context, params ingestion.GenerateParams) (*ingestion.GenerateResult, error)
	Status(ctx context.Context, videoID uuid.UUID) (*ingestion.EmbeddingStatus, error)
}

// SearchService は視覚検索のユースケースを表す
type SearchService interface {
	Search(ctx context.Context, params visualsearch.SearchParams) ([]visualsearch.SearchResult, error)
	EmbeddingsExist(ctx context.Context, videoID uuid.UUID) (bool, error)
}

// Handler はREST APIのエンドポイント群を提供する
type Handler struct {
	videos     VideoService
	ingest     IngestService
	search     SearchService
	framesRoot string
	logger     *slog.Logger
}

type handlerOptions struct {
	framesRoot string
	logger     *slog.Logger
}

// HandlerOption は Handler のオプション設定
type HandlerOption func(*handlerOptions)

// WithHandlerLogger はロガーを設定する
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(o *handlerOptions) {
		o.logger = logger
	}
}

// WithFramesRoot はフレーム画像配信のルートディレクトリを設定する
func WithFramesRoot(root string) HandlerOption {
	return func(o *handlerOptions) {
		o.framesRoot = root
	}
}

// NewHandler は新しいHandlerを作成する
func NewHandler(videos VideoService, ingest IngestService, search SearchService, opts ...HandlerOption) *Handler {
	options := handlerOptions{
		framesRoot: "data/frames",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.framesRoot == "" {
		options.framesRoot = "data/frames"
	}

	return &Handler{
		videos:     videos,
		ingest:     ingest,
		search:     search,
		framesRoot: options.framesRoot,
		logger:     options.logger,
	}
}

// RegisterRoutes はエンドポイントをルータに登録する
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	api := r.Group("/api")
	{
		api.GET("/videos", h.listVideos)
		api.POST("/videos", h.registerVideo)
		api.GET("/videos/:id", h.getVideo)
		api.DELETE("/videos/:id", h.deleteVideo)
		api.GET("/videos/:id/frames", h.listFrames)
		api.GET("/videos/:id/embeddings-status", h.embeddingsStatus)
		api.POST("/videos/:id/extract-frames", h.extractFrames)
		api.POST("/videos/:id/generate-embeddings", h.generateEmbeddings)
		api.GET("/visual-search/:id", h.visualSearch)
		api.GET("/frames/file/*path", h.serveFrame)
	}
}

// videoResponse は動画1件のワイヤ形式
type videoResponse struct {
	ID          string    `json:"id"`
	YouTubeID   string    `json:"youtube_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	DurationSec float64   `json:"duration_sec"`
	MediaPath   *string   `json:"media_path"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toVideoResponse(v *video.Video) videoResponse {
	return videoResponse{
		ID:          v.ID.String(),
		YouTubeID:   v.YouTubeID,
		URL:         v.URL,
		Title:       v.Title,
		DurationSec: v.DurationSec,
		MediaPath:   v.MediaPath,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
}

// frameResponse はフレームメタデータ1件のワイヤ形式
type frameResponse struct {
	ID        int64   `json:"id"`
	VideoID   string  `json:"video_id"`
	Timestamp float64 `json:"timestamp"`
	Path      string  `json:"path"`
	Context   string  `json:"context,omitempty"`
}

func toFrameResponse(f *video.Frame) frameResponse {
	return frameResponse{
		ID:        f.ID,
		VideoID:   f.VideoID.String(),
		Timestamp: f.Timestamp,
		Path:      f.Path,
		Context:   f.Context,
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) listVideos(c *gin.Context) {
	videos, err := h.videos.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]videoResponse, 0, len(videos))
	for _, v := range videos {
		resp = append(resp, toVideoResponse(v))
	}
	c.JSON(http.StatusOK, gin.H{"videos": resp})
}

type registerVideoRequest struct {
	URL string `json:"url"`
}

func (h *Handler) registerVideo(c *gin.Context) {
	var req registerVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	v, err := h.videos.Register(c.Request.Context(), req.URL)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toVideoResponse(v))
}

func (h *Handler) getVideo(c *gin.Context) {
	id, ok := h.videoID(c)
	if !ok {
		return
	}

	v, err := h.videos.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVideoResponse(v))
}

func (h *Handler) deleteVideo(c *gin.Context) {
	id, ok := h.videoID(c)
	if !ok {
		return
	}

	if err := h.videos.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listFrames(c *gin.Context) {
	id, ok := h.videoID(c)
	if !ok {
		return
	}

	frames, err := h.videos.ListFrames(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]frameResponse, 0, len(frames))
	for _, f := range frames {
		resp = append(resp, toFrameResponse(f))
	}
	c.JSON(http.StatusOK, gin.H{"video_id": id.String(), "frames": resp})
}

func (h *Handler) embeddingsStatus(c *gin.Context) {
	id, ok := h.videoID(c)
	if !ok {
		return
	}

	status, err := h.ingest.Status(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// 検索パネルの表示制御用。全フレームにEmbeddingが揃った時点でtrueになる
	exists, err := h.search.EmbeddingsExist(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_id":         id.String(),
		"embeddings_exist": exists,
		"frames_extracted": status.FramesExtracted,
		"frames_embedded":  status.FramesEmbedded,
	})
}

type extractFramesRequest struct {
	Interval int `json:"interval"`
}

func (h *Handler) extractFrames(c *gin.Context) {
	id, ok := h.videoID(c)
	if !ok {
		return
	}

	// ボディは省略可能（省略時は設定のデフォルト間隔を使用）
	var req extractFramesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	result, err := h.ingest.ExtractFrames(c.Request.Context(), ingestion.ExtractParams{
		VideoID:     id,
		IntervalSec: req.Interval,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_id":       result.VideoID.String(),
		"frame_count":    result.FrameCount,
		"contexts_bound": result.ContextsBound,
		"skipped":        result.Skipped,
	})
}

type generateEmbeddingsRequest struct {
	Overwrite bool `json:"overwrite"`
}

func (h *Handler) generateEmbeddings(c *gin.Context) {
	id, ok := h.videoID(c)
	if !ok {
		return
	}

	var req generateEmbeddingsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	result, err := h.ingest.GenerateEmbeddings(c.Request.Context(), ingestion.GenerateParams{
		VideoID:   id,
		Overwrite: req.Overwrite,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_id":        result.VideoID.String(),
		"total_frames":    result.Stats.TotalFrames,
		"visual_embedded": result.Stats.VisualEmbedded,
		"text_embedded":   result.Stats.TextEmbedded,
		"failed_frames":   result.Stats.FailedFrames,
	})
}

func (h *Handler) visualSearch(c *gin.Context) {
	id, ok := h.videoID(c)
	if !ok {
		return
	}

	query := c.Query("query")
	searchType := c.DefaultQuery("search_type", string(visualsearch.DefaultMode))

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = parsed
	}

	results, err := h.search.Search(c.Request.Context(), visualsearch.SearchParams{
		VideoID: id,
		Query:   query,
		Mode:    visualsearch.Mode(searchType),
		Limit:   limit,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_id":      id.String(),
		"query":         query,
		"search_type":   searchType,
		"total_results": len(results),
		"results":       results,
	})
}

// serveFrame は抽出済みフレーム画像を配信する
// フレームルート配下に解決されるパスのみ許可する
func (h *Handler) serveFrame(c *gin.Context) {
	// ワイルドカードパラメータは先頭のスラッシュを含む
	rel := filepath.ToSlash(strings.TrimPrefix(c.Param("path"), "/"))

	// 保存済みフレームパス（ルート込み）とルート相対パスの両方を受け付ける
	rootPrefix := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(h.framesRoot)), "/") + "/"
	if strings.HasPrefix(rel, rootPrefix) {
		rel = rel[len(rootPrefix):]
	}

	absRoot, err := filepath.Abs(h.framesRoot)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve frames root"})
		return
	}
	// Joinの時点で".."が解決されるため、ルート外へ出るパスはここで弾かれる
	absTarget, err := filepath.Abs(filepath.Join(h.framesRoot, rel))
	if err != nil || !strings.HasPrefix(absTarget, absRoot+string(filepath.Separator)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	info, err := os.Stat(absTarget)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "frame image not found"})
		return
	}

	c.File(absTarget)
}

// videoID はパスパラメータの動画IDをパースする
// 不正な場合は400を書き込んでfalseを返す
func (h *Handler) videoID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError はサービス層のエラーをHTTPステータスコードに対応付けて返す
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, video.ErrNotFound),
		errors.Is(err, visualsearch.ErrVideoNotFound):
		status = http.StatusNotFound
	case errors.Is(err, visualsearch.ErrInvalidQuery),
		errors.Is(err, visualsearch.ErrInvalidMode),
		errors.Is(err, visualsearch.ErrInvalidLimit),
		errors.Is(err, visualsearch.ErrInvalidWeights),
		errors.Is(err, video.ErrInvalidURL),
		errors.Is(err, video.ErrMediaNotAvailable),
		errors.Is(err, ingestion.ErrNoFrames):
		status = http.StatusBadRequest
	case errors.Is(err, visualsearch.ErrEncoder):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("リクエスト処理に失敗しました",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

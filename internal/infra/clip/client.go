package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jinford/video-rag/internal/core/ingestion"
	"github.com/jinford/video-rag/internal/core/visualsearch"
)

const (
	// DefaultBaseURL はCLIPサイドカーサービスのデフォルトURL
	DefaultBaseURL = "http://localhost:8000"
	// DefaultModel はサイドカーが提供するデフォルトのCLIPモデル
	DefaultModel = "clip-ViT-B-32"
	// DefaultDimension はCLIP ViT-B/32の共有Embedding空間の次元数
	DefaultDimension = 512
	// DefaultTimeout はエンコードリクエストのデフォルトタイムアウト
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBatchSize はサイドカーに一度に送る最大件数
	DefaultMaxBatchSize = 32
)

// Client はCLIPサイドカーサービスのHTTPクライアント
// テキストと画像を同一のEmbedding空間に変換する
// エンコードは冪等なためリトライは行わず、失敗はvisualsearch.ErrEncoderで包んで返す
type Client struct {
	baseURL    string
	model      string
	dimension  int
	maxBatch   int
	httpClient *http.Client
}

type clientOptions struct {
	baseURL    string
	model      string
	dimension  int
	maxBatch   int
	timeout    time.Duration
	httpClient *http.Client
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithBaseURL はサイドカーのベースURLを設定する
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = baseURL
	}
}

// WithModel はモデル名を上書きする
func WithModel(model string) ClientOption {
	return func(o *clientOptions) {
		o.model = model
	}
}

// WithDimension は期待するベクトル次元を上書きする
func WithDimension(dimension int) ClientOption {
	return func(o *clientOptions) {
		o.dimension = dimension
	}
}

// WithTimeout はリクエストタイムアウトを設定する
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

// WithMaxBatchSize はバッチ上限を上書きする
func WithMaxBatchSize(size int) ClientOption {
	return func(o *clientOptions) {
		o.maxBatch = size
	}
}

// WithHTTPClient はHTTPクライアントを差し替える
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

// NewClient は新しい Client を作成する
func NewClient(opts ...ClientOption) *Client {
	options := clientOptions{
		baseURL:   DefaultBaseURL,
		model:     DefaultModel,
		dimension: DefaultDimension,
		maxBatch:  DefaultMaxBatchSize,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.baseURL == "" {
		options.baseURL = DefaultBaseURL
	}
	if options.maxBatch <= 0 {
		options.maxBatch = DefaultMaxBatchSize
	}

	httpClient := options.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: options.timeout}
	}

	return &Client{
		baseURL:    options.baseURL,
		model:      options.model,
		dimension:  options.dimension,
		maxBatch:   options.maxBatch,
		httpClient: httpClient,
	}
}

type encodeTextRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type encodeImageRequest struct {
	// Images はbase64エンコードされた画像データ
	Images []string `json:"images"`
	Model  string   `json:"model,omitempty"`
}

type encodeResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EncodeText は単一テキストを共有Embedding空間のベクトルに変換する
func (c *Client) EncodeText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.BatchEncodeTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", visualsearch.ErrEncoder)
	}
	return vectors[0], nil
}

// BatchEncodeTexts はテキスト群をバッチでベクトルに変換する
func (c *Client) BatchEncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", visualsearch.ErrEncoder)
	}
	if len(texts) > c.maxBatch {
		return nil, fmt.Errorf("%w: batch size %d exceeds maximum of %d", visualsearch.ErrEncoder, len(texts), c.maxBatch)
	}

	vectors, err := c.encode(ctx, "/encode/text", encodeTextRequest{
		Texts: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", visualsearch.ErrEncoder, len(texts), len(vectors))
	}
	return vectors, nil
}

// EncodeImage は単一画像を共有Embedding空間のベクトルに変換する
func (c *Client) EncodeImage(ctx context.Context, image []byte) ([]float32, error) {
	vectors, err := c.BatchEncodeImages(ctx, [][]byte{image})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", visualsearch.ErrEncoder)
	}
	return vectors[0], nil
}

// BatchEncodeImages は画像群をバッチでベクトルに変換する
func (c *Client) BatchEncodeImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no images provided", visualsearch.ErrEncoder)
	}
	if len(images) > c.maxBatch {
		return nil, fmt.Errorf("%w: batch size %d exceeds maximum of %d", visualsearch.ErrEncoder, len(images), c.maxBatch)
	}

	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}

	vectors, err := c.encode(ctx, "/encode/image", encodeImageRequest{
		Images: encoded,
		Model:  c.model,
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(images) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", visualsearch.ErrEncoder, len(images), len(vectors))
	}
	return vectors, nil
}

// encode はサイドカーのエンコードエンドポイントを呼び出す
func (c *Client) encode(ctx context.Context, path string, payload any) ([][]float32, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", visualsearch.ErrEncoder, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", visualsearch.ErrEncoder, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", visualsearch.ErrEncoder, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: unexpected status %d: %s", visualsearch.ErrEncoder, resp.StatusCode, string(body))
	}

	var decoded encodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", visualsearch.ErrEncoder, err)
	}

	if c.dimension > 0 {
		for i, vec := range decoded.Embeddings {
			if len(vec) != c.dimension {
				return nil, fmt.Errorf("%w: embedding %d has dimension %d, expected %d", visualsearch.ErrEncoder, i, len(vec), c.dimension)
			}
		}
	}

	return decoded.Embeddings, nil
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// Dimension はベクトル次元数を返す
func (c *Client) Dimension() int {
	return c.dimension
}

// MaxBatchSize はバッチ処理の最大サイズを返す
func (c *Client) MaxBatchSize() int {
	return c.maxBatch
}

// インターフェース実装の確認
var (
	_ visualsearch.Encoder = (*Client)(nil)
	_ ingestion.Encoder    = (*Client)(nil)
)

package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// CLIPサイドカー設定
	CLIP CLIPConfig

	// OpenAI設定（Embeddings用）
	OpenAI OpenAIConfig

	// Embedding生成の構成
	Embedding EmbeddingConfig

	// メディア・フレームの保存先設定
	Media MediaConfig

	// 検索のデフォルト設定
	Search SearchConfig

	// HTTPサーバ設定
	HTTP HTTPConfig

	// ログ設定
	Log LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// CLIPConfig はCLIPサイドカーサービスの接続設定
type CLIPConfig struct {
	Endpoint           string
	EmbeddingDimension int
	TimeoutSeconds     int
}

// OpenAIConfig はOpenAI API設定（text Embedding用）
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
}

// EmbeddingConfig はEmbedding生成パイプラインの構成
type EmbeddingConfig struct {
	// TextProvider はtext Embeddingの生成元（"clip" or "openai"）
	// デフォルトはclipで、両モダリティが同一Embedding空間を共有する
	TextProvider string
	// Workers はパイプラインのワーカー数
	Workers int
	// BatchSize はエンコーダAPIのバッチサイズ
	BatchSize int
}

// MediaConfig はメディアファイルとフレーム画像の保存先設定
type MediaConfig struct {
	MediaDir             string
	FramesDir            string
	FrameIntervalSeconds int
}

// SearchConfig は視覚検索のデフォルト設定
type SearchConfig struct {
	DefaultLimit int
	// WeightVisual はハイブリッド検索での視覚スコアの重み（テキストは 1 - WeightVisual）
	WeightVisual float64
}

// HTTPConfig はHTTPサーバ設定
type HTTPConfig struct {
	Addr string
}

// LogConfig はログ出力設定
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "videorag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "videorag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		CLIP: CLIPConfig{
			Endpoint:           getEnv("CLIP_ENDPOINT", "http://localhost:8000"),
			EmbeddingDimension: getEnvAsInt("CLIP_EMBEDDING_DIMENSION", 512),
			TimeoutSeconds:     getEnvAsInt("CLIP_TIMEOUT_SECONDS", 30),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
		},
		Embedding: EmbeddingConfig{
			TextProvider: getEnv("TEXT_EMBEDDING_PROVIDER", "clip"),
			Workers:      getEnvAsInt("EMBEDDING_WORKERS", 4),
			BatchSize:    getEnvAsInt("EMBEDDING_BATCH_SIZE", 16),
		},
		Media: MediaConfig{
			MediaDir:             getEnv("MEDIA_DIR", "data/media"),
			FramesDir:            getEnv("FRAMES_DIR", "data/frames"),
			FrameIntervalSeconds: getEnvAsInt("FRAME_INTERVAL_SECONDS", 10),
		},
		Search: SearchConfig{
			DefaultLimit: getEnvAsInt("SEARCH_DEFAULT_LIMIT", 20),
			WeightVisual: getEnvAsFloat("SEARCH_WEIGHT_VISUAL", 0.5),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

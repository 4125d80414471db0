package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	GitHub   GitHubConfig
	Google   GoogleConfig
	Vector   VectorConfig
	Workers  WorkerConfig
}

type ServerConfig struct {
	Port         string
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

type DatabaseConfig struct {
	Path          string
	MigrationsDir string
}

type GitHubConfig struct {
	WebhookCallbackURL string
	WebhookSecret      string
}

type GoogleConfig struct {
	ProjectID       string
	Location        string
	CredentialsFile string
	EmbeddingModel  string
	ChatModel       string
}

type VectorConfig struct {
	MongoURI   string
	Database   string
	Collection string
	IndexName  string
}

type WorkerConfig struct {
	IndexWorkers  int
	ReviewWorkers int
}

var AppConfig *Config

// Load loads configuration from .env file and environment variables
func Load() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Mode:         getEnv("GIN_MODE", "release"),
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 15),
		},
		Database: DatabaseConfig{
			Path:          getEnv("DB_PATH", "./codehorse.db"),
			MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),
		},
		GitHub: GitHubConfig{
			WebhookCallbackURL: getEnv("GITHUB_WEBHOOK_CALLBACK_URL", ""),
			WebhookSecret:      getEnv("GITHUB_WEBHOOK_SECRET", ""),
		},
		Google: GoogleConfig{
			ProjectID:       getEnv("GCP_PROJECT_ID", ""),
			Location:        getEnv("GCP_LOCATION", "us-central1"),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-005"),
			ChatModel:       getEnv("CHAT_MODEL", "gemini-2.0-flash-lite-001"),
		},
		Vector: VectorConfig{
			MongoURI:   getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:   getEnv("MONGO_DATABASE", "codehorse"),
			Collection: getEnv("MONGO_COLLECTION", "code_chunks"),
			IndexName:  getEnv("MONGO_VECTOR_INDEX", "vector_index"),
		},
		Workers: WorkerConfig{
			IndexWorkers:  getEnvAsInt("INDEX_WORKERS", 2),
			ReviewWorkers: getEnvAsInt("REVIEW_WORKERS", 2),
		},
	}

	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Corpora   CorporaConfig
	BIP       BIPConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type LLMConfig struct {
	Provider      string
	ChatModel     string
	RewriteModel  string
	EmbedModel    string
	OllamaBaseURL string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	TimeoutSec    int
}

type CorporaConfig struct {
	StorageDir      string
	GeneralDocsDir  string
	BenefitsDocsDir string
	PoliciesDocsDir string
	GeneralTopK     int
	BenefitsTopK    int
	PoliciesTopK    int
}

type BIPConfig struct {
	ExamplesDir string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type CORSConfig struct {
	AllowOrigins string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Corpus describes one named reference-document collection: where its source
// documents live, and how many matches a retrieval returns.
type Corpus struct {
	Name    string
	DocsDir string
	TopK    int
}

// Corpus names used throughout the service.
const (
	CorpusGeneral  = "general"
	CorpusBenefits = "benefits"
	CorpusPolicies = "bip_policies"
)

// Corpora returns the configured corpus set, keyed by name.
func (c *Config) CorpusSet() map[string]Corpus {
	return map[string]Corpus{
		CorpusGeneral:  {Name: CorpusGeneral, DocsDir: c.Corpora.GeneralDocsDir, TopK: c.Corpora.GeneralTopK},
		CorpusBenefits: {Name: CorpusBenefits, DocsDir: c.Corpora.BenefitsDocsDir, TopK: c.Corpora.BenefitsTopK},
		CorpusPolicies: {Name: CorpusPolicies, DocsDir: c.Corpora.PoliciesDocsDir, TopK: c.Corpora.PoliciesTopK},
	}
}

// OriginsList splits the comma-separated allow-origins setting.
func (c *Config) OriginsList() []string {
	parts := strings.Split(c.CORS.AllowOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/chatcfd")

	viper.SetEnvPrefix("CHATCFD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 180)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("llm.provider", "ollama")
	viper.SetDefault("llm.chatModel", "llama3.1")
	viper.SetDefault("llm.rewriteModel", "llama3.1")
	viper.SetDefault("llm.embedModel", "nomic-embed-text")
	viper.SetDefault("llm.ollamaBaseURL", "http://localhost:11434")
	viper.SetDefault("llm.timeoutSec", 120)

	viper.SetDefault("corpora.storageDir", "./storage")
	viper.SetDefault("corpora.generalDocsDir", "./data/general")
	viper.SetDefault("corpora.benefitsDocsDir", "./data/benefits")
	viper.SetDefault("corpora.policiesDocsDir", "./data/bip_policies")
	viper.SetDefault("corpora.generalTopK", 3)
	viper.SetDefault("corpora.benefitsTopK", 3)
	viper.SetDefault("corpora.policiesTopK", 4)

	viper.SetDefault("bip.examplesDir", "./data/bip_examples")

	viper.SetDefault("sqlite.path", "./data/chatcfd.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("ratelimit.maxRequestsPerMinute", 60)

	viper.SetDefault("cors.allowOrigins", "http://localhost:5173,http://127.0.0.1:5173")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

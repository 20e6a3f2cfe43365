package commands

import (
	"errors"

	"github.com/spf13/viper"

	"evalgo/pkg/core"
)

// Config is the file-backed option surface. Run options live in the
// eval section and mirror the journal's recorded configuration; the
// rest binds datasets and models, which are never resumable.
type Config struct {
	Dataset  string          `mapstructure:"dataset"`
	Task     string          `mapstructure:"task"`
	Solver   string          `mapstructure:"solver"`
	Scorer   string          `mapstructure:"scorer"`
	Format   string          `mapstructure:"format"`
	Output   string          `mapstructure:"output"`
	LogDir   string          `mapstructure:"log_dir"`
	CacheDir string          `mapstructure:"cache_dir"`
	Provider string          `mapstructure:"provider"`
	Model    ModelConfig     `mapstructure:"model"`
	Ollama   OllamaConfig    `mapstructure:"ollama"`
	Eval     core.EvalConfig `mapstructure:"eval"`
}

type ModelConfig struct {
	Name         string `mapstructure:"name"`
	MockResponse string `mapstructure:"mock_response"`
	MaxTokens    int    `mapstructure:"max_tokens"`
}

type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".evalgo")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

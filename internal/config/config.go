package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Pipeline    PipelineConfig            `json:"pipeline"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	FileBaseDir   string `json:"file_base_dir"`
	WorkerCount   int    `json:"worker_count"`
	QueueKey      string `json:"queue_key"`
	MaxUploadMB   int64  `json:"max_upload_mb"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// PipelineConfig tunes the conversion stages.
type PipelineConfig struct {
	MinPageChars       int      `json:"min_page_chars"`       // below this a page is routed through OCR
	ChunkLimit         int      `json:"chunk_limit"`          // max synthesizer input size, in runes
	OCRBinary          string   `json:"ocr_binary"`           // tesseract executable
	RenderBinary       string   `json:"render_binary"`        // pdftoppm executable for page rendering
	SynthEndpoint      string   `json:"synth_endpoint"`       // speech synthesis backend URL
	SynthLanguages     []string `json:"synth_languages"`      // optional allowlist; empty lets the backend decide
	SynthAttempts      int      `json:"synth_attempts"`       // attempts per chunk before the job fails
	SampleRate         int      `json:"sample_rate"`          // assembled track sample rate
	GapMs              int      `json:"gap_ms"`               // injected inter-chunk silence
	MinSilenceMs       int      `json:"min_silence_ms"`       // minimum detected silence duration
	SilenceThreshold   float64  `json:"silence_threshold"`    // amplitude fraction treated as silence
	GeminiAPIKey       string   `json:"gemini_api_key"`
	SummaryModel       string   `json:"summary_model"`
	SummaryMaxChars    int      `json:"summary_max_chars"`
	SummaryInputBudget int      `json:"summary_input_budget"` // model input cap, in runes
	TranslateEnabled   bool     `json:"translate_enabled"`
	LLMTimeoutSec      int      `json:"llm_timeout_sec"`      // summarize/translate call budget
	ResultPreviewChars int      `json:"result_preview_chars"` // stored result_text cap
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.BasicConfig.FileBaseDir) {
		cfg.BasicConfig.FileBaseDir = filepath.Join(filepath.Dir(absPath), cfg.BasicConfig.FileBaseDir)
	}
	return &cfg, nil
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return fmt.Errorf("at least one database must be configured")
	}
	if c.Pipeline.SynthEndpoint == "" {
		return fmt.Errorf("pipeline.synth_endpoint is required")
	}

	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.FileBaseDir == "" {
		c.BasicConfig.FileBaseDir = "./data"
	}
	if c.BasicConfig.WorkerCount <= 0 {
		c.BasicConfig.WorkerCount = 2
	}
	if c.BasicConfig.QueueKey == "" {
		c.BasicConfig.QueueKey = "docvoice:jobs"
	}
	if c.BasicConfig.MaxUploadMB <= 0 {
		c.BasicConfig.MaxUploadMB = 32
	}

	p := &c.Pipeline
	if p.MinPageChars <= 0 {
		p.MinPageChars = 100
	}
	if p.ChunkLimit <= 0 {
		p.ChunkLimit = 200
	}
	if p.OCRBinary == "" {
		p.OCRBinary = "tesseract"
	}
	if p.RenderBinary == "" {
		p.RenderBinary = "pdftoppm"
	}
	if p.SynthAttempts <= 0 {
		p.SynthAttempts = 2
	}
	if p.SampleRate <= 0 {
		p.SampleRate = 22050
	}
	if p.GapMs <= 0 {
		p.GapMs = 300
	}
	if p.MinSilenceMs <= 0 {
		p.MinSilenceMs = 200
	}
	if p.SilenceThreshold <= 0 {
		p.SilenceThreshold = 0.02
	}
	if p.SummaryModel == "" {
		p.SummaryModel = "gemini-2.5-flash"
	}
	if p.SummaryMaxChars <= 0 {
		p.SummaryMaxChars = 1500
	}
	if p.SummaryInputBudget <= 0 {
		p.SummaryInputBudget = 10000
	}
	if p.LLMTimeoutSec <= 0 {
		p.LLMTimeoutSec = 60
	}
	if p.ResultPreviewChars <= 0 {
		p.ResultPreviewChars = 1000
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Runtime
	Env string

	// Extraction service (chat-completions compatible)
	LLMAPIKey     string
	LLMBaseURL    string
	LLMModel      string
	LLMTimeout    time.Duration
	LLMMaxRetries int

	// Pacing between consecutive per-row service calls
	RowCallInterval time.Duration

	// Structural pass
	StructureSampleRows int
	LegendWindowRows    int

	// Limits
	MaxFileBytes       int64
	MaxMediaEntryBytes int64

	// Download
	DownloadTimeout time.Duration

	// Filesystem
	ScratchDir    string
	ImageStoreDir string
	ImageBaseURL  string

	// Persistence
	DatabaseDriver   string
	DatabaseURL      string
	PersistBatchSize int

	// Concurrency
	MaxConcurrentCatalogs int64

	// Image repair runs right after ingestion when set; otherwise only on request
	EagerImageRepair bool

	HeuristicsFile string
	Heuristics     Heuristics
}

// Heuristics holds the empirically tuned thresholds used by the detector and
// the row extractor. None of the values are load-bearing beyond "a row must
// carry some content to be extracted".
type Heuristics struct {
	HeaderScanRows      int                 `yaml:"header_scan_rows"`
	MinHeaderMatches    int                 `yaml:"min_header_matches"`
	MinNonNumericRatio  float64             `yaml:"min_non_numeric_ratio"`
	MaxHeaderCellLen    int                 `yaml:"max_header_cell_len"`
	MinMeaningfulPrices int                 `yaml:"min_meaningful_prices"`
	MinPriceMinorUnits  int64               `yaml:"min_price_minor_units"`
	AnchorTolerance     int                 `yaml:"anchor_tolerance"`
	LegendMarkers       []string            `yaml:"legend_markers"`
	Vocabulary          map[string][]string `yaml:"vocabulary"`
}

func DefaultHeuristics() Heuristics {
	return Heuristics{
		HeaderScanRows:      25,
		MinHeaderMatches:    2,
		MinNonNumericRatio:  0.7,
		MaxHeaderCellLen:    40,
		MinMeaningfulPrices: 1,
		MinPriceMinorUnits:  1,
		AnchorTolerance:     2,
		LegendMarkers:       []string{"LEGENDA", "TABELA DE CORES", "CORES DISPONIVEIS", "TECIDOS", "DEFINICAO DAS CLASSES", "LEGEND"},
		Vocabulary: map[string][]string{
			"price":       {"CLASSE", "CLASS", "PRECO", "PRECOS", "VALOR", "PRICE", "GRUPO", "TECIDO", "CATEGORIA DE PRECO", "R$"},
			"code":        {"COD", "CODIGO", "REF", "REFERENCIA", "SKU", "CODE", "ITEM NO"},
			"dimensions":  {"DIMENSOES", "DIMENSAO", "MEDIDAS", "MEDIDA", "DIMENSIONS", "TAMANHO", "SIZE", "L X P X A", "LXPXA"},
			"model":       {"MODELO", "PRODUTO", "NOME", "NAME", "MODEL", "PRODUCT", "LINHA"},
			"description": {"DESCRICAO", "DESCRIPTION", "DETALHES", "DETALHE", "OBS", "OBSERVACAO", "ACABAMENTO", "VARIACAO"},
			"category":    {"CATEGORIA", "CATEGORY", "TIPO", "FAMILIA"},
		},
	}
}

func Load() Config {
	c := Config{
		Env: envStr("ENV", "development"),

		LLMAPIKey:     envStr("LLM_API_KEY", envStr("OPENROUTER_API_KEY", "")),
		LLMBaseURL:    envStr("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMModel:      envStr("LLM_MODEL", "openai/gpt-4o-mini"),
		LLMTimeout:    envDur("LLM_TIMEOUT", 60*time.Second),
		LLMMaxRetries: envInt("LLM_MAX_RETRIES", 1),

		RowCallInterval: envDur("ROW_CALL_INTERVAL", 250*time.Millisecond),

		StructureSampleRows: envInt("STRUCTURE_SAMPLE_ROWS", 30),
		LegendWindowRows:    envInt("LEGEND_WINDOW_ROWS", 12),

		MaxFileBytes:       int64(envInt("MAX_FILE_BYTES", int(200<<20))),
		MaxMediaEntryBytes: int64(envInt("MAX_MEDIA_ENTRY_BYTES", int(25<<20))),

		DownloadTimeout: envDur("DOWNLOAD_TIMEOUT", 60*time.Second),

		ScratchDir:    envStr("SCRATCH_DIR", os.TempDir()),
		ImageStoreDir: envStr("IMAGE_STORE_DIR", "uploads"),
		ImageBaseURL:  envStr("IMAGE_BASE_URL", "/uploads"),

		DatabaseDriver:   envStr("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:      envStr("DATABASE_URL", "catalogs.db"),
		PersistBatchSize: envInt("PERSIST_BATCH_SIZE", 200),

		MaxConcurrentCatalogs: int64(envInt("MAX_CONCURRENT_CATALOGS", 2)),

		EagerImageRepair: envBool("EAGER_IMAGE_REPAIR", true),

		HeuristicsFile: envStr("HEURISTICS_FILE", ""),
		Heuristics:     DefaultHeuristics(),
	}
	return c
}

// LoadHeuristics overlays the YAML file at path onto the current heuristics.
// Keys absent from the file keep their defaults.
func (c *Config) LoadHeuristics(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read heuristics: %w", err)
	}
	return c.applyHeuristics(b)
}

func (c *Config) applyHeuristics(b []byte) error {
	var overlay Heuristics
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return fmt.Errorf("parse heuristics: %w", err)
	}

	h := &c.Heuristics
	if overlay.HeaderScanRows > 0 {
		h.HeaderScanRows = overlay.HeaderScanRows
	}
	if overlay.MinHeaderMatches > 0 {
		h.MinHeaderMatches = overlay.MinHeaderMatches
	}
	if overlay.MinNonNumericRatio > 0 && overlay.MinNonNumericRatio <= 1 {
		h.MinNonNumericRatio = overlay.MinNonNumericRatio
	}
	if overlay.MaxHeaderCellLen > 0 {
		h.MaxHeaderCellLen = overlay.MaxHeaderCellLen
	}
	if overlay.MinMeaningfulPrices > 0 {
		h.MinMeaningfulPrices = overlay.MinMeaningfulPrices
	}
	if overlay.MinPriceMinorUnits > 0 {
		h.MinPriceMinorUnits = overlay.MinPriceMinorUnits
	}
	if overlay.AnchorTolerance > 0 {
		h.AnchorTolerance = overlay.AnchorTolerance
	}
	if len(overlay.LegendMarkers) > 0 {
		h.LegendMarkers = overlay.LegendMarkers
	}
	for role, words := range overlay.Vocabulary {
		if h.Vocabulary == nil {
			h.Vocabulary = map[string][]string{}
		}
		if len(words) > 0 {
			h.Vocabulary[strings.ToLower(strings.TrimSpace(role))] = words
		}
	}
	return nil
}

func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be one of sqlite, postgres, none (got %q)", c.DatabaseDriver)
	}
	if c.DatabaseDriver != "none" && strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL required for driver %s", c.DatabaseDriver)
	}
	if c.PersistBatchSize <= 0 {
		return fmt.Errorf("PERSIST_BATCH_SIZE must be positive")
	}
	if strings.TrimSpace(c.ImageStoreDir) == "" {
		return fmt.Errorf("IMAGE_STORE_DIR must not be empty")
	}
	return nil
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

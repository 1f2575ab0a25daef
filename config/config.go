package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/perpbot/internal/timeutil"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Symbol    string          `yaml:"symbol"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Paper     PaperConfig     `yaml:"paper"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// IngestConfig controla el worker de ingesta y los backfills.
type IngestConfig struct {
	Timeframes   []int  `yaml:"timeframes"` // minutos
	PollSeconds  int    `yaml:"poll_seconds"`
	BatchLimit   int    `yaml:"batch_limit"`
	BackfillFrom string `yaml:"backfill_from"` // ISO; modo backfill
	BackfillTo   string `yaml:"backfill_to"`
}

// OptimizerConfig controla el grid search y la validación OOS.
type OptimizerConfig struct {
	TrainStart     string  `yaml:"train_start"` // ISO
	TrainEnd       string  `yaml:"train_end"`
	DDLimitPct     float64 `yaml:"dd_limit_pct"`
	OOSTopN        int     `yaml:"oos_top_n"`
	OOSDays        int     `yaml:"oos_days"`
	OOSStart       string  `yaml:"oos_start"` // ISO; vacío = derivada
	OOSEnd         string  `yaml:"oos_end"`
	SaveAllConfigs bool    `yaml:"save_all_configs"`
	Workers        int     `yaml:"workers"`
}

// PaperConfig controla el paper-trade runner.
type PaperConfig struct {
	RunID               string  `yaml:"run_id"`           // retomar
	OptimizerRunID      string  `yaml:"optimizer_run_id"` // origen de configs
	TopN                int     `yaml:"top_n"`
	BalanceStart        float64 `yaml:"balance_start"`
	PollSeconds         int     `yaml:"poll_seconds"`
	SafeLagMin          int     `yaml:"safe_lag_min"` // clamp 0..10
	MinTradesBeforeKill int     `yaml:"min_trades_before_kill"`
	KillMaxDDPct        float64 `yaml:"kill_max_dd_pct"`
	KillMinPF           float64 `yaml:"kill_min_pf"`
	KillMinPnLPct       float64 `yaml:"kill_min_pnl_pct"`
	WebhookURL          string  `yaml:"webhook_url"` // vacío = solo consola
}

// ExchangeConfig contiene los endpoints del exchange.
type ExchangeConfig struct {
	BaseURL string `yaml:"base_url"`
	WSURL   string `yaml:"ws_url"`
	DryRun  bool   `yaml:"dry_run"` // exchange sintético, sin red
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// MetricsConfig controla el listener de /metrics.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío = desactivado
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si
// existe. Las variables de entorno pisan al YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IngestPoll devuelve el intervalo de polling de ingesta.
func (c *Config) IngestPoll() time.Duration {
	return time.Duration(c.Ingest.PollSeconds) * time.Second
}

// PaperPoll devuelve el intervalo de polling del paper runner.
func (c *Config) PaperPoll() time.Duration {
	return time.Duration(c.Paper.PollSeconds) * time.Second
}

// BackfillRange parsea el rango de backfill a epoch ms.
func (c *Config) BackfillRange() (int64, int64, error) {
	start, err := timeutil.ParseISO(c.Ingest.BackfillFrom)
	if err != nil {
		return 0, 0, fmt.Errorf("config.BackfillRange: from: %w", err)
	}
	end, err := timeutil.ParseISO(c.Ingest.BackfillTo)
	if err != nil {
		return 0, 0, fmt.Errorf("config.BackfillRange: to: %w", err)
	}
	return start, end, nil
}

// TrainRange parsea la ventana de entrenamiento del optimizer.
func (c *Config) TrainRange() (int64, int64, error) {
	start, err := timeutil.ParseISO(c.Optimizer.TrainStart)
	if err != nil {
		return 0, 0, fmt.Errorf("config.TrainRange: start: %w", err)
	}
	end, err := timeutil.ParseISO(c.Optimizer.TrainEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("config.TrainRange: end: %w", err)
	}
	return start, end, nil
}

// OOSRange parsea la ventana OOS explícita; (0, 0) si no está configurada.
func (c *Config) OOSRange() (int64, int64, error) {
	if c.Optimizer.OOSStart == "" || c.Optimizer.OOSEnd == "" {
		return 0, 0, nil
	}
	start, err := timeutil.ParseISO(c.Optimizer.OOSStart)
	if err != nil {
		return 0, 0, fmt.Errorf("config.OOSRange: start: %w", err)
	}
	end, err := timeutil.ParseISO(c.Optimizer.OOSEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("config.OOSRange: end: %w", err)
	}
	return start, end, nil
}

// applyEnvOverrides pisa valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	envStr("SYMBOL", &cfg.Symbol)
	envStr("STORAGE_DSN", &cfg.Storage.DSN)
	envStr("METRICS_ADDR", &cfg.Metrics.Addr)
	envStr("LOG_LEVEL", &cfg.Log.Level)
	envStr("LOG_FORMAT", &cfg.Log.Format)

	envInts("INGEST_TIMEFRAMES", &cfg.Ingest.Timeframes)
	envInts("BACKFILL_TIMEFRAMES", &cfg.Ingest.Timeframes)
	envInt("INGEST_POLL_SECONDS", &cfg.Ingest.PollSeconds)
	envInt("POLL_SECONDS", &cfg.Ingest.PollSeconds)
	envStr("BACKFILL_START_TS", &cfg.Ingest.BackfillFrom)
	envStr("BACKFILL_END_TS", &cfg.Ingest.BackfillTo)
	envBool("DRY_RUN", &cfg.Exchange.DryRun)

	envStr("TRAIN_START_TS", &cfg.Optimizer.TrainStart)
	envStr("TRAIN_END_TS", &cfg.Optimizer.TrainEnd)
	envFloat("DD_LIMIT", &cfg.Optimizer.DDLimitPct)
	envInt("OOS_TOP_N", &cfg.Optimizer.OOSTopN)
	envInt("OOS_DAYS", &cfg.Optimizer.OOSDays)
	envStr("OOS_START_TS", &cfg.Optimizer.OOSStart)
	envStr("OOS_END_TS", &cfg.Optimizer.OOSEnd)
	envBool("SAVE_ALL_CONFIGS", &cfg.Optimizer.SaveAllConfigs)

	envStr("PAPER_RUN_ID", &cfg.Paper.RunID)
	envStr("PAPER_OPTIMIZER_RUN_ID", &cfg.Paper.OptimizerRunID)
	envInt("PAPER_TOP_N", &cfg.Paper.TopN)
	envFloat("PAPER_BALANCE_START", &cfg.Paper.BalanceStart)
	envInt("PAPER_POLL_SECONDS", &cfg.Paper.PollSeconds)
	envInt("PAPER_SAFE_LAG_MIN", &cfg.Paper.SafeLagMin)
	envInt("PAPER_MIN_TRADES_BEFORE_KILL", &cfg.Paper.MinTradesBeforeKill)
	envFloat("PAPER_KILL_MAX_DD_PCT", &cfg.Paper.KillMaxDDPct)
	envFloat("PAPER_KILL_MIN_PF", &cfg.Paper.KillMinPF)
	envFloat("PAPER_KILL_MIN_PNL_PCT", &cfg.Paper.KillMinPnLPct)
	envStr("PAPER_WEBHOOK_URL", &cfg.Paper.WebhookURL)
}

// setDefaults asegura valores sensatos para todo lo no configurado.
func setDefaults(cfg *Config) {
	if cfg.Symbol == "" {
		cfg.Symbol = "BTC-PERPETUAL"
	}
	if len(cfg.Ingest.Timeframes) == 0 {
		cfg.Ingest.Timeframes = []int{1, 5, 15, 60}
	}
	if cfg.Ingest.PollSeconds <= 0 {
		cfg.Ingest.PollSeconds = 15
	}
	if cfg.Ingest.BatchLimit <= 0 {
		cfg.Ingest.BatchLimit = 1000
	}
	if cfg.Optimizer.DDLimitPct <= 0 {
		cfg.Optimizer.DDLimitPct = 10
	}
	if cfg.Optimizer.OOSTopN <= 0 {
		cfg.Optimizer.OOSTopN = 3
	}
	if cfg.Optimizer.OOSDays <= 0 {
		cfg.Optimizer.OOSDays = 7
	}
	if cfg.Paper.TopN <= 0 {
		cfg.Paper.TopN = 10
	}
	if cfg.Paper.BalanceStart <= 0 {
		cfg.Paper.BalanceStart = 1000
	}
	if cfg.Paper.PollSeconds <= 0 {
		cfg.Paper.PollSeconds = 15
	}
	// SAFE_LAG fuera de [0, 10] se recorta; por debajo de 1 se pueden
	// llegar a procesar velas aún abiertas, así que 1 es el default.
	if cfg.Paper.SafeLagMin == 0 {
		cfg.Paper.SafeLagMin = 1
	}
	if cfg.Paper.SafeLagMin < 0 {
		cfg.Paper.SafeLagMin = 0
	}
	if cfg.Paper.SafeLagMin > 10 {
		cfg.Paper.SafeLagMin = 10
	}
	if cfg.Paper.MinTradesBeforeKill <= 0 {
		cfg.Paper.MinTradesBeforeKill = 50
	}
	if cfg.Paper.KillMaxDDPct <= 0 {
		cfg.Paper.KillMaxDDPct = 12
	}
	if cfg.Paper.KillMinPF <= 0 {
		cfg.Paper.KillMinPF = 0.8
	}
	if cfg.Paper.KillMinPnLPct == 0 {
		cfg.Paper.KillMinPnLPct = -2
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "perpbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func validate(cfg *Config) error {
	for _, tf := range cfg.Ingest.Timeframes {
		switch tf {
		case 1, 5, 15, 60:
		default:
			return fmt.Errorf("config: unsupported timeframe %d", tf)
		}
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// envInts parsea listas "1,5,15,60".
func envInts(key string, dst *[]int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return // lista malformada: ignorar entera
		}
		out = append(out, n)
	}
	*dst = out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"perp-market/src/engine"
	"perp-market/src/governance"
	"perp-market/src/oracle"
)

type Config struct {
	Server struct {
		Port                  string        `yaml:"port"`
		ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
		MaintenanceMode       bool          `yaml:"maintenance_mode"`
		MaxConcurrentRequests int64         `yaml:"max_concurrent_requests"`
	} `yaml:"server"`

	RateLimit struct {
		Disabled bool    `yaml:"disabled"`
		RPS      float64 `yaml:"rps"`
		Burst    int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	OrderBook struct {
		DefaultDepth int `yaml:"default_depth"`
		MaxDepth     int `yaml:"max_depth"`
	} `yaml:"orderbook"`

	Logging struct {
		Level  string `yaml:"level"`
		File   string `yaml:"file"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Storage struct {
		// Path of the sqlite database; empty keeps everything in memory.
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Group   GroupConfig    `yaml:"group"`
	Markets []MarketConfig `yaml:"markets"`
}

type GroupConfig struct {
	ID             uuid.UUID `yaml:"id"`
	Admin          uuid.UUID `yaml:"admin"`
	PerpsSupported bool      `yaml:"perps_supported"`
	DisabledOps    []string  `yaml:"disabled_ops"`
}

// MarketConfig declares a market created at startup from a stub oracle.
type MarketConfig struct {
	Index        uint16          `yaml:"index"`
	Name         string          `yaml:"name"`
	OraclePrice  decimal.Decimal `yaml:"oracle_price"`
	OracleConfig oracle.Config   `yaml:"oracle_config"`
	BaseDecimals uint8           `yaml:"base_decimals"`
	QuoteLotSize int64           `yaml:"quote_lot_size"`
	BaseLotSize  int64           `yaml:"base_lot_size"`

	MaintBaseAssetWeight decimal.Decimal `yaml:"maint_base_asset_weight"`
	InitBaseAssetWeight  decimal.Decimal `yaml:"init_base_asset_weight"`
	MaintBaseLiabWeight  decimal.Decimal `yaml:"maint_base_liab_weight"`
	InitBaseLiabWeight   decimal.Decimal `yaml:"init_base_liab_weight"`
	MaintPnlAssetWeight  decimal.Decimal `yaml:"maint_pnl_asset_weight"`
	InitPnlAssetWeight   decimal.Decimal `yaml:"init_pnl_asset_weight"`

	LiquidationFee decimal.Decimal `yaml:"liquidation_fee"`
	MakerFee       decimal.Decimal `yaml:"maker_fee"`
	TakerFee       decimal.Decimal `yaml:"taker_fee"`
	FeePenalty     decimal.Decimal `yaml:"fee_penalty"`

	MinFunding     decimal.Decimal `yaml:"min_funding"`
	MaxFunding     decimal.Decimal `yaml:"max_funding"`
	ImpactQuantity int64           `yaml:"impact_quantity"`

	GroupInsuranceFund bool `yaml:"group_insurance_fund"`

	SettleFeeFlat              decimal.Decimal `yaml:"settle_fee_flat"`
	SettleFeeAmountThreshold   decimal.Decimal `yaml:"settle_fee_amount_threshold"`
	SettleFeeFractionLowHealth decimal.Decimal `yaml:"settle_fee_fraction_low_health"`
	SettlePnlLimitFactor       decimal.Decimal `yaml:"settle_pnl_limit_factor"`
	SettlePnlLimitWindowSizeTs uint64          `yaml:"settle_pnl_limit_window_size_ts"`

	StableGrowthLimit  decimal.Decimal `yaml:"stable_growth_limit"`
	BookSideCapacity   int             `yaml:"book_side_capacity"`
	EventQueueCapacity int             `yaml:"event_queue_capacity"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.RateLimit.RPS = 100
	cfg.RateLimit.Burst = 100
	cfg.OrderBook.DefaultDepth = 10
	cfg.OrderBook.MaxDepth = 1000
	cfg.Logging.Level = "info"
	cfg.Group.PerpsSupported = true
	return cfg
}

// Load reads the yaml file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func overrideWithEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if os.Getenv("RATE_LIMIT_DISABLED") == "1" {
		cfg.RateLimit.Disabled = true
	}
	if os.Getenv("MAINTENANCE_MODE") == "1" {
		cfg.Server.MaintenanceMode = true
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS=%q: %w", v, err)
		}
		cfg.RateLimit.RPS = parsed
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SHUTDOWN_TIMEOUT=%q: %w", v, err)
		}
		cfg.Server.ShutdownTimeout = parsed
	}
	if v := os.Getenv("MAX_CONCURRENT_REQUESTS"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_CONCURRENT_REQUESTS=%q: %w", v, err)
		}
		cfg.Server.MaxConcurrentRequests = parsed
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"RATE_LIMIT_BURST", &cfg.RateLimit.Burst},
		{"ORDERBOOK_DEFAULT_DEPTH", &cfg.OrderBook.DefaultDepth},
		{"ORDERBOOK_MAX_DEPTH", &cfg.OrderBook.MaxDepth},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", e.name, v, err)
		}
		*e.dst = parsed
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if !c.RateLimit.Disabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit needs positive rps and burst, got %v/%d", c.RateLimit.RPS, c.RateLimit.Burst)
	}
	if c.OrderBook.DefaultDepth <= 0 || c.OrderBook.MaxDepth < c.OrderBook.DefaultDepth {
		return fmt.Errorf("orderbook depth default %d max %d", c.OrderBook.DefaultDepth, c.OrderBook.MaxDepth)
	}
	if _, err := c.DisabledOps(); err != nil {
		return err
	}

	seen := make(map[uint16]bool, len(c.Markets))
	for _, m := range c.Markets {
		if seen[m.Index] {
			return fmt.Errorf("market index %d declared twice", m.Index)
		}
		seen[m.Index] = true
		if !m.OraclePrice.IsPositive() {
			return fmt.Errorf("market %d needs a positive oracle_price", m.Index)
		}
	}
	return nil
}

func (c *Config) DisabledOps() ([]governance.Op, error) {
	ops := make([]governance.Op, 0, len(c.Group.DisabledOps))
	for _, name := range c.Group.DisabledOps {
		op, err := governance.ParseOp(name)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// EngineGroup fills in random ids for any left unset.
func (c *Config) EngineGroup() engine.Group {
	g := engine.Group{ID: c.Group.ID, Admin: c.Group.Admin, PerpsSupported: c.Group.PerpsSupported}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Admin == uuid.Nil {
		g.Admin = uuid.New()
	}
	return g
}

func (m MarketConfig) Params() engine.CreateParams {
	oracleCfg := m.OracleConfig
	if oracleCfg.ConfFilter.IsZero() {
		oracleCfg = oracle.DefaultConfig()
	}
	return engine.CreateParams{
		PerpMarketIndex:            engine.PerpMarketIndex(m.Index),
		SettleTokenIndex:           engine.QuoteTokenIndex,
		Name:                       m.Name,
		Oracle:                     uuid.NewSHA1(uuid.NameSpaceOID, []byte("stub-oracle/"+m.Name)),
		OracleConfig:               oracleCfg,
		BaseDecimals:               m.BaseDecimals,
		QuoteLotSize:               m.QuoteLotSize,
		BaseLotSize:                m.BaseLotSize,
		MaintBaseAssetWeight:       m.MaintBaseAssetWeight,
		InitBaseAssetWeight:        m.InitBaseAssetWeight,
		MaintBaseLiabWeight:        m.MaintBaseLiabWeight,
		InitBaseLiabWeight:         m.InitBaseLiabWeight,
		MaintPnlAssetWeight:        m.MaintPnlAssetWeight,
		InitPnlAssetWeight:         m.InitPnlAssetWeight,
		LiquidationFee:             m.LiquidationFee,
		MakerFee:                   m.MakerFee,
		TakerFee:                   m.TakerFee,
		FeePenalty:                 m.FeePenalty,
		MinFunding:                 m.MinFunding,
		MaxFunding:                 m.MaxFunding,
		ImpactQuantity:             m.ImpactQuantity,
		GroupInsuranceFund:         m.GroupInsuranceFund,
		SettleFeeFlat:              m.SettleFeeFlat,
		SettleFeeAmountThreshold:   m.SettleFeeAmountThreshold,
		SettleFeeFractionLowHealth: m.SettleFeeFractionLowHealth,
		SettlePnlLimitFactor:       m.SettlePnlLimitFactor,
		SettlePnlLimitWindowSizeTs: m.SettlePnlLimitWindowSizeTs,
		StableGrowthLimit:          m.StableGrowthLimit,
		BookSideCapacity:           m.BookSideCapacity,
		EventQueueCapacity:         m.EventQueueCapacity,
	}
}

// OracleFeed encodes OraclePrice as a stub feed.
func (m MarketConfig) OracleFeed(now uint64) []byte {
	return oracle.StubFeed{
		Mantissa:    m.OraclePrice.Coefficient().Int64(),
		Expo:        m.OraclePrice.Exponent(),
		LastUpdated: int64(now),
	}.Encode()
}

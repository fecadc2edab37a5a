package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Signal lifecycle statuses. A signal displaced by a higher-timeframe
// duplicate expires with replaced_by pointing at its successor.
const (
	SignalStatusActive  = "ACTIVE"
	SignalStatusHitTP   = "HIT_TP"
	SignalStatusHitSL   = "HIT_SL"
	SignalStatusExpired = "EXPIRED"
)

// Paper trade lifecycle statuses
const (
	TradeStatusOpen         = "OPEN"
	TradeStatusClosedTP     = "CLOSED_TP"
	TradeStatusClosedSL     = "CLOSED_SL"
	TradeStatusClosedManual = "CLOSED_MANUAL"
)

// Evaluation run statuses
const (
	RunStatusPending   = "PENDING"
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
	RunStatusCancelled = "CANCELLED"
)

// Evaluation run kinds
const (
	RunKindBacktest    = "backtest"
	RunKindWalkForward = "walkforward"
	RunKindMonteCarlo  = "montecarlo"
	RunKindMLTuning    = "mltuning"
)

// Config record statuses
const (
	ConfigStatusActive   = "ACTIVE"
	ConfigStatusArchived = "ARCHIVED"
)

// Signal is a persisted trading signal
type Signal struct {
	ID            uuid.UUID  `json:"id"`
	Symbol        string     `json:"symbol"`
	Timeframe     string     `json:"timeframe"`
	Direction     string     `json:"direction"`
	MarketType    string     `json:"market_type"`
	Entry         float64    `json:"entry"`
	StopLoss      float64    `json:"stop_loss"`
	TakeProfit    float64    `json:"take_profit"`
	Confidence    float64    `json:"confidence"`
	Status        string     `json:"status"`
	ConfigVersion int        `json:"config_version"`
	Indicators    []byte     `json:"indicators,omitempty"` // snapshot JSONB
	ReplacedBy    *uuid.UUID `json:"replaced_by,omitempty"`
	ExitPrice     *float64   `json:"exit_price,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// PaperTrade is a simulated position opened from a signal
type PaperTrade struct {
	ID         uuid.UUID        `json:"id"`
	SignalID   uuid.UUID        `json:"signal_id"`
	Owner      string           `json:"owner"`
	Symbol     string           `json:"symbol"`
	Direction  string           `json:"direction"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	StopLoss   decimal.Decimal  `json:"stop_loss"`
	TakeProfit decimal.Decimal  `json:"take_profit"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Notional   decimal.Decimal  `json:"notional"`
	Status     string           `json:"status"`
	ExitPrice  *decimal.Decimal `json:"exit_price,omitempty"`
	PnL        *decimal.Decimal `json:"pnl,omitempty"`
	OpenedAt   time.Time        `json:"opened_at"`
	ClosedAt   *time.Time       `json:"closed_at,omitempty"`
}

// AccountSummary aggregates a paper trading account from its trade ledger
type AccountSummary struct {
	Owner       string          `json:"owner"`
	OpenTrades  int             `json:"open_trades"`
	TotalTrades int             `json:"total_trades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	WinRate     float64         `json:"win_rate"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// EvaluationRun tracks one long-running analysis job (backtest, walk-forward,
// Monte Carlo or ML tuning). Results land in JSONB; a handful of headline
// metrics are denormalized for cheap list queries.
type EvaluationRun struct {
	ID        uuid.UUID  `json:"id"`
	Kind      string     `json:"kind"`
	Status    string     `json:"status"`
	Params    []byte     `json:"params"`
	Results   []byte     `json:"results,omitempty"`
	Progress  float64    `json:"progress"`
	Error     *string    `json:"error,omitempty"`
	Heartbeat *time.Time `json:"heartbeat,omitempty"`
	Retries   int        `json:"retries"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// denormalized headline metrics, populated on completion
	TotalTrades  *int     `json:"total_trades,omitempty"`
	WinRate      *float64 `json:"win_rate,omitempty"`
	ProfitFactor *float64 `json:"profit_factor,omitempty"`
	ROIPct       *float64 `json:"roi_pct,omitempty"`
	MaxDrawdown  *float64 `json:"max_drawdown_pct,omitempty"`
	Sharpe       *float64 `json:"sharpe,omitempty"`
}

// ConfigRecord is one versioned signal configuration row
type ConfigRecord struct {
	ID          uuid.UUID  `json:"id"`
	MarketType  string     `json:"market_type"`
	Version     int        `json:"version"`
	Payload     []byte     `json:"payload"` // market.SignalConfig JSONB
	Status      string     `json:"status"`
	ActivatedAt time.Time  `json:"activated_at"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// OptimizationRun audits one continuous-learning cycle
type OptimizationRun struct {
	ID               uuid.UUID `json:"id"`
	MarketType       string    `json:"market_type"`
	Trigger          string    `json:"trigger"`
	BaselineFitness  float64   `json:"baseline_fitness"`
	BestFitness      float64   `json:"best_fitness"`
	ImprovementPct   float64   `json:"improvement_pct"`
	ImprovementFound bool      `json:"improvement_found"`
	CandidatesTested int       `json:"candidates_tested"`
	Promoted         bool      `json:"promoted"`
	Details          []byte    `json:"details,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

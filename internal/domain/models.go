package domain

import "time"

// CycleParams неизменяемые параметры одного торгового цикла,
// сгенерированные рандомизатором. Создаются один раз за цикл.
type CycleParams struct {
	Token       string
	EquityUsage float64
	Leverage    int
	Hold        time.Duration
	Cooldown    time.Duration
}

// BalanceSnapshot баланс аккаунта на бирже. Запрашивается заново
// каждый цикл и никогда не кэшируется между циклами.
type BalanceSnapshot struct {
	Available  float64
	Equity     float64
	MarginUsed float64
	Currency   string
}

// MarketInfo рыночные данные одного инструмента
type MarketInfo struct {
	Symbol          string
	MarkPrice       float64
	IndexPrice      float64
	LastPrice       float64
	BidPrice        float64
	AskPrice        float64
	FundingRate     float64
	NextFundingTime time.Time
	MinOrderSize    float64
	SizeStep        float64
	MaxLeverage     int
}

// PositionInfo открытая позиция на бирже
type PositionInfo struct {
	Symbol           string
	Side             Side
	Size             float64
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	UnrealizedPnL    float64
	Leverage         int
	MarginUsed       float64
}

// OrderRequest запрос на размещение ордера
type OrderRequest struct {
	Symbol      string
	Side        Side
	Quantity    float64
	Type        OrderType
	Price       float64
	Leverage    int
	ReduceOnly  bool
	TimeInForce TimeInForce
	ExternalID  string
}

// OrderResult результат размещения ордера
type OrderResult struct {
	Success    bool
	OrderID    string
	ExternalID string
	Symbol     string
	Side       Side
	Quantity   float64
	FilledQty  float64
	AvgPrice   float64
	Status     OrderStatus
	ErrorCode  string
	ErrorMsg   string
	CreatedAt  time.Time
}

// FundingAnalysis результат сравнения funding rates двух бирж.
// Чисто информационный: окончательный выбор сторон делает рандомизатор.
type FundingAnalysis struct {
	Token                string
	ExtendedRate         float64
	TradeXYZRate         float64
	RateDiff             float64
	Bias                 FundingBias
	RecommendedShort     ExchangeName
	RecommendedLong      ExchangeName
	ExpectedHourlyIncome float64
}

// SizingResult результат расчёта размера позиции.
// Инвариант: FitsConstraints == true тогда и только тогда, когда
// PositionSize > 0, MarginPerLeg > 0 и обе биржи покрывают маржу.
type SizingResult struct {
	Token           string
	PositionSize    float64
	NotionalValue   float64
	MarginPerLeg    float64
	Leverage        int
	EquityUsage     float64
	Price           float64
	FitsConstraints bool
	Notes           []string
}

// RiskSeverity уровень серьёзности риск-проверки
type RiskSeverity int

const (
	RiskLow RiskSeverity = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String возвращает текстовое представление уровня риска
func (r RiskSeverity) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// RiskCheck результат одной риск-проверки
type RiskCheck struct {
	Name     string
	Passed   bool
	Severity RiskSeverity
	Message  string
	Details  map[string]float64
}

// RiskAssessment агрегированная оценка риска перед сделкой.
// OverallRisk = максимум по всем проверкам;
// CanProceed = все проверки прошли и риск не CRITICAL.
type RiskAssessment struct {
	Checks      []RiskCheck
	OverallRisk RiskSeverity
	Passed      bool
	CanProceed  bool
	Issues      []string
	Warnings    []string
}

// ExecutionState состояние атомарного исполнения пары ног
type ExecutionState string

const (
	ExecPending       ExecutionState = "PENDING"
	ExecOpeningFirst  ExecutionState = "OPENING_FIRST"
	ExecOpeningSecond ExecutionState = "OPENING_SECOND"
	ExecComplete      ExecutionState = "COMPLETE"
	ExecRollingBack   ExecutionState = "ROLLING_BACK"
	ExecRolledBack    ExecutionState = "ROLLED_BACK"
	ExecFailed        ExecutionState = "FAILED"
)

// LegErrorKind класс ошибки одной ноги
type LegErrorKind string

const (
	LegErrNone         LegErrorKind = ""
	LegErrRejected     LegErrorKind = "EXCHANGE_REJECTED"
	LegErrTimeout      LegErrorKind = "TIMEOUT"
	LegErrUnexpected   LegErrorKind = "UNEXPECTED"
	LegErrNotAttempted LegErrorKind = "NOT_ATTEMPTED"
)

// LegResult исход одной ноги атомарного действия
type LegResult struct {
	Exchange  ExchangeName
	Symbol    string
	Side      Side
	Size      float64
	Success   bool
	OrderID   string
	FilledQty float64
	AvgPrice  float64
	ErrorKind LegErrorKind
	Error     string
	Warnings  []string
	Duration  time.Duration
}

// ExecutionResult исход атомарного действия на двух биржах.
// Success == true только если обе ноги исполнены.
type ExecutionResult struct {
	State             ExecutionState
	Success           bool
	ExtendedLeg       *LegResult
	TradeXYZLeg       *LegResult
	RollbackPerformed bool
	RollbackSuccess   bool
	Error             string
	StartedAt         time.Time
	FinishedAt        time.Time
}

// CycleResult полный итог одного цикла. Собирается инкрементально
// билдером и замораживается при завершении.
type CycleResult struct {
	CycleID       string
	State         CycleState
	Success       bool
	Params        *CycleParams
	Funding       *FundingAnalysis
	Sizing        *SizingResult
	Risk          *RiskAssessment
	ExtendedSide  Side
	TradeXYZSide  Side
	OpenResult    *ExecutionResult
	CloseResult   *ExecutionResult
	FundingEarned float64
	PnL           *CyclePnL
	FailReason    string
	StartedAt     time.Time
	FinishedAt    time.Time
	HeldFor       time.Duration
}

// CyclePnL разбивка PnL одного цикла
type CyclePnL struct {
	ExtendedPnL    float64
	TradeXYZPnL    float64
	FundingEarned  float64
	FeesEstimated  float64
	NetPnL         float64
	ReturnPercent  float64
	PositionValue  float64
	EstimationMode string // "snapshot" or "simple"
}

// EmergencyAction структурированная запись аварийной ликвидации
type EmergencyAction struct {
	Reason          string
	TriggeredAt     time.Time
	OrdersCancelled map[ExchangeName]int
	PositionsClosed map[ExchangeName]int
	Errors          []string
	Success         bool
}

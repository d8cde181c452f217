package domain

import "time"

// Supported tokens
var SupportedTokens = []string{"BTC", "ETH", "SOL", "HYPE"}

// Token to market symbol mappings
var (
	ExtendedMarkets = map[string]string{
		"BTC":  "BTC-USD",
		"ETH":  "ETH-USD",
		"SOL":  "SOL-USD",
		"HYPE": "HYPE-USD",
	}

	TradeXYZMarkets = map[string]string{
		"BTC":  "BTC",
		"ETH":  "ETH",
		"SOL":  "SOL",
		"HYPE": "HYPE",
	}
)

// ExchangeName идентификатор биржи
type ExchangeName string

const (
	ExchangeExtended ExchangeName = "extended"
	ExchangeTradeXYZ ExchangeName = "tradexyz"
)

// Side направление позиции
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite возвращает противоположное направление
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Order types
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce режим исполнения ордера
type TimeInForce string

const (
	TIFGoodTillCancel    TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFFillOrKill        TimeInForce = "FOK"
)

// Order statuses
type OrderStatus string

const (
	StatusNew       OrderStatus = "NEW"
	StatusFilled    OrderStatus = "FILLED"
	StatusPartial   OrderStatus = "PARTIALLY_FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusPending   OrderStatus = "PENDING"
)

// CycleState состояние торгового цикла
type CycleState string

const (
	StateIdle      CycleState = "IDLE"
	StateOpening   CycleState = "OPENING"
	StateHolding   CycleState = "HOLDING"
	StateClosing   CycleState = "CLOSING"
	StateCooldown  CycleState = "COOLDOWN"
	StateError     CycleState = "ERROR"
	StateEmergency CycleState = "EMERGENCY"
)

// FundingBias сила перекоса funding rate между биржами
type FundingBias string

const (
	BiasNone     FundingBias = "none"
	BiasSmall    FundingBias = "small"
	BiasModerate FundingBias = "moderate"
	BiasLarge    FundingBias = "large"
)

// Funding bias thresholds: границы |rateA - rateB| для категорий перекоса.
// SMALL < 0.01%, MODERATE 0.01%-0.05%, LARGE > 0.05%.
const (
	BiasThresholdModerate = 0.0001
	BiasThresholdLarge    = 0.0005

	// Разница ниже этого порога считается шумом
	MinMeaningfulFundingDiff = 0.00001
)

// Probability weight (доля в пользу "выгодной" биржи) для каждой категории
var BiasWeights = map[FundingBias]float64{
	BiasNone:     0.50,
	BiasSmall:    0.50,
	BiasModerate: 0.60,
	BiasLarge:    0.75,
}

// Default trading parameters (переопределяются через env/профиль)
const (
	DefaultMinEquityUsage = 0.40
	DefaultMaxEquityUsage = 0.80

	DefaultMinLeverage = 10
	DefaultMaxLeverage = 20

	DefaultMinHold     = 1200 * time.Second // 20 минут
	DefaultMaxHold     = 7200 * time.Second // 2 часа
	DefaultMinCooldown = 600 * time.Second  // 10 минут
	DefaultMaxCooldown = 3600 * time.Second // 60 минут

	DefaultMinPositionValueUSD    = 100.0
	DefaultMaxPositionValueUSD    = 100_000.0
	DefaultMinBalanceUSD          = 100.0
	DefaultMaxConsecutiveFailures = 3
	DefaultMaxSlippagePercent     = 0.5
	DefaultRequestsPerMinute      = 600

	DefaultAPITimeout   = 30 * time.Second
	DefaultOrderTimeout = 60 * time.Second
)

// Internal algorithm parameters (не настраиваются пользователем)
const (
	// Финальный размер позиции умножается на этот буфер (запас на slippage и комиссии)
	SafetyBuffer = 0.95

	// Дискретные шаги рандомизации для субпроцентной точности
	RandomizationSteps = 1000

	// Допустимый дисбаланс размеров ног
	SizeImbalanceTolerance = 0.01

	// Интервал safety-проверок во время удержания позиции
	HoldCheckInterval = 30 * time.Second

	// Интервал фонового safety-цикла
	SafetyLoopInterval = 5 * time.Second

	// Funding начисляется раз в 8 часов
	FundingInterval = 8 * time.Hour
)

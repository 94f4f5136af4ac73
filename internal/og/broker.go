package og

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/schema"
	"papertrader/pkg/exception"
)

// Broker executes an order. A returned order with Status Pending is accepted but not filled yet.
type Broker interface {
	Submit(ctx context.Context, order schema.Order) (schema.Order, error)
}

const (
	defaultMinSlippagePct = 0.0005
	defaultMaxSlippagePct = 0.001
)

// SimBrokerConfig controls synthetic fills.
type SimBrokerConfig struct {
	MinSlippagePct float64
	MaxSlippagePct float64
	// PriceDecimals rounds fill prices; 0 keeps two decimals.
	PriceDecimals int32
	// Seed 0 uses the current time.
	Seed int64
}

func (c SimBrokerConfig) withDefaults() SimBrokerConfig {
	if c.MinSlippagePct == 0 && c.MaxSlippagePct == 0 {
		c.MinSlippagePct = defaultMinSlippagePct
		c.MaxSlippagePct = defaultMaxSlippagePct
	}
	if c.PriceDecimals <= 0 {
		c.PriceDecimals = 2
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// Validate checks if the config is usable.
func (c SimBrokerConfig) Validate() error {
	if c.MinSlippagePct < 0 || c.MaxSlippagePct < c.MinSlippagePct || c.MaxSlippagePct >= 1 {
		return fmt.Errorf("invalid sim broker config: slippage range [%v, %v]", c.MinSlippagePct, c.MaxSlippagePct)
	}
	return nil
}

// SimBroker fills every order immediately with direction-biased slippage:
// buys fill above the requested price, sells below.
type SimBroker struct {
	cfg SimBrokerConfig
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimBroker creates a simulated broker.
func NewSimBroker(cfg SimBrokerConfig) (*SimBroker, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SimBroker{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Submit returns the order filled at a slipped price.
func (b *SimBroker) Submit(ctx context.Context, order schema.Order) (schema.Order, error) {
	if err := ctx.Err(); err != nil {
		return order, err
	}
	if order.RequestedPrice <= 0 {
		return order, exception.ErrOrderNoReferencePrice
	}

	slip := decimal.NewFromFloat(b.slippage())
	price := decimal.NewFromFloat(order.RequestedPrice)
	switch order.Action {
	case schema.ActionBuy:
		price = price.Mul(decimal.NewFromInt(1).Add(slip))
	case schema.ActionSell:
		price = price.Mul(decimal.NewFromInt(1).Sub(slip))
	default:
		return order, exception.ErrOrderUnknownAction
	}

	order.FilledPrice = price.Round(b.cfg.PriceDecimals).InexactFloat64()
	order.FilledQuantity = order.Quantity
	order.FilledAt = order.CreatedAt
	order.Status = schema.OrderStatusFilled
	return order, nil
}

func (b *SimBroker) slippage() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	span := b.cfg.MaxSlippagePct - b.cfg.MinSlippagePct
	return b.cfg.MinSlippagePct + b.rng.Float64()*span
}

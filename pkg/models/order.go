package models

type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

type TimeInForce string

const (
	TimeInForcePostOnly          TimeInForce = "PostOnly"
	TimeInForceImmediateOrCancel TimeInForce = "ImmediateOrCancel"
	TimeInForceGoodTillCancel    TimeInForce = "GoodTillCancel"
)

type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "Created"
	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusRejected        OrderStatus = "Rejected"
	OrderStatusPendingCancel   OrderStatus = "PendingCancel"
)

// Band is the closed price interval a resting limit order may be repriced within.
type Band struct {
	Low  float64
	High float64
}

func (b Band) Contains(price float64) bool {
	return price >= b.Low && price <= b.High
}

// Order is the single outstanding limit order tracked by the engine.
// Qty is signed: positive buys, negative sells.
type Order struct {
	ID       string
	Qty      int64
	Price    float64
	Band     Band
	Reduce   bool
	Executed int64 // unsigned, as reported by cum_exec_qty
}

// NewLimitOrder fixes the slippage band around the initial price.
func NewLimitOrder(price float64, qty int64, slippage float64, reduce bool) Order {
	return Order{
		Qty:    qty,
		Price:  price,
		Band:   Band{Low: price - slippage, High: price + slippage},
		Reduce: reduce,
	}
}

// Remaining is the signed quantity not yet executed.
func (o Order) Remaining() int64 {
	if o.Qty < 0 {
		return -Order{Qty: -o.Qty, Executed: o.Executed}.Remaining()
	}
	if o.Executed >= o.Qty {
		return 0
	}
	return o.Qty - o.Executed
}

func (o Order) IsBuy() bool {
	return o.Qty > 0
}

func (o Order) Side() Side {
	if o.Qty > 0 {
		return SideBuy
	}
	return SideSell
}

// OrderRequest is what the gateway sends to the create-order endpoint.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Price       float64
	Qty         int64 // unsigned quantity
	TimeInForce TimeInForce
	ReduceOnly  bool
	LinkID      string
}

// ActiveOrder is an order reported by the exchange as still working.
type ActiveOrder struct {
	OrderID   string
	LinkID    string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     float64
	Qty       int64
	Status    OrderStatus
	CreatedAt string
}

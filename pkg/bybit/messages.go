package bybit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gregtusar/perptrader/pkg/models"
	"github.com/gregtusar/perptrader/pkg/orderbook"
)

const (
	TopicPosition = "position"
	TopicOrder    = "order"

	klinePrefix     = "klineV2."
	orderBookPrefix = "orderBookL2_25."
)

func KlineTopic(interval, symbol string) string {
	return klinePrefix + interval + "." + symbol
}

func OrderBookTopic(symbol string) string {
	return orderBookPrefix + symbol
}

// ParseKlineTopic splits "klineV2.<interval>.<symbol>".
func ParseKlineTopic(topic string) (interval, symbol string, ok bool) {
	if !strings.HasPrefix(topic, klinePrefix) {
		return "", "", false
	}
	interval, symbol, ok = strings.Cut(strings.TrimPrefix(topic, klinePrefix), ".")
	if !ok || interval == "" || symbol == "" {
		return "", "", false
	}
	return interval, symbol, true
}

func IsOrderBookTopic(topic string) bool {
	return strings.HasPrefix(topic, orderBookPrefix)
}

// Number decodes a JSON number that the exchange may also send as a string.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", b, err)
	}
	*n = Number(v)
	return nil
}

func (n Number) Float() float64 { return float64(n) }
func (n Number) Int() int64     { return int64(n) }

// Frame is one inbound stream message. Ack frames carry Success and Request,
// data frames carry Topic and Data.
type Frame struct {
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Request *FrameRequest   `json:"request"`
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

type FrameRequest struct {
	Op   string        `json:"op"`
	Args []interface{} `json:"args"`
}

// ArgStrings renders request args for logging and topic bookkeeping.
func (r *FrameRequest) ArgStrings() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Args))
	for _, a := range r.Args {
		out = append(out, fmt.Sprint(a))
	}
	return out
}

func (f *Frame) IsAck() bool {
	return f.Success != nil
}

func DecodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if !f.IsAck() && f.Topic == "" {
		return nil, fmt.Errorf("%w: neither ack nor topic", ErrMalformedFrame)
	}
	return &f, nil
}

// outbound stream request
type request struct {
	Op   string        `json:"op"`
	Args []interface{} `json:"args,omitempty"`
}

type positionItem struct {
	Side       string `json:"side"`
	Size       Number `json:"size"`
	EntryPrice Number `json:"entry_price"`
	LiqPrice   Number `json:"liq_price"`
	Leverage   Number `json:"leverage"`
}

func (p positionItem) snapshot() models.PositionSnapshot {
	return models.PositionSnapshot{
		Side:       models.Side(p.Side),
		Size:       p.Size.Int(),
		EntryPrice: p.EntryPrice.Float(),
		LiqPrice:   p.LiqPrice.Float(),
		Leverage:   p.Leverage.Float(),
	}
}

// DecodePositions parses the data array of a position frame.
func DecodePositions(data json.RawMessage) ([]models.PositionSnapshot, error) {
	var items []positionItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: position: %v", ErrMalformedFrame, err)
	}
	out := make([]models.PositionSnapshot, 0, len(items))
	for _, it := range items {
		out = append(out, it.snapshot())
	}
	return out, nil
}

// OrderEvent is one entry of an order frame.
type OrderEvent struct {
	OrderID     string             `json:"order_id"`
	OrderLinkID string             `json:"order_link_id"`
	Side        models.Side        `json:"side"`
	OrderType   models.OrderType   `json:"order_type"`
	Status      models.OrderStatus `json:"order_status"`
	Price       Number             `json:"price"`
	Qty         Number             `json:"qty"`
	CumExecQty  Number             `json:"cum_exec_qty"`
}

func DecodeOrders(data json.RawMessage) ([]OrderEvent, error) {
	var items []OrderEvent
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: order: %v", ErrMalformedFrame, err)
	}
	return items, nil
}

// KlineEvent is one entry of a kline frame.
type KlineEvent struct {
	Candle  models.Candle
	Confirm bool
}

type klineItem struct {
	Start   int64  `json:"start"`
	Open    Number `json:"open"`
	High    Number `json:"high"`
	Low     Number `json:"low"`
	Close   Number `json:"close"`
	Volume  Number `json:"volume"`
	Confirm bool   `json:"confirm"`
}

func DecodeKlines(data json.RawMessage) ([]KlineEvent, error) {
	var items []klineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: kline: %v", ErrMalformedFrame, err)
	}
	out := make([]KlineEvent, 0, len(items))
	for _, it := range items {
		out = append(out, KlineEvent{
			Candle: models.Candle{
				Open:      it.Open.Float(),
				High:      it.High.Float(),
				Low:       it.Low.Float(),
				Close:     it.Close.Float(),
				Volume:    it.Volume.Float(),
				Timestamp: it.Start,
			},
			Confirm: it.Confirm,
		})
	}
	return out, nil
}

type levelItem struct {
	ID    int64  `json:"id"`
	Side  string `json:"side"`
	Price Number `json:"price"`
	Size  int64  `json:"size"`
}

func (l levelItem) level() models.OrderBookLevel {
	return models.OrderBookLevel{ID: l.ID, Side: models.Side(l.Side), Price: l.Price.Float(), Size: l.Size}
}

func levels(items []levelItem) []models.OrderBookLevel {
	out := make([]models.OrderBookLevel, 0, len(items))
	for _, it := range items {
		out = append(out, it.level())
	}
	return out
}

// DecodeBookSnapshot accepts either a bare level array or {"order_book": [...]}.
func DecodeBookSnapshot(data json.RawMessage) ([]models.OrderBookLevel, error) {
	var items []levelItem
	if err := json.Unmarshal(data, &items); err == nil {
		return levels(items), nil
	}

	var wrapped struct {
		OrderBook []levelItem `json:"order_book"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: book snapshot: %v", ErrMalformedFrame, err)
	}
	return levels(wrapped.OrderBook), nil
}

func DecodeBookDelta(data json.RawMessage) (orderbook.Delta, error) {
	var d struct {
		Delete []levelItem `json:"delete"`
		Update []levelItem `json:"update"`
		Insert []levelItem `json:"insert"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return orderbook.Delta{}, fmt.Errorf("%w: book delta: %v", ErrMalformedFrame, err)
	}
	return orderbook.Delta{
		Delete: levels(d.Delete),
		Update: levels(d.Update),
		Insert: levels(d.Insert),
	}, nil
}

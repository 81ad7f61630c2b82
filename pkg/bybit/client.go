package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gregtusar/perptrader/pkg/models"
)

const (
	MainnetRESTURL = "https://api.bybit.com"
	TestnetRESTURL = "https://api-testnet.bybit.com"

	endpointKline       = "/v2/public/kline/list"
	endpointPosition    = "/v2/private/position/list"
	endpointActiveOrder = "/v2/private/order"
	endpointCancelAll   = "/v2/private/order/cancelAll"
	endpointCreate      = "/v2/private/order/create"
	endpointReplace     = "/open-api/order/replace"
	endpointCancel      = "/v2/private/order/cancel"

	klineBatchSize = 200
)

// order-gone codes on replace/cancel: the order already terminated
var goneCodes = []int{CodeOrderNotExists, CodeOrderFinished, CodeOrderAlreadyCanceled}

type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Testnet   bool

	RequestLookahead time.Duration
	RateLimit        float64 // requests per second, <= 0 disables limiting
	RateBurst        int
	Timeout          time.Duration
}

// Client is the signed REST gateway.
type Client struct {
	baseURL    string
	signer     *Signer
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Entry
	now        func() time.Time
}

func NewClient(cfg ClientConfig, logger *logrus.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = MainnetRESTURL
		if cfg.Testnet {
			baseURL = TestnetRESTURL
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    baseURL,
		signer:     NewSigner(cfg.APIKey, cfg.APISecret, cfg.RequestLookahead),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.WithField("component", "rest"),
		now:        time.Now,
	}
}

// Signer exposes the client's signer so the stream session authenticates with the same credentials.
func (c *Client) Signer() *Signer {
	return c.signer
}

type envelope struct {
	RetCode int             `json:"ret_code"`
	RetMsg  string          `json:"ret_msg"`
	ExtCode string          `json:"ext_code"`
	Result  json.RawMessage `json:"result"`
	TimeNow string          `json:"time_now"`
}

// doRequest sends one call. Transport failures are returned as plain errors;
// anything the exchange answered unexpectedly comes back as *APIError.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, params Params, signed bool, accept ...int) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s %s: rate limiter: %w", method, endpoint, err)
	}

	if signed {
		params = c.signer.SignParams(params)
	}

	var req *http.Request
	var err error
	switch method {
	case http.MethodGet:
		target := c.baseURL + endpoint
		if len(params) > 0 {
			target += "?" + params.Query()
		}
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	case http.MethodPost:
		// JSON body, while the signature still covers the key=value form
		body, merr := json.Marshal(params)
		if merr != nil {
			return nil, fmt.Errorf("marshal request: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		return nil, fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	log := c.logger.WithFields(logrus.Fields{
		"method":   method,
		"endpoint": endpoint,
		"params":   params.Redacted().Canonical(),
	})
	log.Debug("Sending request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("Request failed")
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, endpoint, err)
	}
	log = log.WithFields(logrus.Fields{"http_status": resp.StatusCode, "duration": time.Since(start)})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Endpoint: endpoint, HTTPStatus: resp.StatusCode, Message: string(respBody)}
		log.WithError(apiErr).Error("Bad HTTP status")
		return nil, apiErr
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		apiErr := &APIError{Endpoint: endpoint, HTTPStatus: resp.StatusCode, Code: -1, Message: "decode envelope: " + err.Error()}
		log.WithError(apiErr).Error("Undecodable response")
		return nil, apiErr
	}

	log = log.WithFields(logrus.Fields{"ret_code": env.RetCode, "ret_msg": env.RetMsg})
	if !accepted(env.RetCode, accept) {
		apiErr := &APIError{Endpoint: endpoint, HTTPStatus: resp.StatusCode, Code: env.RetCode, Message: env.RetMsg}
		log.Error("Unexpected result code")
		return nil, apiErr
	}
	if env.RetCode != CodeOK {
		log.Info("Accepted non-zero result code")
	} else {
		log.Debug("Request completed")
	}
	return &env, nil
}

func decodeResult(env *envelope, endpoint string, out interface{}) error {
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &APIError{Endpoint: endpoint, HTTPStatus: http.StatusOK, Code: env.RetCode, Message: "decode result: " + err.Error()}
	}
	return nil
}

type klineItemREST struct {
	OpenTime int64  `json:"open_time"`
	Open     Number `json:"open"`
	High     Number `json:"high"`
	Low      Number `json:"low"`
	Close    Number `json:"close"`
	Volume   Number `json:"volume"`
}

// GetCandles loads enough history to cover tf.RequestedBars, in batches of 200.
// The newest bar is still forming and is dropped.
func (c *Client) GetCandles(ctx context.Context, symbol string, tf models.TimeFrame) ([]models.Candle, error) {
	from := c.now().Unix() - int64(tf.TicksPerBar)*int64(tf.RequestedBars+1)*60
	batches := int(math.Ceil(float64(tf.RequestedBars+1) / klineBatchSize))

	candles := make([]models.Candle, 0, tf.RequestedBars+1)
	for i := 0; i < batches; i++ {
		params := Params{
			"symbol":   symbol,
			"interval": tf.Symbol,
			"from":     strconv.FormatInt(from, 10),
			"limit":    strconv.Itoa(klineBatchSize),
		}
		env, err := c.doRequest(ctx, http.MethodGet, endpointKline, params, false)
		if err != nil {
			return nil, fmt.Errorf("get candles %s: %w", tf.Symbol, err)
		}

		var items []klineItemREST
		if err := decodeResult(env, endpointKline, &items); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		for _, it := range items {
			candles = append(candles, models.Candle{
				Open:      it.Open.Float(),
				High:      it.High.Float(),
				Low:       it.Low.Float(),
				Close:     it.Close.Float(),
				Volume:    it.Volume.Float(),
				Timestamp: it.OpenTime,
			})
		}
		from = candles[len(candles)-1].Timestamp + 1
	}

	if len(candles) > 0 {
		candles = candles[:len(candles)-1]
	}
	return candles, nil
}

// GetPosition fetches the position snapshot for symbol.
func (c *Client) GetPosition(ctx context.Context, symbol string) (models.PositionSnapshot, error) {
	env, err := c.doRequest(ctx, http.MethodGet, endpointPosition, Params{"symbol": symbol}, true)
	if err != nil {
		return models.PositionSnapshot{}, fmt.Errorf("get position: %w", err)
	}
	var item positionItem
	if err := decodeResult(env, endpointPosition, &item); err != nil {
		return models.PositionSnapshot{}, err
	}
	return item.snapshot(), nil
}

type activeOrderItem struct {
	OrderID     string `json:"order_id"`
	OrderLinkID string `json:"order_link_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"order_type"`
	Price       Number `json:"price"`
	Qty         Number `json:"qty"`
	OrderStatus string `json:"order_status"`
	CreatedAt   string `json:"created_at"`
}

// GetActiveOrders lists orders still working on the exchange.
func (c *Client) GetActiveOrders(ctx context.Context, symbol string) ([]models.ActiveOrder, error) {
	env, err := c.doRequest(ctx, http.MethodGet, endpointActiveOrder, Params{"symbol": symbol}, true)
	if err != nil {
		return nil, fmt.Errorf("get active orders: %w", err)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil, nil
	}
	var items []activeOrderItem
	if err := decodeResult(env, endpointActiveOrder, &items); err != nil {
		return nil, err
	}
	out := make([]models.ActiveOrder, 0, len(items))
	for _, it := range items {
		out = append(out, models.ActiveOrder{
			OrderID:   it.OrderID,
			LinkID:    it.OrderLinkID,
			Symbol:    it.Symbol,
			Side:      models.Side(it.Side),
			Type:      models.OrderType(it.OrderType),
			Price:     it.Price.Float(),
			Qty:       it.Qty.Int(),
			Status:    models.OrderStatus(it.OrderStatus),
			CreatedAt: it.CreatedAt,
		})
	}
	return out, nil
}

// CancelAllOrders cancels every active order on symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	if _, err := c.doRequest(ctx, http.MethodPost, endpointCancelAll, Params{"symbol": symbol}, true); err != nil {
		return fmt.Errorf("cancel all orders: %w", err)
	}
	return nil
}

// CreateResult is the outcome of an accepted create-order call. OrderID is
// empty when the exchange answered with an accepted non-zero code.
type CreateResult struct {
	OrderID string
	LinkID  string
	Code    int
}

// CreateOrder submits a market or post-only limit order.
func (c *Client) CreateOrder(ctx context.Context, req models.OrderRequest) (CreateResult, error) {
	if req.LinkID == "" {
		req.LinkID = uuid.NewString()
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = models.TimeInForceImmediateOrCancel
		if req.Type == models.OrderTypeLimit {
			tif = models.TimeInForcePostOnly
		}
	}

	params := Params{
		"order_type":    string(req.Type),
		"qty":           strconv.FormatInt(req.Qty, 10),
		"side":          string(req.Side),
		"symbol":        req.Symbol,
		"time_in_force": string(tif),
		"order_link_id": req.LinkID,
	}
	if req.Type == models.OrderTypeLimit {
		params["price"] = FormatPrice(req.Price)
	}
	if req.ReduceOnly {
		params["reduce_only"] = "true"
	}

	// a reduce-only market close racing a fill reports 30063
	var accept []int
	if req.ReduceOnly && req.Type == models.OrderTypeMarket {
		accept = []int{CodeReduceOnlyViolated}
	}

	env, err := c.doRequest(ctx, http.MethodPost, endpointCreate, params, true, accept...)
	if err != nil {
		return CreateResult{}, fmt.Errorf("create order: %w", err)
	}

	result := CreateResult{LinkID: req.LinkID, Code: env.RetCode}
	if env.RetCode != CodeOK {
		return result, nil
	}
	var created struct {
		OrderID string `json:"order_id"`
	}
	if err := decodeResult(env, endpointCreate, &created); err != nil {
		return CreateResult{}, err
	}
	result.OrderID = created.OrderID
	return result, nil
}

// ReplaceOrder amends the price of a working order. gone is true when the
// exchange reports the order already terminated.
func (c *Client) ReplaceOrder(ctx context.Context, symbol, orderID string, price float64) (gone bool, err error) {
	params := Params{
		"order_id":  orderID,
		"p_r_price": FormatPrice(price),
		"symbol":    symbol,
	}
	env, err := c.doRequest(ctx, http.MethodPost, endpointReplace, params, true, goneCodes...)
	if err != nil {
		return false, fmt.Errorf("replace order: %w", err)
	}
	return env.RetCode != CodeOK, nil
}

// CancelOrder cancels a working order. An order that is already gone counts as cancelled.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (gone bool, err error) {
	params := Params{
		"order_id": orderID,
		"symbol":   symbol,
	}
	env, err := c.doRequest(ctx, http.MethodPost, endpointCancel, params, true, goneCodes...)
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}
	return env.RetCode != CodeOK, nil
}

// FormatPrice renders a price without binary floating point noise.
func FormatPrice(price float64) string {
	return decimal.NewFromFloat(price).String()
}

package coinbase

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange"
)

// Wire types for the Advanced Trade API. Numbers arrive as strings.

type createOrderRequest struct {
	ClientOrderID      string             `json:"client_order_id"`
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"`
	OrderConfiguration orderConfiguration `json:"order_configuration"`
}

type orderConfiguration struct {
	MarketIOC *marketIOC `json:"market_market_ioc,omitempty"`
	LimitGTC  *limitGTC  `json:"limit_limit_gtc,omitempty"`
}

type marketIOC struct {
	QuoteSize string `json:"quote_size,omitempty"`
	BaseSize  string `json:"base_size,omitempty"`
}

type limitGTC struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
	PostOnly   bool   `json:"post_only"`
}

type createOrderResponse struct {
	Success         bool `json:"success"`
	SuccessResponse struct {
		OrderID       string `json:"order_id"`
		ProductID     string `json:"product_id"`
		Side          string `json:"side"`
		ClientOrderID string `json:"client_order_id"`
	} `json:"success_response"`
	ErrorResponse struct {
		Error                 string `json:"error"`
		Message               string `json:"message"`
		ErrorDetails          string `json:"error_details"`
		PreviewFailureReason  string `json:"preview_failure_reason"`
		NewOrderFailureReason string `json:"new_order_failure_reason"`
	} `json:"error_response"`
}

type batchCancelRequest struct {
	OrderIDs []string `json:"order_ids"`
}

type batchCancelResponse struct {
	Results []struct {
		Success       bool   `json:"success"`
		FailureReason string `json:"failure_reason"`
		OrderID       string `json:"order_id"`
	} `json:"results"`
}

type wireOrder struct {
	OrderID            string             `json:"order_id"`
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"`
	ClientOrderID      string             `json:"client_order_id"`
	Status             string             `json:"status"`
	OrderType          string             `json:"order_type"`
	CreatedTime        time.Time          `json:"created_time"`
	FilledSize         string             `json:"filled_size"`
	AverageFilledPrice string             `json:"average_filled_price"`
	TotalFees          string             `json:"total_fees"`
	RejectReason       string             `json:"reject_reason"`
	OrderConfiguration orderConfiguration `json:"order_configuration"`
}

type getOrderResponse struct {
	Order wireOrder `json:"order"`
}

type listOrdersResponse struct {
	Orders  []wireOrder `json:"orders"`
	HasNext bool        `json:"has_next"`
	Cursor  string      `json:"cursor"`
}

type wireFill struct {
	EntryID            string    `json:"entry_id"`
	TradeID            string    `json:"trade_id"`
	OrderID            string    `json:"order_id"`
	TradeTime          time.Time `json:"trade_time"`
	Price              string    `json:"price"`
	Size               string    `json:"size"`
	Commission         string    `json:"commission"`
	ProductID          string    `json:"product_id"`
	LiquidityIndicator string    `json:"liquidity_indicator"`
	SizeInQuote        bool      `json:"size_in_quote"`
	Side               string    `json:"side"`
	ClientOrderID      string    `json:"client_order_id"`
}

type listFillsResponse struct {
	Fills  []wireFill `json:"fills"`
	Cursor string     `json:"cursor"`
}

type wireAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type wireAccount struct {
	UUID             string     `json:"uuid"`
	Currency         string     `json:"currency"`
	AvailableBalance wireAmount `json:"available_balance"`
	Hold             wireAmount `json:"hold"`
}

type listAccountsResponse struct {
	Accounts []wireAccount `json:"accounts"`
	HasNext  bool          `json:"has_next"`
	Cursor   string        `json:"cursor"`
}

type wireProduct struct {
	ProductID       string `json:"product_id"`
	Price           string `json:"price"`
	BaseIncrement   string `json:"base_increment"`
	QuoteIncrement  string `json:"quote_increment"`
	PriceIncrement  string `json:"price_increment"`
	BaseMinSize     string `json:"base_min_size"`
	BaseMaxSize     string `json:"base_max_size"`
	QuoteMinSize    string `json:"quote_min_size"`
	MinMarketFunds  string `json:"min_market_funds"`
	Status          string `json:"status"`
	TradingDisabled bool   `json:"trading_disabled"`
	CancelOnly      bool   `json:"cancel_only"`
	LimitOnly       bool   `json:"limit_only"`
	PostOnly        bool   `json:"post_only"`
	IsDisabled      bool   `json:"is_disabled"`
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wirePriceBook struct {
	ProductID string      `json:"product_id"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
	Time      time.Time   `json:"time"`
}

type bestBidAskResponse struct {
	PriceBooks []wirePriceBook `json:"pricebooks"`
}

type productBookResponse struct {
	PriceBook wirePriceBook `json:"pricebook"`
}

type wireCandle struct {
	Start  string `json:"start"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

type candlesResponse struct {
	Candles []wireCandle `json:"candles"`
}

// num parses a decimal string; empty or malformed values read as zero.
func num(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func toSide(s string) domain.Side {
	return domain.Side(strings.ToUpper(s))
}

func toStatus(s string) exchange.OrderStatus {
	switch strings.ToUpper(s) {
	case "PENDING", "QUEUED":
		return exchange.StatusPending
	case "OPEN":
		return exchange.StatusOpen
	case "FILLED":
		return exchange.StatusFilled
	case "CANCELLED", "CANCEL_QUEUED":
		return exchange.StatusCancelled
	case "EXPIRED":
		return exchange.StatusExpired
	case "FAILED":
		return exchange.StatusFailed
	}
	return exchange.StatusUnknown
}

func (w wireOrder) toOrder() exchange.Order {
	o := exchange.Order{
		OrderID:        w.OrderID,
		ClientOrderID:  w.ClientOrderID,
		Symbol:         w.ProductID,
		Side:           toSide(w.Side),
		Status:         toStatus(w.Status),
		FilledSize:     num(w.FilledSize),
		AvgFilledPrice: num(w.AverageFilledPrice),
		TotalFees:      num(w.TotalFees),
		RejectReason:   w.RejectReason,
		CreatedAt:      w.CreatedTime,
	}
	switch {
	case w.OrderConfiguration.LimitGTC != nil:
		o.Type = domain.OrderTypePostOnlyLimit
		o.BaseSize = num(w.OrderConfiguration.LimitGTC.BaseSize)
		o.LimitPrice = num(w.OrderConfiguration.LimitGTC.LimitPrice)
	case w.OrderConfiguration.MarketIOC != nil:
		o.Type = domain.OrderTypeMarket
		o.BaseSize = num(w.OrderConfiguration.MarketIOC.BaseSize)
		o.QuoteSize = num(w.OrderConfiguration.MarketIOC.QuoteSize)
	}
	return o
}

func (w wireFill) toFill() domain.Fill {
	price := num(w.Price)
	size := num(w.Size)
	if w.SizeInQuote && price > 0 {
		size = size / price
	}
	id := w.EntryID
	if id == "" {
		id = w.TradeID
	}
	liq := domain.LiquidityTaker
	if strings.EqualFold(w.LiquidityIndicator, "MAKER") {
		liq = domain.LiquidityMaker
	}
	return domain.Fill{
		FillID:        id,
		OrderID:       w.OrderID,
		ClientOrderID: w.ClientOrderID,
		Symbol:        w.ProductID,
		Side:          toSide(w.Side),
		Price:         price,
		Size:          size,
		Liquidity:     liq,
		ReportedFee:   num(w.Commission),
		Time:          w.TradeTime,
	}
}

func (w wireProduct) toProduct() domain.Product {
	status := domain.ProductStatus(strings.ToLower(w.Status))
	minFunds := num(w.MinMarketFunds)
	if minFunds == 0 {
		minFunds = num(w.QuoteMinSize)
	}
	priceInc := num(w.PriceIncrement)
	if priceInc == 0 {
		priceInc = num(w.QuoteIncrement)
	}
	return domain.Product{
		Symbol:          w.ProductID,
		BaseIncrement:   num(w.BaseIncrement),
		QuoteIncrement:  num(w.QuoteIncrement),
		PriceIncrement:  priceInc,
		BaseMinSize:     num(w.BaseMinSize),
		BaseMaxSize:     num(w.BaseMaxSize),
		MinMarketFunds:  minFunds,
		Status:          status,
		TradingDisabled: w.TradingDisabled || w.IsDisabled,
		CancelOnly:      w.CancelOnly,
		LimitOnly:       w.LimitOnly,
		PostOnly:        w.PostOnly,
	}
}

func toLevels(in []wireLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.BookLevel{Price: num(l.Price), Size: num(l.Size)})
	}
	return out
}

func (w wireCandle) toCandle() domain.Candle {
	sec, _ := strconv.ParseInt(w.Start, 10, 64)
	return domain.Candle{
		Start:  time.Unix(sec, 0).UTC(),
		Open:   num(w.Open),
		High:   num(w.High),
		Low:    num(w.Low),
		Close:  num(w.Close),
		Volume: num(w.Volume),
	}
}

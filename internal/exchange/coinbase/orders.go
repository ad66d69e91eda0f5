package coinbase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange"
)

// PlaceOrder submits one order. Coinbase treats client_order_id as an
// idempotency key, so a retried submission returns the original order.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	if c.readOnly {
		return exchange.Order{}, fmt.Errorf("place order: %w", exchange.ErrReadOnly)
	}

	body := createOrderRequest{
		ClientOrderID: req.ClientOrderID,
		ProductID:     req.Symbol,
		Side:          string(req.Side),
	}
	switch req.Type {
	case domain.OrderTypePostOnlyLimit:
		body.OrderConfiguration.LimitGTC = &limitGTC{
			BaseSize:   req.BaseSize.String(),
			LimitPrice: req.LimitPrice.String(),
			PostOnly:   true,
		}
	case domain.OrderTypeMarket:
		m := &marketIOC{}
		if req.Side == domain.SideBuy && req.QuoteSize.IsPositive() {
			m.QuoteSize = req.QuoteSize.String()
		} else {
			m.BaseSize = req.BaseSize.String()
		}
		body.OrderConfiguration.MarketIOC = m
	default:
		return exchange.Order{}, fmt.Errorf("place order: %w: order type %q", exchange.ErrInvalidOrder, req.Type)
	}

	var resp createOrderResponse
	if err := c.post(ctx, "create order", "/orders", body, &resp); err != nil {
		return exchange.Order{}, err
	}
	if !resp.Success {
		code := resp.ErrorResponse.Error
		if code == "" {
			code = resp.ErrorResponse.PreviewFailureReason
		}
		if code == "" {
			code = resp.ErrorResponse.NewOrderFailureReason
		}
		return exchange.Order{}, &exchange.APIError{
			Op:      "create order",
			Status:  http.StatusBadRequest,
			Code:    code,
			Message: resp.ErrorResponse.Message,
		}
	}

	return exchange.Order{
		OrderID:       resp.SuccessResponse.OrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        exchange.StatusPending,
		BaseSize:      req.BaseSize.InexactFloat64(),
		LimitPrice:    req.LimitPrice.InexactFloat64(),
	}, nil
}

// CancelOrders cancels orders in one batch request.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) ([]exchange.CancelResult, error) {
	if c.readOnly {
		return nil, fmt.Errorf("cancel orders: %w", exchange.ErrReadOnly)
	}
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var resp batchCancelResponse
	if err := c.post(ctx, "cancel orders", "/orders/batch_cancel", batchCancelRequest{OrderIDs: orderIDs}, &resp); err != nil {
		return nil, err
	}
	out := make([]exchange.CancelResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		res := exchange.CancelResult{OrderID: r.OrderID, Success: r.Success}
		if !r.Success {
			res.Reason = r.FailureReason
		}
		out = append(out, res)
	}
	return out, nil
}

// GetOrder fetches one order by exchange id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (exchange.Order, error) {
	var resp getOrderResponse
	err := c.get(ctx, "get order", "/orders/historical/"+url.PathEscape(orderID), nil, true, &resp)
	if err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return exchange.Order{}, fmt.Errorf("get order %s: %w", orderID, exchange.ErrOrderNotFound)
		}
		return exchange.Order{}, err
	}
	return resp.Order.toOrder(), nil
}

// FindOrder scans the symbol's order history for a client order id.
func (c *Client) FindOrder(ctx context.Context, symbol, clientOrderID string) (exchange.Order, error) {
	q := url.Values{}
	q.Set("product_ids", symbol)
	orders, _, err := c.listOrders(ctx, q)
	if err != nil {
		return exchange.Order{}, err
	}
	for _, o := range orders {
		if o.ClientOrderID == clientOrderID {
			return o, nil
		}
	}
	return exchange.Order{}, fmt.Errorf("find order %s: %w", clientOrderID, exchange.ErrOrderNotFound)
}

// ListOpenOrders returns every open order on the account.
func (c *Client) ListOpenOrders(ctx context.Context) ([]exchange.Order, error) {
	q := url.Values{}
	q.Set("order_status", "OPEN")
	orders, complete, err := c.listOrders(ctx, q)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("list open orders: more than %d pages", c.maxPages)
	}
	return orders, nil
}

func (c *Client) listOrders(ctx context.Context, q url.Values) ([]exchange.Order, bool, error) {
	var out []exchange.Order
	cursor := ""
	for page := 0; page < c.maxPages; page++ {
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp listOrdersResponse
		if err := c.get(ctx, "list orders", "/orders/historical/batch", q, true, &resp); err != nil {
			return nil, false, err
		}
		for _, o := range resp.Orders {
			out = append(out, o.toOrder())
		}
		if !resp.HasNext || resp.Cursor == "" {
			return out, true, nil
		}
		cursor = resp.Cursor
	}
	return out, false, nil
}

// ListFills pages through fills since the given time. The batch is marked
// incomplete when the page bound is reached.
func (c *Client) ListFills(ctx context.Context, since time.Time) (exchange.FillBatch, error) {
	q := url.Values{}
	q.Set("limit", "250")
	if !since.IsZero() {
		q.Set("start_sequence_timestamp", since.UTC().Format(time.RFC3339))
	}

	var batch exchange.FillBatch
	cursor := ""
	for page := 0; page < c.maxPages; page++ {
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp listFillsResponse
		if err := c.get(ctx, "list fills", "/orders/historical/fills", q, true, &resp); err != nil {
			return exchange.FillBatch{}, err
		}
		for _, f := range resp.Fills {
			batch.Fills = append(batch.Fills, f.toFill())
		}
		if resp.Cursor == "" || len(resp.Fills) == 0 {
			batch.Complete = true
			return batch, nil
		}
		cursor = resp.Cursor
	}
	return batch, nil
}

// GetAccounts returns balances for every currency.
func (c *Client) GetAccounts(ctx context.Context) ([]domain.Balance, error) {
	q := url.Values{}
	q.Set("limit", "250")

	var out []domain.Balance
	cursor := ""
	for page := 0; page < c.maxPages; page++ {
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp listAccountsResponse
		if err := c.get(ctx, "list accounts", "/accounts", q, true, &resp); err != nil {
			return nil, err
		}
		for _, a := range resp.Accounts {
			out = append(out, domain.Balance{
				Currency:  a.Currency,
				Available: num(a.AvailableBalance.Value),
				Hold:      num(a.Hold.Value),
			})
		}
		if !resp.HasNext || resp.Cursor == "" {
			return out, nil
		}
		cursor = resp.Cursor
	}
	return nil, fmt.Errorf("list accounts: more than %d pages", c.maxPages)
}

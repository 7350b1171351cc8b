package transport

import (
	"context"
	"fmt"

	"bitfinex-trading-core/internal/apierr"
	"bitfinex-trading-core/internal/order"
)

// orderSubmitEndpoint and friends name the Bitfinex v2 authenticated order
// endpoints, used both as REST paths and as RuleSet classification keys.
const (
	orderSubmitEndpoint = "auth/w/order/submit"
	orderCancelEndpoint = "auth/w/order/cancel"
	orderUpdateEndpoint = "auth/w/order/update"
)

// orderNotifyPayload mirrors the trailing elements of Bitfinex's "on-req"
// notification envelope enough to pull the assigned order id back out.
type orderNotifyPayload struct {
	ID     int64
	Status string
	Amount float64
}

// OrderGateway adapts SignedHttpClient to order.Submitter, order.Canceller,
// and order.Resizer, the three collaborator interfaces OrderPipeline and
// BracketManager depend on. The request-building shape is rebuilt around
// Bitfinex's affirmative-array order type string instead of a
// side/type/quantity REST form.
type OrderGateway struct {
	client *SignedHttpClient
}

func NewOrderGateway(client *SignedHttpClient) *OrderGateway {
	return &OrderGateway{client: client}
}

type submitOrderRequest struct {
	Type     string `json:"type"`
	Symbol   string `json:"symbol"`
	Amount   string `json:"amount"`
	Price    string `json:"price,omitempty"`
	PriceAux string `json:"price_aux_limit,omitempty"`
	PriceTr  string `json:"price_trailing,omitempty"`
	CID      string `json:"cid,omitempty"`
	Flags    int    `json:"flags,omitempty"`
}

// SubmitOrder implements order.Submitter.
func (g *OrderGateway) SubmitOrder(ctx context.Context, n order.Normalized) (order.Order, error) {
	req := submitOrderRequest{
		Type:   string(n.Type),
		Symbol: n.Symbol,
		Amount: n.Amount.String(),
		CID:    n.ClientID,
		Flags:  n.Flags.Bits(),
	}
	if !n.Price.IsZero() {
		req.Price = n.Price.String()
	}
	if !n.PriceAuxLimit.IsZero() {
		req.PriceAux = n.PriceAuxLimit.String()
	}
	if !n.PriceTrailing.IsZero() {
		req.PriceTr = n.PriceTrailing.String()
	}

	var raw []any
	if err := g.client.Post(ctx, orderSubmitEndpoint, req, &raw); err != nil {
		return order.Order{}, err
	}
	notif, err := parseOrderNotification(raw)
	if err != nil {
		return order.Order{}, err
	}

	amt, _ := n.Amount.Float64()
	price, _ := n.Price.Float64()
	return order.Order{
		ID:       notif.ID,
		ClientID: n.ClientID,
		Symbol:   n.Symbol,
		Side:     n.Side,
		Type:     n.Type,
		Amount:   amt,
		Price:    price,
		Status:   notif.Status,
	}, nil
}

type cancelOrderRequest struct {
	ID int64 `json:"id"`
}

// CancelOrder implements order.Canceller.
func (g *OrderGateway) CancelOrder(ctx context.Context, orderID int64) error {
	var raw []any
	return g.client.Post(ctx, orderCancelEndpoint, cancelOrderRequest{ID: orderID}, &raw)
}

type updateOrderRequest struct {
	ID     int64  `json:"id"`
	Amount string `json:"amount"`
}

// ResizeOrder implements order.Resizer: amends the live amount while
// preserving its sign, since Bitfinex's update endpoint takes the signed
// total (not delta) amount.
func (g *OrderGateway) ResizeOrder(ctx context.Context, orderID int64, newAmount float64) error {
	var raw []any
	return g.client.Post(ctx, orderUpdateEndpoint, updateOrderRequest{
		ID:     orderID,
		Amount: fmt.Sprintf("%.8f", newAmount),
	}, &raw)
}

// parseOrderNotification pulls the order id and status out of Bitfinex's
// notification envelope: [MTS, "on-req", null, null, [ORDER_ARRAY], null,
// STATUS, TEXT]. The fifth element is itself an array of order tuples (one
// per affected order), each tuple's first element the assigned order id.
func parseOrderNotification(raw []any) (orderNotifyPayload, error) {
	if len(raw) < 7 {
		return orderNotifyPayload{}, apierr.New(apierr.ExchangeError, "malformed_order_notification")
	}
	status, _ := raw[6].(string)
	if status == "ERROR" {
		text, _ := raw[len(raw)-1].(string)
		return orderNotifyPayload{}, apierr.New(apierr.ExchangeError, text)
	}
	orders, ok := raw[4].([]any)
	if !ok || len(orders) == 0 {
		return orderNotifyPayload{}, apierr.New(apierr.ExchangeError, "missing_order_array")
	}
	orderArr, ok := orders[0].([]any)
	if !ok || len(orderArr) == 0 {
		return orderNotifyPayload{}, apierr.New(apierr.ExchangeError, "missing_order_array")
	}
	idFloat, _ := orderArr[0].(float64)
	return orderNotifyPayload{ID: int64(idFloat), Status: status}, nil
}

package korbit

import "encoding/json"

// orderbookResponse: levels are [price, amount, count] string triples.
type orderbookResponse struct {
	Timestamp json.Number `json:"timestamp"`
	Bids      [][]string  `json:"bids"`
	Asks      [][]string  `json:"asks"`
}

type balanceLine struct {
	Available  string `json:"available"`
	TradeInUse string `json:"trade_in_use"`
}

type placeResponse struct {
	OrderID json.Number `json:"orderId"`
	Status  string      `json:"status"`
}

type cancelResponse struct {
	OrderID json.Number `json:"orderId"`
	Status  string      `json:"status"`
}

type orderResponse struct {
	ID           json.Number `json:"id"`
	Status       string      `json:"status"`
	FilledAmount string      `json:"filled_amount"`
	Price        string      `json:"price"`
	OrderAmount  string      `json:"order_amount"`
	Side         string      `json:"side"`
}

type openOrderResponse struct {
	ID json.Number `json:"id"`
}

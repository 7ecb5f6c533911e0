package gateway

import (
	"time"

	"github.com/amanahq/flasharb/internal/domain"
)

// apiQuote is the gateway wire format for one executable quote.
type apiQuote struct {
	Base          string `json:"base"`
	Counter       string `json:"counter"`
	Side          string `json:"side"`
	Price         int64  `json:"price"`
	AvailableSize int64  `json:"availableSize"`
	Timestamp     int64  `json:"timestamp"` // Unix millis
	ExpiryMillis  int64  `json:"expiry"`
}

func (q apiQuote) toDomain(venueID string) domain.Quote {
	return domain.Quote{
		VenueID:       venueID,
		Base:          q.Base,
		Counter:       q.Counter,
		Side:          domain.QuoteSide(q.Side),
		Price:         q.Price,
		AvailableSize: q.AvailableSize,
		Timestamp:     time.UnixMilli(q.Timestamp).UTC(),
		Expiry:        time.UnixMilli(q.ExpiryMillis).UTC(),
	}
}

// apiLoanRequest opens a flash loan.
type apiLoanRequest struct {
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
	RouteID string `json:"routeId"`
}

// apiLoanResponse is the gateway's answer to a loan request.
type apiLoanResponse struct {
	LoanID string `json:"loanId"`
	FeeBps int64  `json:"feeBps"`
}

// apiLegRequest submits a signed leg order.
type apiLegRequest struct {
	InstrumentIn  string `json:"instrumentIn"`
	InstrumentOut string `json:"instrumentOut"`
	AmountIn      int64  `json:"amountIn"`
	MinAmountOut  int64  `json:"minAmountOut"`
	Deadline      int64  `json:"deadline"`
	Nonce         int64  `json:"nonce"`
	Maker         string `json:"maker"`
	Signature     string `json:"signature"`
}

// apiLegResponse reports the realized fill.
type apiLegResponse struct {
	OrderID   string `json:"orderId"`
	AmountIn  int64  `json:"amountIn"`
	AmountOut int64  `json:"amountOut"`
	FeePaid   int64  `json:"feePaid"`
	Timestamp int64  `json:"timestamp"` // Unix millis
}

// apiRepayRequest settles a flash loan.
type apiRepayRequest struct {
	Amount int64 `json:"amount"`
}

// apiError is the gateway's error envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsEnvelope identifies an inbound feed message.
type wsEnvelope struct {
	Type string `json:"type"`
}

// wsQuoteMessage carries a batch of quotes for one pair.
type wsQuoteMessage struct {
	Type   string     `json:"type"`
	Pair   string     `json:"pair"`
	Quotes []apiQuote `json:"quotes"`
}

// wsCommand is an outbound subscribe/unsubscribe request.
type wsCommand struct {
	Type  string   `json:"type"`
	Pairs []string `json:"pairs"`
}

package models

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Trade is a single simulated execution. Immutable once emitted by the
// engine; IDs are monotonically increasing per engine instance.
type Trade struct {
	ID        int64   `json:"id"`
	Timestamp int64   `json:"timestamp"` // unix milli
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"` // rounded to 2 decimals
	Volume    int     `json:"volume"`
	Side      string  `json:"side"` // "buy" or "sell"
}

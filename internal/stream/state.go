package stream

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the streaming connection lifecycle as reported by the transport.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Tick is one pushed price. Exchange is empty when the feed omits it.
type Tick struct {
	Symbol    string
	Exchange  string
	Price     decimal.Decimal
	DayVolume decimal.NullDecimal
	At        time.Time
}

// AckSymbol identifies one entry of a subscription acknowledgement.
type AckSymbol struct {
	Symbol   string
	Exchange string
}

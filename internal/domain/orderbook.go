package domain

import (
	"fmt"
	"time"
)

// Level is a single price level of one book side.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderbookSnapshot is a point-in-time view of the book.
// Asks are ascending by price, bids descending. A published snapshot is never mutated;
// the store swaps the pointer instead.
type OrderbookSnapshot struct {
	Timestamp  string    `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`
	Asks       []Level   `json:"asks"`
	Bids       []Level   `json:"bids"`
}

// Validate checks the published-snapshot invariants.
func (s *OrderbookSnapshot) Validate() error {
	if len(s.Asks) == 0 || len(s.Bids) == 0 {
		return ErrOneSidedBook
	}
	if err := validateSide(s.Asks, func(prev, cur float64) bool { return cur > prev }); err != nil {
		return fmt.Errorf("asks: %w", err)
	}
	if err := validateSide(s.Bids, func(prev, cur float64) bool { return cur < prev }); err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	return nil
}

func validateSide(levels []Level, ordered func(prev, cur float64) bool) error {
	for i, lv := range levels {
		if lv.Size < 0 {
			return fmt.Errorf("negative size %v at level %d", lv.Size, i)
		}
		if i > 0 && !ordered(levels[i-1].Price, lv.Price) {
			return fmt.Errorf("level %d price %v out of order or duplicated", i, lv.Price)
		}
	}
	return nil
}

// BestAsk returns the lowest ask level.
func (s *OrderbookSnapshot) BestAsk() (Level, bool) {
	if s == nil || len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// BestBid returns the highest bid level.
func (s *OrderbookSnapshot) BestBid() (Level, bool) {
	if s == nil || len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// MidPrice returns (bestAsk+bestBid)/2.
func (s *OrderbookSnapshot) MidPrice() (float64, bool) {
	ask, okA := s.BestAsk()
	bid, okB := s.BestBid()
	if !okA || !okB {
		return 0, false
	}
	return (ask.Price + bid.Price) / 2, true
}

// Spread returns bestAsk-bestBid.
func (s *OrderbookSnapshot) Spread() (float64, bool) {
	ask, okA := s.BestAsk()
	bid, okB := s.BestBid()
	if !okA || !okB {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// Depth returns copies of the top levels of each side.
func (s *OrderbookSnapshot) Depth(levels int) (asks, bids []Level) {
	if s == nil || levels <= 0 {
		return nil, nil
	}
	asks = append([]Level(nil), s.Asks[:min(levels, len(s.Asks))]...)
	bids = append([]Level(nil), s.Bids[:min(levels, len(s.Bids))]...)
	return asks, bids
}

// SideDepth sums the sizes of the top levels on each side.
func (s *OrderbookSnapshot) SideDepth(levels int) (askDepth, bidDepth float64) {
	if s == nil {
		return 0, 0
	}
	for i := 0; i < levels && i < len(s.Asks); i++ {
		askDepth += s.Asks[i].Size
	}
	for i := 0; i < levels && i < len(s.Bids); i++ {
		bidDepth += s.Bids[i].Size
	}
	return askDepth, bidDepth
}

package okx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"trade_sim/internal/domain"
)

// Event is a control frame from the exchange (subscribe ack, error).
type Event struct {
	Event string
	Code  string
	Msg   string
}

// IsError reports whether the exchange rejected a request.
func (e *Event) IsError() bool {
	return e.Event == "error"
}

// Message is the result of parsing one frame: exactly one of Snapshot or Event is set.
type Message struct {
	Snapshot *domain.OrderbookSnapshot
	Event    *Event
}

// ParseMessage decodes a raw frame. Anything that cannot become a valid snapshot or a
// recognised event yields an error wrapping domain.ErrMalformedMessage.
func ParseMessage(data []byte, receivedAt time.Time) (Message, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}

	if msg.Event != "" {
		return Message{Event: &Event{Event: msg.Event, Code: msg.Code, Msg: msg.Msg}}, nil
	}

	book := msg.wireBook
	if msg.Arg != nil {
		if len(msg.Data) == 0 {
			return Message{}, fmt.Errorf("%w: push frame without data", domain.ErrMalformedMessage)
		}
		book = msg.Data[0]
	}

	snap, err := book.snapshot(receivedAt)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err)
	}
	return Message{Snapshot: snap}, nil
}

func (b wireBook) snapshot(receivedAt time.Time) (*domain.OrderbookSnapshot, error) {
	raw := b.Timestamp
	if len(raw) == 0 {
		raw = b.Ts
	}
	ts, err := parseTimestamp(raw)
	if err != nil {
		return nil, err
	}
	if b.Asks == nil {
		return nil, errors.New("missing asks")
	}
	if b.Bids == nil {
		return nil, errors.New("missing bids")
	}

	asks, err := parseLevels(b.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	bids, err := parseLevels(b.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}

	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })

	snap := &domain.OrderbookSnapshot{
		Timestamp:  ts,
		ReceivedAt: receivedAt,
		Asks:       asks,
		Bids:       bids,
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func parseTimestamp(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("missing timestamp")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("timestamp: %w", err)
		}
		return s, nil
	}
	return string(raw), nil
}

// parseLevels reads [price, size, ...] rows. Trailing elements are ignored.
func parseLevels(rows [][]json.Number) ([]domain.Level, error) {
	levels := make([]domain.Level, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("level %d has %d fields", i, len(row))
		}
		price, err := strconv.ParseFloat(row[0].String(), 64)
		if err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		size, err := strconv.ParseFloat(row[1].String(), 64)
		if err != nil {
			return nil, fmt.Errorf("level %d size: %w", i, err)
		}
		levels = append(levels, domain.Level{Price: price, Size: size})
	}
	return levels, nil
}

package okx

import (
	"encoding/json"
	"time"
)

// =====================================================
// OKX public orderbook channel
// =====================================================

const (
	DefaultURL              = "wss://ws.okx.com:8443/ws/v5/public"
	DefaultChannel          = "books"
	DefaultDepth            = 25
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 1 * time.Second
	DefaultQueueSize        = 256
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 25 * time.Second
	DefaultReadTimeout      = 35 * time.Second

	closeWriteTimeout = time.Second
)

// subscribeRequest is sent once per successful connection.
type subscribeRequest struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
	Depth   int    `json:"depth,omitempty"`
}

// wireBook is a flat book frame: {"timestamp", "asks", "bids"}.
// OKX push data uses "ts" instead of "timestamp" and is accepted as well.
type wireBook struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Ts        json.RawMessage `json:"ts"`
	Asks      [][]json.Number `json:"asks"`
	Bids      [][]json.Number `json:"bids"`
}

// wireMessage covers every inbound frame shape.
type wireMessage struct {
	wireBook

	// Event frames: {"event":"subscribe"|"error", "code", "msg"}
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`

	// Push envelope: {"arg":{...}, "data":[{asks,bids,ts}]}
	Arg  *subscribeArg `json:"arg"`
	Data []wireBook    `json:"data"`
}

// Package bitcoind is a trimmed local-node fallback for the two RPCs not
// every Electrum server implements: fee estimation and broadcast.
package bitcoind

import (
	"bytes"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// Config holds the local node's RPC endpoint and credentials: no wallet
// is loaded, no descriptors are imported.
type Config struct {
	Host string
	User string
	Pass string
}

// Client wraps an rpcclient.Client configured for a local Bitcoin Core
// node, exposing only fee estimation and broadcast.
type Client struct {
	rpc *rpcclient.Client
}

// NewClient connects to a local node over HTTP, no TLS (matching
// cfg.Host being a local address per convention).
func NewClient(cfg Config) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoind: connecting to %s: %w", cfg.Host, err)
	}
	return &Client{rpc: rpc}, nil
}

// Shutdown closes the underlying RPC connection.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

func (c *Client) estimateSmartFeeByMode(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (float64, error) {
	res, err := c.rpc.EstimateSmartFee(confTarget, mode)
	if err != nil {
		return 0, err
	}
	if res == nil || res.FeeRate == nil {
		return 0, nil
	}
	if !isFinitePositive(*res.FeeRate) {
		return 0, nil
	}
	return *res.FeeRate, nil
}

// EstimateSmartFee returns a BTC/kvB smart fee estimate with fallback
// chain CONSERVATIVE -> ECONOMICAL, for use when the Electrum oracle's
// blockchain.estimatefee is unavailable.
func (c *Client) EstimateSmartFee(confTarget int64) (float64, error) {
	conservative := btcjson.EstimateModeConservative
	if fee, err := c.estimateSmartFeeByMode(confTarget, &conservative); err == nil && fee > 0 {
		return fee, nil
	}

	economical := btcjson.EstimateModeEconomical
	return c.estimateSmartFeeByMode(confTarget, &economical)
}

// EstimateSmartFeeSatVB converts EstimateSmartFee's BTC/kvB result to
// sat/vByte.
func (c *Client) EstimateSmartFeeSatVB(confTarget int64) (float64, error) {
	feeBTCPerKVb, err := c.EstimateSmartFee(confTarget)
	if err != nil {
		return 0, err
	}
	return BTCPerKVbToSatPerVB(feeBTCPerKVb), nil
}

// BTCPerKVbToSatPerVB converts a BTC/kvB fee rate to sat/vByte.
func BTCPerKVbToSatPerVB(v float64) float64 {
	return v * 100_000
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// Broadcast submits a raw transaction and returns its txid.
func (c *Client) Broadcast(rawTx []byte) (*chainhash.Hash, error) {
	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, fmt.Errorf("bitcoind: decoding raw transaction: %w", err)
	}
	hash, err := c.rpc.SendRawTransaction(&msgTx, false)
	if err != nil {
		return nil, fmt.Errorf("bitcoind: broadcasting: %w", err)
	}
	return hash, nil
}

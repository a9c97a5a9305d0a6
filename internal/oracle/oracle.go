// Package oracle implements the Electrum-style history oracle: a
// newline-delimited JSON-RPC 2.0 client over a persistent TCP or TLS
// connection, used by the scanner to probe address history, fetch UTXOs,
// estimate fees, and broadcast the final transaction.
package oracle

import (
	"bufio"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// MaxBatchSize bounds any single RPC payload to keep it manageable for
// the remote server.
const MaxBatchSize = 100

// ErrOracleUnavailable wraps transport-level failures: connect, write, or
// read errors, and a connection that closes before a response arrives.
// Calls have no response timeout.
var ErrOracleUnavailable = errors.New("oracle: unavailable")

// ErrOracleRejected wraps a well-formed JSON-RPC error response; the
// remote error message is surfaced verbatim in the wrapped error text.
var ErrOracleRejected = errors.New("oracle: rejected")

// ErrFeeUnavailable is returned by EstimateFee when the server reports -1
// and no manual fee rate was supplied by the caller.
var ErrFeeUnavailable = errors.New("oracle: fee estimate unavailable")

// Protocol selects the wire transport, matching the CLI's --protocol flag.
type Protocol string

const (
	ProtocolTCP Protocol = "t"
	ProtocolTLS Protocol = "s"
)

// ScriptHash returns the hex-encoded, byte-reversed sha256 of an output
// script — the Electrum protocol's script lookup key.
func ScriptHash(outputScript []byte) string {
	sum := sha256.Sum256(outputScript)
	reversed := make([]byte, len(sum))
	for i, b := range sum {
		reversed[len(sum)-1-i] = b
	}
	return hex.EncodeToString(reversed)
}

// HistoryOracle is the capability the scanner depends on: batched history
// and UTXO lookups keyed by script hash. *Client satisfies it; tests
// substitute a fake so the scanner can be exercised without a network.
type HistoryOracle interface {
	GetHistory(scriptHashes []string) ([][]HistoryEntry, error)
	ListUnspent(scriptHashes []string) ([][]UnspentEntry, error)
}

// HistoryEntry is one element of blockchain.scripthash.get_history's result.
type HistoryEntry struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
}

// UnspentEntry is one element of blockchain.scripthash.listunspent's result.
type UnspentEntry struct {
	TxHash string `json:"tx_hash"`
	TxPos  uint32 `json:"tx_pos"`
	Value  int64  `json:"value"`
	Height int64  `json:"height"`
}

type rpcRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Client is a single persistent connection to an Electrum-style server.
// It owns a background reader goroutine that demultiplexes responses by
// request ID onto per-call channels; callers never read the socket
// directly. A scan owns a single connection for its whole duration.
type Client struct {
	conn   net.Conn
	writeM sync.Mutex
	nextID uint64

	pendingM sync.Mutex
	pending  map[uint64]chan rpcResponse

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to host:port using the given protocol and starts the
// background reader. The caller must Close the client when done.
func Dial(host string, port string, protocol Protocol, timeout time.Duration) (*Client, error) {
	addr := net.JoinHostPort(host, port)
	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	var err error
	if protocol == ProtocolTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: host})
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrOracleUnavailable, addr, err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[uint64]chan rpcResponse),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close terminates the connection; outstanding calls receive
// ErrOracleUnavailable.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue // malformed line; the owning call keeps waiting until the connection closes
		}
		c.dispatch(resp)
	}
	c.failAllPending()
}

func (c *Client) dispatch(resp rpcResponse) {
	c.pendingM.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingM.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Client) failAllPending() {
	c.pendingM.Lock()
	defer c.pendingM.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// call issues a single request and blocks for its response.
func (c *Client) call(method string, params []interface{}) (json.RawMessage, error) {
	id := atomic.AddUint64(&c.nextID, 1)
	ch := make(chan rpcResponse, 1)

	c.pendingM.Lock()
	c.pending[id] = ch
	c.pendingM.Unlock()

	req := rpcRequest{ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: encoding request: %w", err)
	}
	line = append(line, '\n')

	c.writeM.Lock()
	_, err = c.conn.Write(line)
	c.writeM.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: writing request: %v", ErrOracleUnavailable, err)
	}

	resp, ok := <-ch
	if !ok {
		return nil, fmt.Errorf("%w: connection closed awaiting response", ErrOracleUnavailable)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrOracleRejected, resp.Error.Message)
	}
	return resp.Result, nil
}

// batchCall issues an ordered set of requests and returns results in the
// same order. Since electrs and ElectrumX both accept newline-delimited
// JSON-RPC without requiring a JSON array envelope, this implementation
// fires each request concurrently over the shared connection and awaits
// all responses — observably equivalent batching with positional
// correspondence preserved via per-call channels.
func (c *Client) batchCall(calls []rpcRequest) ([]json.RawMessage, []error) {
	results := make([]json.RawMessage, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, method string, params []interface{}) {
			defer wg.Done()
			res, err := c.call(method, params)
			results[i] = res
			errs[i] = err
		}(i, call.Method, call.Params)
	}
	wg.Wait()
	return results, errs
}

// GetHistory batches blockchain.scripthash.get_history across
// scriptHashes, returning one history slice per input in the same order.
func (c *Client) GetHistory(scriptHashes []string) ([][]HistoryEntry, error) {
	if len(scriptHashes) == 0 {
		return nil, nil
	}
	calls := make([]rpcRequest, len(scriptHashes))
	for i, sh := range scriptHashes {
		calls[i] = rpcRequest{Method: "blockchain.scripthash.get_history", Params: []interface{}{sh}}
	}
	raws, errs := c.batchCall(calls)

	out := make([][]HistoryEntry, len(scriptHashes))
	for i, raw := range raws {
		if errs[i] != nil {
			return nil, fmt.Errorf("oracle: get_history[%d]: %w", i, errs[i])
		}
		var entries []HistoryEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("oracle: decoding get_history[%d]: %w", i, err)
		}
		out[i] = entries
	}
	return out, nil
}

// ListUnspent batches blockchain.scripthash.listunspent across
// scriptHashes.
func (c *Client) ListUnspent(scriptHashes []string) ([][]UnspentEntry, error) {
	if len(scriptHashes) == 0 {
		return nil, nil
	}
	calls := make([]rpcRequest, len(scriptHashes))
	for i, sh := range scriptHashes {
		calls[i] = rpcRequest{Method: "blockchain.scripthash.listunspent", Params: []interface{}{sh}}
	}
	raws, errs := c.batchCall(calls)

	out := make([][]UnspentEntry, len(scriptHashes))
	for i, raw := range raws {
		if errs[i] != nil {
			return nil, fmt.Errorf("oracle: listunspent[%d]: %w", i, errs[i])
		}
		var entries []UnspentEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("oracle: decoding listunspent[%d]: %w", i, err)
		}
		out[i] = entries
	}
	return out, nil
}

// EstimateFee returns a sat/vByte fee estimate for confirmation within
// targetBlocks, converting the server's BTC/kB response. A server
// response of -1 yields ErrFeeUnavailable.
func (c *Client) EstimateFee(targetBlocks int) (int64, error) {
	raw, err := c.call("blockchain.estimatefee", []interface{}{targetBlocks})
	if err != nil {
		return 0, err
	}
	var btcPerKB float64
	if err := json.Unmarshal(raw, &btcPerKB); err != nil {
		return 0, fmt.Errorf("oracle: decoding estimatefee: %w", err)
	}
	if btcPerKB < 0 {
		return 0, ErrFeeUnavailable
	}
	return int64(btcPerKB * 1e8 / 1024), nil
}

// Broadcast submits a raw signed transaction and returns its txid.
func (c *Client) Broadcast(rawTxHex string) (string, error) {
	raw, err := c.call("blockchain.transaction.broadcast", []interface{}{rawTxHex})
	if err != nil {
		return "", err
	}
	var txid string
	if err := json.Unmarshal(raw, &txid); err != nil {
		return "", fmt.Errorf("oracle: decoding broadcast result: %w", err)
	}
	return txid, nil
}

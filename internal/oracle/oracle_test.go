package oracle

import (
	"bufio"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeServer accepts a single connection and answers each request line
// with handler's result, echoing the request ID back.
func fakeServer(t *testing.T, handler func(method string, params []json.RawMessage) (interface{}, *rpcError)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var req struct {
				ID     uint64            `json:"id"`
				Method string            `json:"method"`
				Params []json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			result, rpcErr := handler(req.Method, req.Params)
			resp := rpcResponse{ID: req.ID}
			if rpcErr != nil {
				resp.Error = rpcErr
			} else {
				raw, _ := json.Marshal(result)
				resp.Result = raw
			}
			line, _ := json.Marshal(resp)
			line = append(line, '\n')
			conn.Write(line)
		}
	}()

	return ln.Addr().String() // host:port
}

func dialFake(t *testing.T, addr string) *Client {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	c, err := Dial(host, port, ProtocolTCP, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestScriptHashReversesAndHexEncodes(t *testing.T) {
	// sha256("") is well known; script hash is its byte reversal hex-encoded.
	got := ScriptHash([]byte{})
	want := "55b852781b9995a44c939b64e441ae2724b96f99c8f4fb9a141cfc9842c4b0e3"
	if got != want {
		t.Errorf("ScriptHash(empty) = %s, want %s", got, want)
	}
}

func TestGetHistoryEmptyMeansNeverUsed(t *testing.T) {
	addr := fakeServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		return []HistoryEntry{}, nil
	})
	c := dialFake(t, addr)

	histories, err := c.GetHistory([]string{"aa", "bb", "cc"})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(histories) != 3 {
		t.Fatalf("expected 3 results, got %d", len(histories))
	}
	for i, h := range histories {
		if len(h) != 0 {
			t.Errorf("result %d: expected empty history, got %v", i, h)
		}
	}
}

func TestGetHistorySingletonVsBatchPositional(t *testing.T) {
	addr := fakeServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		var sh string
		json.Unmarshal(params[0], &sh)
		if sh == "used" {
			return []HistoryEntry{{TxHash: "deadbeef", Height: 100}}, nil
		}
		return []HistoryEntry{}, nil
	})
	c := dialFake(t, addr)

	// singleton call
	single, err := c.GetHistory([]string{"used"})
	if err != nil {
		t.Fatalf("GetHistory singleton: %v", err)
	}
	if len(single) != 1 || len(single[0]) != 1 {
		t.Fatalf("expected one hit, got %v", single)
	}

	// batched call, positional correspondence must be preserved regardless
	// of concurrent dispatch ordering.
	batched, err := c.GetHistory([]string{"unused1", "used", "unused2"})
	if err != nil {
		t.Fatalf("GetHistory batch: %v", err)
	}
	if len(batched) != 3 {
		t.Fatalf("expected 3 results, got %d", len(batched))
	}
	if len(batched[0]) != 0 || len(batched[1]) != 1 || len(batched[2]) != 0 {
		t.Errorf("positional correspondence broken: %v", batched)
	}
}

func TestListUnspentDecodesEntries(t *testing.T) {
	addr := fakeServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		return []UnspentEntry{{TxHash: "feed", TxPos: 1, Value: 100000}}, nil
	})
	c := dialFake(t, addr)

	unspent, err := c.ListUnspent([]string{"sh1"})
	if err != nil {
		t.Fatalf("ListUnspent: %v", err)
	}
	if len(unspent) != 1 || len(unspent[0]) != 1 {
		t.Fatalf("expected one utxo, got %v", unspent)
	}
	if unspent[0][0].Value != 100000 {
		t.Errorf("expected value 100000, got %d", unspent[0][0].Value)
	}
}

func TestEstimateFeeConvertsBTCPerKBToSatPerVByte(t *testing.T) {
	addr := fakeServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		return 0.0001, nil // BTC/kB
	})
	c := dialFake(t, addr)

	feeRate, err := c.EstimateFee(6)
	if err != nil {
		t.Fatalf("EstimateFee: %v", err)
	}
	wantF := 0.0001 * 1e8 / 1024
	want := int64(wantF)
	if feeRate != want {
		t.Errorf("expected %d sat/vB, got %d", want, feeRate)
	}
}

func TestEstimateFeeUnavailableOnNegativeOne(t *testing.T) {
	addr := fakeServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		return -1.0, nil
	})
	c := dialFake(t, addr)

	if _, err := c.EstimateFee(1); err != ErrFeeUnavailable {
		t.Fatalf("expected ErrFeeUnavailable, got %v", err)
	}
}

func TestOracleRejectedSurfacesRemoteMessage(t *testing.T) {
	addr := fakeServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -1, Message: "something went wrong upstream"}
	})
	c := dialFake(t, addr)

	_, err := c.GetHistory([]string{"aa"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "something went wrong upstream") {
		t.Errorf("expected remote message in error, got %v", err)
	}
}

func TestBroadcastReturnsTxid(t *testing.T) {
	addr := fakeServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		return "abc123txid", nil
	})
	c := dialFake(t, addr)

	txid, err := c.Broadcast("0200000001...")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if txid != "abc123txid" {
		t.Errorf("expected txid abc123txid, got %s", txid)
	}
}

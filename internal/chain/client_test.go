package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

func fakeNode(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		calls.Add(1)
		var result string
		switch req.Method {
		case "eth_chainId":
			result = "0x38"
		case "eth_call":
			result = "0x0000000000000000000000000000000000000000000000000000000000000012"
		default:
			http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientChainIDIsCached(t *testing.T) {
	var calls atomic.Int32
	srv := fakeNode(t, &calls)
	ctx := context.Background()

	client, err := NewClient(ctx, srv.URL, 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	for i := 0; i < 3; i++ {
		id, err := client.ChainID(ctx)
		if err != nil {
			t.Fatalf("chain id: %v", err)
		}
		if id.Int64() != 56 {
			t.Fatalf("chain id = %s, want 56", id)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("node called %d times, want 1", got)
	}
}

func TestClientCallContract(t *testing.T) {
	var calls atomic.Int32
	srv := fakeNode(t, &calls)
	ctx := context.Background()

	client, err := NewClient(ctx, srv.URL, 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	token := common.HexToAddress("0x1000000000000000000000000000000000000001")
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: []byte{0x31, 0x3c, 0xe5, 0x67}}, nil)
	if err != nil {
		t.Fatalf("call contract: %v", err)
	}
	if len(out) != 32 || out[31] != 0x12 {
		t.Fatalf("unexpected result: %x", out)
	}
}

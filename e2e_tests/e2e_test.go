//go:build e2e

// Package e2etests drives a running server over HTTP. Start the API with its
// default configuration, then run:
//
//	E2E_BASE_URL=http://localhost:8080 go test -tags e2e ./e2e_tests/...
package e2etests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"
)

const (
	timeout   = 5 * time.Second
	waitReady = 20 * time.Second
)

var httpClient = &http.Client{Timeout: timeout}

func baseURL() string {
	if u := os.Getenv("E2E_BASE_URL"); u != "" {
		return u
	}

	return "http://localhost:8080"
}

// steamID returns an id no earlier run has used, since the server's journal
// outlives the test process.
func steamID(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano())
}

func TestE2E_PurchaseFlow(t *testing.T) {
	waitUntilReady(t)

	t.Run("new_account_has_starting_balances", func(t *testing.T) {
		id := steamID("1")

		bal := getBalance(t, id)
		if bal["Askal_Coin"] != 1000 || bal["Askal_Money"] != 0 {
			t.Fatalf("starting balances = %v", bal)
		}
	})

	t.Run("purchase_debits_once", func(t *testing.T) {
		id := steamID("2")

		code, body := rpc(t, "PurchaseItemRequest", purchaseBody(id, 300))
		if code != http.StatusOK {
			t.Fatalf("purchase: want 200, got %d (%v)", code, body)
		}

		if body["purchaseId"] == "" || body["success"] != true {
			t.Fatalf("purchase body = %v", body)
		}

		if got := getBalance(t, id)["Askal_Coin"]; got != 700 {
			t.Fatalf("after purchase: want 700, got %d", got)
		}
	})

	t.Run("insufficient_funds_conflict", func(t *testing.T) {
		id := steamID("3")

		code, body := rpc(t, "PurchaseItemRequest", purchaseBody(id, 1001))
		if code != http.StatusConflict || body["kind"] != "InsufficientFunds" {
			t.Fatalf("want 409 InsufficientFunds, got %d (%v)", code, body)
		}

		if got := getBalance(t, id)["Askal_Coin"]; got != 1000 {
			t.Fatalf("balance changed: %d", got)
		}
	})

	t.Run("invalid_request", func(t *testing.T) {
		code, _ := rpc(t, "PurchaseItemRequest", purchaseBody(steamID("4"), 0))
		if code != http.StatusBadRequest {
			t.Fatalf("zero price: want 400, got %d", code)
		}

		code, _ = rpc(t, "PurchaseItemRequest", map[string]any{"steamId": steamID("5"), "price": 1, "bogus": true})
		if code != http.StatusBadRequest {
			t.Fatalf("unknown field: want 400, got %d", code)
		}
	})

	t.Run("rate_limited_after_five", func(t *testing.T) {
		id := steamID("6")

		for i := range 5 {
			code, body := rpc(t, "PurchaseItemRequest", purchaseBody(id, 1))
			if code != http.StatusOK {
				t.Fatalf("purchase %d: want 200, got %d (%v)", i, code, body)
			}
		}

		resp, body := rpcResponse(t, "PurchaseItemRequest", purchaseBody(id, 1))
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("sixth purchase: want 429, got %d (%v)", resp.StatusCode, body)
		}

		if resp.Header.Get("Retry-After") == "" {
			t.Fatal("missing Retry-After header")
		}

		if got := getBalance(t, id)["Askal_Coin"]; got != 995 {
			t.Fatalf("after limited burst: want 995, got %d", got)
		}
	})
}

func TestE2E_ConcurrentPurchasesSameAccount(t *testing.T) {
	waitUntilReady(t)

	id := steamID("7")

	const n = 5

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[int]int{}
	)

	for range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			code, _ := rpc(t, "PurchaseItemRequest", purchaseBody(id, 400))

			mu.Lock()
			codes[code]++
			mu.Unlock()
		}()
	}

	wg.Wait()

	// 1000 covers at most two purchases of 400. Losers see a conflict,
	// insufficient funds or a lock timeout, never a server error.
	ok := codes[http.StatusOK]
	if ok < 1 || ok > 2 || ok+codes[http.StatusConflict]+codes[http.StatusGatewayTimeout] != n {
		t.Fatalf("status counts = %v", codes)
	}

	if got := getBalance(t, id)["Askal_Coin"]; got != 1000-400*int64(ok) {
		t.Fatalf("final balance: want %d, got %d", 1000-400*ok, got)
	}
}

func TestE2E_ReservationLifecycle(t *testing.T) {
	waitUntilReady(t)

	id := steamID("8")

	code, body := rpc(t, "AddBalance", map[string]any{"steamId": id, "currencyId": "Askal_Money", "amount": 50})
	if code != http.StatusOK {
		t.Fatalf("add balance: %d (%v)", code, body)
	}

	code, body = rpc(t, "ReserveFunds", map[string]any{"steamId": id, "currencyId": "Askal_Money", "amount": 30})
	if code != http.StatusOK {
		t.Fatalf("reserve: %d (%v)", code, body)
	}

	resID := body["reservationId"]

	code, body = rpc(t, "ReserveFunds", map[string]any{"steamId": id, "currencyId": "Askal_Money", "amount": 10})
	if code != http.StatusConflict || body["kind"] != "ReservationConflict" {
		t.Fatalf("second reserve: want 409 ReservationConflict, got %d (%v)", code, body)
	}

	code, body = rpc(t, "ReleaseReservation", map[string]any{"reservationId": resID})
	if code != http.StatusOK {
		t.Fatalf("release: %d (%v)", code, body)
	}

	code, body = rpc(t, "ConfirmReservation", map[string]any{"reservationId": resID})
	if code != http.StatusConflict || body["kind"] != "InvalidState" {
		t.Fatalf("confirm after release: want 409 InvalidState, got %d (%v)", code, body)
	}

	if got := getBalance(t, id)["Askal_Money"]; got != 50 {
		t.Fatalf("after release: want 50, got %d", got)
	}
}

/* -------------------- helpers -------------------- */

func purchaseBody(steamID string, price int64) map[string]any {
	return map[string]any{
		"steamId":      steamID,
		"itemClass":    "Sword",
		"price":        price,
		"currencyId":   "Askal_Coin",
		"quantity":     1,
		"quantityType": 0,
		"contentType":  0,
	}
}

func rpc(t *testing.T, method string, payload any) (int, map[string]any) {
	t.Helper()

	resp, body := rpcResponse(t, method, payload)

	return resp.StatusCode, body
}

func rpcResponse(t *testing.T, method string, payload any) (*http.Response, map[string]any) {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Errorf("marshal: %v", err)
		return &http.Response{}, nil
	}

	resp, err := httpClient.Post(baseURL()+"/rpc/"+method, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Errorf("POST %s: %v", method, err)
		return &http.Response{}, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	return resp, body
}

func getBalance(t *testing.T, steamID string) map[string]int64 {
	t.Helper()

	u := fmt.Sprintf("%s/api/balance/%s", baseURL(), steamID)

	resp, err := httpClient.Get(u)
	if err != nil {
		t.Fatalf("GET %s: %v", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s: want 200, got %d (%s)", u, resp.StatusCode, b)
	}

	var payload struct {
		SteamID string           `json:"steamId"`
		Balance map[string]int64 `json:"balance"`
	}

	err = json.NewDecoder(resp.Body).Decode(&payload)
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}

	if payload.SteamID != steamID {
		t.Fatalf("steamId mismatch: want %s, got %s", steamID, payload.SteamID)
	}

	return payload.Balance
}

// waitUntilReady polls /health until the server answers or waitReady passes.
func waitUntilReady(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitReady)
	defer cancel()

	u := baseURL() + "/health"

	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("service not ready at %s within %s", u, waitReady)
		case <-tick.C:
			resp, err := httpClient.Get(u)
			if err != nil {
				continue
			}

			_ = resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				return
			}
		}
	}
}

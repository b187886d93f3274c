// Package grant holds the item-granting collaborators used by the purchase
// coordinator.
package grant

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fastprodman/purchaseledger/internal/services/purchase"
)

const SignatureHeader = "X-Signature-SHA256"

var (
	_ purchase.Granter = Nop{}
	_ purchase.Granter = (*Webhook)(nil)
)

// Nop accepts every grant. Used when no game server is configured.
type Nop struct{}

func (Nop) Grant(_ context.Context, req purchase.GrantRequest) error {
	slog.Info("item granted (no-op)",
		"purchase_id", req.PurchaseID, "steam_id", req.SteamID,
		"item_class", req.ItemClass, "quantity", req.Quantity)

	return nil
}

// Webhook posts the grant as JSON to a game server. Any 2xx response means
// the item was delivered.
type Webhook struct {
	url    string
	secret []byte
	client *http.Client
}

func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		url:    url,
		secret: []byte(secret),
		// Deadlines come from the caller's context.
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Webhook) Grant(ctx context.Context, req purchase.GrantRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode grant: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build grant request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "PurchaseLedger-Grant/1.0")
	httpReq.Header.Set("Idempotency-Key", req.PurchaseID)

	if len(w.secret) > 0 {
		httpReq.Header.Set(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send grant: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("game server returned %d", resp.StatusCode)
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

package purchases

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Apple verifyReceipt status codes acted on here. Everything else is
// treated as a verification failure.
const (
	appleStatusOK             = 0
	appleStatusSandboxReceipt = 21007
)

const appleDateLayout = "2006-01-02 15:04:05 Etc/GMT"

// VerifiedPayload is the decoded body returned by Apple's verifyReceipt
// endpoint for an auto-renewable subscription receipt.
type VerifiedPayload struct {
	Status             int                  `json:"status"`
	Environment        string               `json:"environment,omitempty"`
	LatestReceipt      string               `json:"latest_receipt,omitempty"`
	LatestReceiptInfo  []ReceiptInfo        `json:"latest_receipt_info,omitempty"`
	PendingRenewalInfo []PendingRenewalInfo `json:"pending_renewal_info,omitempty"`
}

// OK reports whether Apple accepted the receipt.
func (p *VerifiedPayload) OK() bool {
	return p != nil && p.Status == appleStatusOK
}

// ReceiptInfo is one in-app transaction inside the verification payload.
// Apple sends every field as a string.
type ReceiptInfo struct {
	TransactionID          string `json:"transaction_id"`
	OriginalTransactionID  string `json:"original_transaction_id,omitempty"`
	WebOrderLineItemID     string `json:"web_order_line_item_id,omitempty"`
	ProductID              string `json:"product_id"`
	Quantity               string `json:"quantity,omitempty"`
	PurchaseDate           string `json:"purchase_date,omitempty"`
	PurchaseDateMS         string `json:"purchase_date_ms,omitempty"`
	OriginalPurchaseDate   string `json:"original_purchase_date,omitempty"`
	OriginalPurchaseDateMS string `json:"original_purchase_date_ms,omitempty"`
	ExpiresDate            string `json:"expires_date,omitempty"`
	ExpiresDateMS          string `json:"expires_date_ms,omitempty"`
	IsTrialPeriod          string `json:"is_trial_period,omitempty"`
}

// PurchasedAt parses the transaction's purchase timestamp.
func (r ReceiptInfo) PurchasedAt() *time.Time {
	return parseAppleTime(r.PurchaseDate, r.PurchaseDateMS)
}

// OriginalPurchasedAt parses the first purchase timestamp of the lineage.
func (r ReceiptInfo) OriginalPurchasedAt() *time.Time {
	return parseAppleTime(r.OriginalPurchaseDate, r.OriginalPurchaseDateMS)
}

// Units parses the purchased quantity, nil when absent or malformed.
func (r ReceiptInfo) Units() *int {
	n, err := strconv.Atoi(strings.TrimSpace(r.Quantity))
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// ExpiresAt parses the transaction's expiration timestamp.
func (r ReceiptInfo) ExpiresAt() *time.Time {
	return parseAppleTime(r.ExpiresDate, r.ExpiresDateMS)
}

// Trial parses the trial flag, nil when Apple omitted it.
func (r ReceiptInfo) Trial() *bool {
	switch strings.ToLower(strings.TrimSpace(r.IsTrialPeriod)) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	}
	return nil
}

// PendingRenewalInfo carries Apple's renewal state for one product lineage.
type PendingRenewalInfo struct {
	ProductID          string `json:"product_id,omitempty"`
	AutoRenewProductID string `json:"auto_renew_product_id,omitempty"`
	AutoRenewStatus    string `json:"auto_renew_status,omitempty"`
	PriceConsentStatus string `json:"price_consent_status,omitempty"`
}

// Consented reports whether the customer agreed to a pending price increase.
func (p PendingRenewalInfo) Consented() bool {
	return p.PriceConsentStatus == "1"
}

// HasConsentFor reports whether any renewal row for productID records
// price consent.
func HasConsentFor(rows []PendingRenewalInfo, productID string) bool {
	for _, row := range rows {
		if row.ProductID == productID && row.Consented() {
			return true
		}
	}
	return false
}

// LatestOf returns the receipt with the furthest expiration. Source order
// is not meaningful; ties keep the earlier element.
func LatestOf(infos []ReceiptInfo) *ReceiptInfo {
	var latest *ReceiptInfo
	var latestExpiry time.Time
	for i := range infos {
		expiry := infos[i].ExpiresAt()
		if expiry == nil {
			continue
		}
		if latest == nil || expiry.After(latestExpiry) {
			latest = &infos[i]
			latestExpiry = *expiry
		}
	}
	return latest
}

// latestReceiptData extracts the renewable base64 receipt blob from a
// stored verification response, for server-initiated re-verification.
func latestReceiptData(raw []byte) (string, error) {
	var payload VerifiedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", err
	}
	return payload.LatestReceipt, nil
}

func parseAppleTime(dateField, msField string) *time.Time {
	if ms := strings.TrimSpace(msField); ms != "" {
		if millis, err := strconv.ParseInt(ms, 10, 64); err == nil && millis > 0 {
			t := time.UnixMilli(millis).UTC()
			return &t
		}
	}
	raw := strings.TrimSpace(dateField)
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(appleDateLayout, raw); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}

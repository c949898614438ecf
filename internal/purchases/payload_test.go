package purchases

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseAppleTimePrefersMilliseconds(t *testing.T) {
	info := ReceiptInfo{
		ExpiresDate:   "2026-01-15 10:30:00 Etc/GMT",
		ExpiresDateMS: "1768473000000",
	}
	got := info.ExpiresAt()
	if got == nil {
		t.Fatalf("expected a timestamp")
	}
	want := time.UnixMilli(1768473000000).UTC()
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestParseAppleTimeLayoutFallback(t *testing.T) {
	info := ReceiptInfo{PurchaseDate: "2026-01-15 10:30:00 Etc/GMT"}
	got := info.PurchasedAt()
	if got == nil {
		t.Fatalf("expected a timestamp")
	}
	if got.Year() != 2026 || got.Month() != time.January || got.Day() != 15 {
		t.Fatalf("unexpected date: %s", got)
	}
	if got.Hour() != 10 || got.Minute() != 30 {
		t.Fatalf("unexpected time of day: %s", got)
	}
}

func TestParseAppleTimeUnparseable(t *testing.T) {
	info := ReceiptInfo{ExpiresDate: "not a date", ExpiresDateMS: "also not"}
	if got := info.ExpiresAt(); got != nil {
		t.Fatalf("expected nil, got %s", got)
	}
}

func TestTrialFlag(t *testing.T) {
	cases := map[string]*bool{
		"true":  boolPtr(true),
		"TRUE":  boolPtr(true),
		"false": boolPtr(false),
		"":      nil,
		"maybe": nil,
	}
	for raw, want := range cases {
		got := ReceiptInfo{IsTrialPeriod: raw}.Trial()
		if (got == nil) != (want == nil) {
			t.Fatalf("%q: expected %v, got %v", raw, want, got)
		}
		if got != nil && *got != *want {
			t.Fatalf("%q: expected %v, got %v", raw, *want, *got)
		}
	}
}

func boolPtr(v bool) *bool { return &v }

func TestUnits(t *testing.T) {
	cases := map[string]*int{
		"1":   intPtr(1),
		"3":   intPtr(3),
		" 2 ": intPtr(2),
		"":    nil,
		"0":   nil,
		"-1":  nil,
		"two": nil,
	}
	for raw, want := range cases {
		got := ReceiptInfo{Quantity: raw}.Units()
		if (got == nil) != (want == nil) {
			t.Fatalf("%q: expected %v, got %v", raw, want, got)
		}
		if got != nil && *got != *want {
			t.Fatalf("%q: expected %d, got %d", raw, *want, *got)
		}
	}
}

func intPtr(v int) *int { return &v }

func TestReceiptInfoDecodesLineItemFields(t *testing.T) {
	raw := []byte(`{
		"transaction_id": "txn-1",
		"web_order_line_item_id": "woli-1",
		"product_id": "com.foundermark.Friended.prosub",
		"quantity": "1",
		"original_purchase_date_ms": "1768473000000"
	}`)
	var info ReceiptInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.WebOrderLineItemID != "woli-1" {
		t.Fatalf("expected woli-1, got %q", info.WebOrderLineItemID)
	}
	units := info.Units()
	if units == nil || *units != 1 {
		t.Fatalf("expected quantity 1, got %v", units)
	}
	original := info.OriginalPurchasedAt()
	if original == nil || !original.Equal(time.UnixMilli(1768473000000).UTC()) {
		t.Fatalf("unexpected original purchase date: %v", original)
	}
}

func TestLatestOfPicksFurthestExpiration(t *testing.T) {
	infos := []ReceiptInfo{
		{TransactionID: "t1", ExpiresDateMS: "1700000000000"},
		{TransactionID: "t3", ExpiresDateMS: "1900000000000"},
		{TransactionID: "t2", ExpiresDateMS: "1800000000000"},
		{TransactionID: "t0"},
	}
	latest := LatestOf(infos)
	if latest == nil || latest.TransactionID != "t3" {
		t.Fatalf("expected t3, got %+v", latest)
	}
}

func TestLatestOfTieKeepsEarlierElement(t *testing.T) {
	infos := []ReceiptInfo{
		{TransactionID: "first", ExpiresDateMS: "1800000000000"},
		{TransactionID: "second", ExpiresDateMS: "1800000000000"},
	}
	latest := LatestOf(infos)
	if latest == nil || latest.TransactionID != "first" {
		t.Fatalf("expected first, got %+v", latest)
	}
}

func TestLatestOfAllUnexpiring(t *testing.T) {
	if got := LatestOf([]ReceiptInfo{{TransactionID: "t1"}}); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestHasConsentFor(t *testing.T) {
	rows := []PendingRenewalInfo{
		{ProductID: "com.example.other", PriceConsentStatus: "1"},
		{ProductID: "com.foundermark.Friended.prosub", PriceConsentStatus: "0"},
	}
	if HasConsentFor(rows, "com.foundermark.Friended.prosub") {
		t.Fatalf("consent status 0 must not count as consent")
	}
	rows[1].PriceConsentStatus = "1"
	if !HasConsentFor(rows, "com.foundermark.Friended.prosub") {
		t.Fatalf("expected consent for matching product")
	}
	if HasConsentFor(rows, "com.example.unknown") {
		t.Fatalf("unknown product must report no consent")
	}
}

func TestPayloadOK(t *testing.T) {
	if (&VerifiedPayload{Status: 21007}).OK() {
		t.Fatalf("sandbox status is not OK")
	}
	if !(&VerifiedPayload{Status: 0}).OK() {
		t.Fatalf("status 0 is OK")
	}
	var nilPayload *VerifiedPayload
	if nilPayload.OK() {
		t.Fatalf("nil payload is not OK")
	}
}

func TestLatestReceiptData(t *testing.T) {
	raw := []byte(`{"status":0,"latest_receipt":"b64data"}`)
	got, err := latestReceiptData(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "b64data" {
		t.Fatalf("expected b64data, got %q", got)
	}
	if _, err := latestReceiptData([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

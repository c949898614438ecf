package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPurchaseReceiptsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_purchase_receipts.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no purchase receipts migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS purchase_receipts",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_purchase_receipts_transaction_id",
		"internal_status receipt_status_enum NOT NULL DEFAULT 'initial'",
		"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS purchase_receipts",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestProductTypesMigrationValidatesPeriods(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_product_types.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no product types migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CHECK (period_days IN (7, 30, 60, 90, 180, 365))",
		"subscription_price NUMERIC(12,2) NOT NULL DEFAULT 9.99",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_product_types_apple_product_id",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

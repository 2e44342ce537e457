package config

import "testing"

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("/nonexistent/odinflash.yml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := defaults()
	if cfg.VendorID != want.VendorID {
		t.Fatalf("expected default vendor id 0x%04X, got 0x%04X", want.VendorID, cfg.VendorID)
	}
	if cfg.CommandTimeout != want.CommandTimeout {
		t.Fatalf("expected default command timeout %v, got %v", want.CommandTimeout, cfg.CommandTimeout)
	}
	if len(cfg.ProductIDs) != len(want.ProductIDs) {
		t.Fatalf("expected %d default product ids, got %d", len(want.ProductIDs), len(cfg.ProductIDs))
	}
}

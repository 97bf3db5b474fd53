package config

import (
	"strings"
	"testing"
	"time"

	"github.com/tkingovr/adminsync/internal/policy"
)

func TestLoad_Example(t *testing.T) {
	cfg, err := Load("../../testdata/adminsync.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Resources) != 4 {
		t.Fatalf("expected 4 resources, got %d", len(cfg.Resources))
	}

	orders, ok := cfg.Resource("orders")
	if !ok {
		t.Fatal("orders not found")
	}
	if orders.SummaryPath != "/dashboard/summary" || !orders.Watched() {
		t.Errorf("orders should poll the summary endpoint: %+v", orders)
	}
	if orders.PollInterval != 15*time.Second || orders.Dwell != 2*time.Second {
		t.Errorf("unexpected timers %s/%s", orders.PollInterval, orders.Dwell)
	}

	vendors, _ := cfg.Resource("vendors")
	if vendors.PageSizeParam != "pageSize" || !vendors.ConfirmDelete {
		t.Errorf("unexpected vendors config %+v", vendors)
	}
	if vendors.PageSize != DefaultPageSize || vendors.ItemsKey != DefaultItemsKey {
		t.Errorf("vendors should use defaults, got page_size=%d items_key=%s", vendors.PageSize, vendors.ItemsKey)
	}

	banners, _ := cfg.Resource("banners")
	if banners.Pagination != PaginationClient {
		t.Errorf("expected client pagination, got %s", banners.Pagination)
	}
}

func TestLoadBytes_Defaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
version: 1
resources:
  - name: orders
    path: /orders
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DashboardAddr != DefaultDashboardAddr {
		t.Errorf("expected default dashboard addr %s, got %s", DefaultDashboardAddr, cfg.DashboardAddr)
	}
	if cfg.Backend.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout %s, got %s", DefaultTimeout, cfg.Backend.Timeout)
	}
	if cfg.Backend.APIKeyHeader != DefaultAPIKeyHeader {
		t.Errorf("expected api key header %s, got %s", DefaultAPIKeyHeader, cfg.Backend.APIKeyHeader)
	}
	r := cfg.Resources[0]
	if r.Title != "orders" || r.Pagination != PaginationServer || r.Watched() {
		t.Errorf("unexpected resource defaults %+v", r)
	}
}

func TestLoadBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"version", "version: 3\n"},
		{"timeout", "version: 1\nbackend:\n  timeout: soon\n"},
		{"negative dwell", "version: 1\nresources:\n  - name: a\n    path: /a\n    dwell: -1s\n"},
		{"missing path", "version: 1\nresources:\n  - name: a\n"},
		{"duplicate", "version: 1\nresources:\n  - name: a\n    path: /a\n  - name: a\n    path: /b\n"},
		{"pagination", "version: 1\nresources:\n  - name: a\n    path: /a\n    pagination: both\n"},
		{"rule action", "version: 1\nrules:\n  - name: r\n    action: ask\n"},
		{"log format", "version: 1\nsettings:\n  log_format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadBytes([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADMINSYNC_BASE_URL", "http://backend.test/api")
	t.Setenv("ADMINSYNC_TOKEN", "tok")

	cfg, err := LoadBytes([]byte("version: 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.BaseURL != "http://backend.test/api" {
		t.Errorf("base url override not applied: %s", cfg.Backend.BaseURL)
	}
	if cfg.Session.Token != "tok" {
		t.Errorf("token override not applied: %q", cfg.Session.Token)
	}
}

func TestRequiredRules(t *testing.T) {
	cfg, err := Load("../../testdata/adminsync.yaml")
	if err != nil {
		t.Fatal(err)
	}
	rules := cfg.RequiredRules()
	// vendors 2 + coupons 4 + banners 1, each for create and update.
	if len(rules) != 14 {
		t.Fatalf("expected 14 rules, got %d", len(rules))
	}
	for _, r := range rules {
		if policy.Verdict(r.Action) != policy.VerdictDeny {
			t.Errorf("rule %s should deny", r.Name)
		}
	}
}

func TestMarshalYAML_Redacts(t *testing.T) {
	cfg, err := Load("../../testdata/adminsync.yaml")
	if err != nil {
		t.Fatal(err)
	}
	out, err := cfg.MarshalYAML()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "dev-api-key") {
		t.Error("api key leaked into YAML output")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.File == nil {
		t.Fatal("expected non-nil file")
	}
	if cfg.NoticeTTL != DefaultNoticeTTL {
		t.Errorf("expected notice ttl %s, got %s", DefaultNoticeTTL, cfg.NoticeTTL)
	}
}

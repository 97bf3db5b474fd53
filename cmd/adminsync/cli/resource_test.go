package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/view"
)

func TestStdinConfirmer(t *testing.T) {
	tests := []struct {
		input string
		yes   bool
		want  bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", false, false},
		{"\n", false, false},
		{"", false, false},
		{"", true, true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		c := stdinConfirmer{in: strings.NewReader(tt.input), out: &out, yes: tt.yes}
		got, err := c.Confirm(context.Background(), "vendors", "ven-1", "Delete Vendors ven-1?")
		if err != nil {
			t.Fatalf("Confirm(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Confirm(%q, yes=%v) = %v, want %v", tt.input, tt.yes, got, tt.want)
		}
		if tt.yes && out.Len() != 0 {
			t.Errorf("prompt written with --yes: %q", out.String())
		}
		if !tt.yes && !strings.Contains(out.String(), "Delete Vendors ven-1? [y/N]") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestWriteTable(t *testing.T) {
	snap := view.Snapshot{
		Params: api.QueryParams{Page: 2},
		Page: api.ResourcePage{
			Items: []api.Resource{
				{ID: "ven-1", Fields: map[string]any{"id": "ven-1", "name": "Acme", "phone": "555-0100"}},
				{ID: "ven-2", Fields: map[string]any{"id": "ven-2", "name": "Globex"}},
			},
			TotalCount: 12,
			TotalPages: 3,
		},
	}

	var buf bytes.Buffer
	if err := writeTable(&buf, snap, nil); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	lines := strings.Split(out, "\n")
	if fields := strings.Fields(lines[0]); strings.Join(fields, ",") != "ID,NAME,PHONE" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Acme") || !strings.Contains(lines[1], "555-0100") {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.Contains(out, "page 2/3  12 total") {
		t.Errorf("missing footer in %q", out)
	}
}

func TestWriteTableConfiguredColumns(t *testing.T) {
	snap := view.Snapshot{
		Params: api.QueryParams{Page: 1},
		Page: api.ResourcePage{
			Items: []api.Resource{{ID: "cou-1", Fields: map[string]any{"code": "SPRING", "discount": 10, "secret": "x"}}},
		},
	}
	var buf bytes.Buffer
	if err := writeTable(&buf, snap, []string{"code", "id", "discount"}); err != nil {
		t.Fatal(err)
	}
	header := strings.Fields(strings.SplitN(buf.String(), "\n", 2)[0])
	if strings.Join(header, ",") != "ID,CODE,DISCOUNT" {
		t.Errorf("header = %v", header)
	}
	if strings.Contains(buf.String(), "secret") {
		t.Error("unconfigured column rendered")
	}
	if !strings.Contains(buf.String(), "page 1/1  0 total") {
		t.Errorf("footer missing in %q", buf.String())
	}
}

package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tkingovr/adminsync/api"
)

func TestJSONLStore_WriteAndQuery(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONLStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()

	record := &api.MutationRecord{
		Timestamp: time.Now(),
		Resource:  "coupons",
		Kind:      api.MutationCreate,
		Payload:   map[string]any{"code": "SAVE10"},
		Outcome:   api.OutcomeSuccess,
	}
	if err := store.Write(ctx, record); err != nil {
		t.Fatal(err)
	}
	if record.ID == "" {
		t.Error("expected generated ID")
	}

	results, err := store.Query(ctx, api.QueryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Resource != "coupons" {
		t.Errorf("expected resource coupons, got %s", results[0].Resource)
	}
}

func TestJSONLStore_QueryFilter(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONLStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()

	records := []*api.MutationRecord{
		{Timestamp: time.Now(), Resource: "coupons", Kind: api.MutationCreate, Outcome: api.OutcomeSuccess},
		{Timestamp: time.Now(), Resource: "vendors", Kind: api.MutationDelete, Outcome: api.OutcomeFailure},
		{Timestamp: time.Now(), Resource: "coupons", Kind: api.MutationUpdate, Outcome: api.OutcomeInvalid},
	}
	for _, r := range records {
		if err := store.Write(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	results, err := store.Query(ctx, api.QueryFilter{Outcome: api.OutcomeFailure})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Resource != "vendors" {
		t.Fatalf("expected 1 failure for vendors, got %+v", results)
	}

	results, err = store.Query(ctx, api.QueryFilter{Resource: "coupons"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 coupon results, got %d", len(results))
	}

	results, err = store.Query(ctx, api.QueryFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Resource != "vendors" {
		t.Fatalf("unexpected page %+v", results)
	}
}

func TestJSONLStore_Stats(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONLStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	records := []*api.MutationRecord{
		{Resource: "coupons", Kind: api.MutationCreate, Outcome: api.OutcomeSuccess},
		{Resource: "coupons", Kind: api.MutationCreate, Outcome: api.OutcomeInvalid},
		{Resource: "vendors", Kind: api.MutationDelete, Outcome: api.OutcomeCancelled},
		{Resource: "vendors", Kind: api.MutationUpdate, Outcome: api.OutcomeFailure},
	}
	for _, r := range records {
		if err := store.Write(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 4 || stats.Successes != 1 || stats.Invalid != 1 || stats.Cancelled != 1 || stats.Failures != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.ByResource["coupons"] != 2 || stats.ByKind["create"] != 2 {
		t.Errorf("unexpected breakdown %+v", stats)
	}
}

func TestJSONLStore_FileCreationAndReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONLStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	record := &api.MutationRecord{Timestamp: now, Resource: "banners", Kind: api.MutationDelete, Outcome: api.OutcomeSuccess}
	if err := store.Write(context.Background(), record); err != nil {
		t.Fatal(err)
	}
	store.Close()

	expectedFile := filepath.Join(dir, now.Format("2006-01-02")+".jsonl")
	if _, err := os.Stat(expectedFile); os.IsNotExist(err) {
		t.Fatalf("expected history file %s to exist", expectedFile)
	}

	reopened, err := NewJSONLStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	results, _ := reopened.Query(context.Background(), api.QueryFilter{})
	if len(results) != 1 || results[0].ID != record.ID {
		t.Errorf("history not reloaded: %+v", results)
	}
}

func TestJSONLStore_Subscribe(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONLStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ch, cancel := store.Subscribe(context.Background())
	defer cancel()

	go store.Write(context.Background(), &api.MutationRecord{Resource: "orders", Kind: api.MutationUpdate, Outcome: api.OutcomeSuccess})

	select {
	case r := <-ch:
		if r.Resource != "orders" {
			t.Errorf("expected resource orders, got %s", r.Resource)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for subscription event")
	}
}

package notify

import (
	"testing"
	"time"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/clock"
)

func TestHub_ActiveExpires(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	h := NewHub(4*time.Second, 10, clk)

	n := h.Publish("coupons", api.NoticeSuccess, "Coupon created")
	if n.ID == "" {
		t.Fatal("expected notice ID")
	}
	if got := h.Active(); len(got) != 1 || got[0].Message != "Coupon created" {
		t.Fatalf("expected one active notice, got %+v", got)
	}

	clk.Advance(4 * time.Second)
	if got := h.Active(); len(got) != 0 {
		t.Fatalf("expected notice to expire, got %+v", got)
	}
	if got := h.Recent(0); len(got) != 1 {
		t.Fatalf("expected expired notice in history, got %d", len(got))
	}
}

func TestHub_Dismiss(t *testing.T) {
	h := NewHub(time.Minute, 10, nil)
	n := h.Publish("vendors", api.NoticeError, "Phone is required")

	if !h.Dismiss(n.ID) {
		t.Fatal("expected dismiss to find notice")
	}
	if h.Dismiss("missing") {
		t.Error("expected unknown ID to be rejected")
	}
	if got := h.Active(); len(got) != 0 {
		t.Errorf("dismissed notice still active: %+v", got)
	}
}

func TestHub_RingBuffer(t *testing.T) {
	h := NewHub(time.Minute, 3, nil)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		h.Report("orders", api.NoticeInfo, msg)
	}

	got := h.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 buffered notices, got %d", len(got))
	}
	if got[0].Message != "e" || got[2].Message != "c" {
		t.Errorf("unexpected order: %s %s %s", got[0].Message, got[1].Message, got[2].Message)
	}

	if got := h.Recent(2); len(got) != 2 {
		t.Errorf("expected limit to apply, got %d", len(got))
	}
}

func TestHub_Subscribe(t *testing.T) {
	h := NewHub(time.Minute, 10, nil)
	ch, cancel := h.Subscribe()

	h.Report("banners", api.NoticeError, "Upload failed")

	select {
	case n := <-ch:
		if n.Level != api.NoticeError || n.Resource != "banners" {
			t.Errorf("unexpected notice %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notice")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after cancel")
	}
}

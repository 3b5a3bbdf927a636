package guard

import (
	"context"
	"testing"
	"time"
)

func TestReplayGuard_DetectsDuplicate(t *testing.T) {
	g := &ReplayGuard{Store: NewMemoryReplayStore(), TTL: time.Minute}
	ctx := context.Background()

	seen, err := g.Seen(ctx, "ns_1", 50000)
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Error("unseen offer reported as seen")
	}

	if err := g.Record(ctx, "ns_1", 50000); err != nil {
		t.Fatalf("Record: %v", err)
	}

	seen, err = g.Seen(ctx, "ns_1", 50000)
	if err != nil {
		t.Fatalf("Seen after record: %v", err)
	}
	if !seen {
		t.Error("recorded offer not reported as seen")
	}

	// A different offer in the same session is fresh.
	seen, _ = g.Seen(ctx, "ns_1", 50001)
	if seen {
		t.Error("different offer reported as seen")
	}

	// The same offer in a different session is fresh.
	seen, _ = g.Seen(ctx, "ns_2", 50000)
	if seen {
		t.Error("same offer in another session reported as seen")
	}
}

func TestOfferDigest_StableAndDistinct(t *testing.T) {
	if OfferDigest(50000) != OfferDigest(50000) {
		t.Error("digest not stable for equal offers")
	}
	if OfferDigest(50000) == OfferDigest(50001) {
		t.Error("digest collision for adjacent offers")
	}
	if len(OfferDigest(1)) != 16 {
		t.Errorf("digest length = %d, want 16", len(OfferDigest(1)))
	}
}

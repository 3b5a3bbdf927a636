package store

import (
	"context"
	"testing"
	"time"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

func TestFraudFlagRepo_InsertAndList(t *testing.T) {
	db := newTestDB(t)
	repo := &FraudFlagRepo{}
	ctx := context.Background()
	now := time.Now().Unix()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	flags := []domain.FraudFlag{
		{SessionID: "ns_1", UserID: "u1", Kind: "extreme_lowball", Severity: domain.SeverityMedium, Detail: "offer 10000 below 50% of base 100000", CreatedAtUnix: now},
		{SessionID: "ns_1", UserID: "u1", Kind: "excessive_negotiations", Severity: domain.SeverityHigh, Detail: "21 attempts in trailing 24h", CreatedAtUnix: now},
	}
	for _, f := range flags {
		if err := repo.InsertTx(ctx, tx, f); err != nil {
			tx.Rollback()
			t.Fatalf("InsertTx: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := repo.ListBySession(ctx, db, "ns_1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Kind != "extreme_lowball" || got[0].Severity != domain.SeverityMedium {
		t.Errorf("flag 0 mismatch: %+v", got[0])
	}
	if got[1].Severity != domain.SeverityHigh {
		t.Errorf("flag 1 severity = %s, want high", got[1].Severity)
	}

	other, err := repo.ListBySession(ctx, db, "ns_other")
	if err != nil {
		t.Fatalf("ListBySession other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated session has %d flags", len(other))
	}
}

//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"krishi-billing/internal/domain"
	"krishi-billing/internal/domain/model"
)

// seedSubscriptionRow satisfies the FK from billing_transactions.
func seedSubscriptionRow(t *testing.T, ctx context.Context, merchantID string) string {
	t.Helper()
	repo := newSubRepo(t)
	sub, _ := model.NewTrialSubscription(uuid.NewString(), merchantID, "user-1", 14)
	if err := repo.Save(ctx, nil, sub); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub.ID
}

func TestTransactionRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewTransactionRepo(testPool)

	t.Run("should save and find a pending attempt", func(t *testing.T) {
		cleanup(t)
		subID := seedSubscriptionRow(t, ctx, "merchant-1")
		rec, _ := model.NewTransactionRecord("TXN_1", "merchant-1", subID, model.TransactionKindMandateCreate, 399900)

		if err := repo.Save(ctx, nil, rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		found, err := repo.FindByID(ctx, nil, "TXN_1")
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if found.Status != model.TransactionStatusPending || found.AmountPaise != 399900 {
			t.Errorf("found = %+v", found)
		}
	})

	t.Run("UpdateStatusIfPending settles exactly once", func(t *testing.T) {
		cleanup(t)
		subID := seedSubscriptionRow(t, ctx, "merchant-1")
		rec, _ := model.NewTransactionRecord("TXN_1", "merchant-1", subID, model.TransactionKindMandateCreate, 399900)
		if err := repo.Save(ctx, nil, rec); err != nil {
			t.Fatal(err)
		}

		// first settlement wins
		won, err := repo.UpdateStatusIfPending(ctx, nil, "TXN_1", model.TransactionStatusSuccess, "MANDATE9", "PAYMENT_SUCCESS")
		if err != nil || !won {
			t.Fatalf("first settle: won=%v err=%v", won, err)
		}
		// the racing path loses silently
		won, err = repo.UpdateStatusIfPending(ctx, nil, "TXN_1", model.TransactionStatusFailed, "", "PAYMENT_ERROR")
		if err != nil {
			t.Fatalf("second settle errored: %v", err)
		}
		if won {
			t.Error("second settlement must not win")
		}

		found, _ := repo.FindByID(ctx, nil, "TXN_1")
		if found.Status != model.TransactionStatusSuccess || found.GatewayMandateID != "MANDATE9" {
			t.Errorf("found = %+v", found)
		}
	})

	t.Run("empty mandate id does not erase a stored one", func(t *testing.T) {
		cleanup(t)
		subID := seedSubscriptionRow(t, ctx, "merchant-1")
		rec, _ := model.NewTransactionRecord("TXN_1", "merchant-1", subID, model.TransactionKindRecurringDebit, 399900)
		rec.GatewayMandateID = "MANDATE9"
		if err := repo.Save(ctx, nil, rec); err != nil {
			t.Fatal(err)
		}

		if _, err := repo.UpdateStatusIfPending(ctx, nil, "TXN_1", model.TransactionStatusSuccess, "", "PAYMENT_SUCCESS"); err != nil {
			t.Fatal(err)
		}
		found, _ := repo.FindByID(ctx, nil, "TXN_1")
		if found.GatewayMandateID != "MANDATE9" {
			t.Errorf("mandate id erased: %q", found.GatewayMandateID)
		}
	})

	t.Run("ListPendingOlderThan feeds the reconciler oldest first", func(t *testing.T) {
		cleanup(t)
		subID := seedSubscriptionRow(t, ctx, "merchant-1")

		old, _ := model.NewTransactionRecord("TXN_OLD", "merchant-1", subID, model.TransactionKindMandateCreate, 399900)
		old.CreatedAt = time.Now().Add(-30 * time.Minute)
		fresh, _ := model.NewTransactionRecord("TXN_FRESH", "merchant-1", subID, model.TransactionKindMandateCreate, 399900)
		settled, _ := model.NewTransactionRecord("TXN_DONE", "merchant-1", subID, model.TransactionKindMandateCreate, 399900)
		settled.CreatedAt = time.Now().Add(-30 * time.Minute)
		settled.Status = model.TransactionStatusSuccess

		for _, r := range []*model.TransactionRecord{old, fresh, settled} {
			if err := repo.Save(ctx, nil, r); err != nil {
				t.Fatal(err)
			}
		}

		got, err := repo.ListPendingOlderThan(ctx, nil, time.Now().Add(-10*time.Minute), 10)
		if err != nil {
			t.Fatalf("ListPendingOlderThan failed: %v", err)
		}
		if len(got) != 1 || got[0].MerchantTransactionID != "TXN_OLD" {
			t.Errorf("got %+v, want only TXN_OLD", got)
		}
	})

	t.Run("unknown transaction yields ErrNotFound", func(t *testing.T) {
		cleanup(t)
		if _, err := repo.FindByID(ctx, nil, "TXN_GHOST"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("want ErrNotFound, got %v", err)
		}
	})
}

// Dev utility: creates the billing schema and a sample trial merchant.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"krishi-billing/internal/config"
	"krishi-billing/internal/domain/model"
	pg "krishi-billing/internal/infra/db/postgres"
	"krishi-billing/internal/infra/security"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS merchant_subscriptions (
	id                   UUID PRIMARY KEY,
	merchant_id          TEXT NOT NULL UNIQUE,
	merchant_user_id     TEXT NOT NULL DEFAULT '',
	plan_type            TEXT,
	amount_paise         BIGINT NOT NULL DEFAULT 0,
	status               TEXT NOT NULL,
	mandate_id           TEXT NOT NULL DEFAULT '',
	mobile_number        TEXT NOT NULL DEFAULT '',
	trial_start_date     TIMESTAMPTZ,
	trial_end_date       TIMESTAMPTZ,
	next_billing_date    TIMESTAMPTZ,
	last_payment_date    TIMESTAMPTZ,
	total_payments_made  INT NOT NULL DEFAULT 0,
	total_amount_paid    BIGINT NOT NULL DEFAULT 0,
	failed_payment_count INT NOT NULL DEFAULT 0,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_merchant_subscriptions_due
	ON merchant_subscriptions (next_billing_date) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS billing_transactions (
	merchant_transaction_id TEXT PRIMARY KEY,
	merchant_id             TEXT NOT NULL,
	subscription_id         UUID NOT NULL REFERENCES merchant_subscriptions(id),
	kind                    TEXT NOT NULL,
	amount_paise            BIGINT NOT NULL,
	status                  TEXT NOT NULL,
	gateway_mandate_id      TEXT NOT NULL DEFAULT '',
	gateway_code            TEXT NOT NULL DEFAULT '',
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_billing_transactions_pending
	ON billing_transactions (created_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS webhook_events (
	id                      TEXT PRIMARY KEY,
	merchant_transaction_id TEXT NOT NULL,
	signature_hash          TEXT NOT NULL UNIQUE,
	processed_at            TIMESTAMPTZ NOT NULL
);`

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	merchantID := flag.String("merchant", "", "optionally seed a trial subscription for this merchant id")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, schema); err != nil {
		log.Fatalf("create schema: %v", err)
	}
	fmt.Println("schema ready")

	if *merchantID == "" {
		return
	}

	encSvc, err := security.NewEncryptionService("0123456789abcdef0123456789abcdef")
	if err != nil {
		log.Fatalf("encryption: %v", err)
	}
	subRepo := pg.NewSubscriptionRepo(pool, encSvc)
	sub, err := model.NewTrialSubscription(uuid.NewString(), *merchantID, "seed-user", cfg.Billing.TrialDays)
	if err != nil {
		log.Fatalf("new subscription: %v", err)
	}
	if err := subRepo.Save(ctx, nil, sub); err != nil {
		log.Fatalf("save subscription: %v", err)
	}
	fmt.Printf("seeded trial subscription for merchant %s (trial ends %s)\n", *merchantID, sub.TrialEndDate.Format(time.RFC3339))
}

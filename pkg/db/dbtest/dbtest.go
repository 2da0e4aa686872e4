// Package dbtest opens isolated in-memory sqlite databases carrying the payment schema.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/servicehub-backend/pkg/db"
)

var seq atomic.Int64

var schema = []string{
	`CREATE TABLE providers (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		bank_name TEXT,
		bank_code TEXT,
		account_number TEXT,
		account_name TEXT,
		recipient_code TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE bookings (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		total_amount TEXT NOT NULL,
		scheduled_date DATETIME NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE payments (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL UNIQUE,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'NGN',
		paystack_ref TEXT NOT NULL UNIQUE,
		transaction_id TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		paid_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE payouts (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		paystack_ref TEXT NOT NULL UNIQUE,
		transfer_code TEXT,
		recipient_code TEXT,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'NGN',
		status TEXT NOT NULL DEFAULT 'PENDING',
		failure_reason TEXT,
		previous_payment_status TEXT NOT NULL,
		previous_booking_status TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE webhook_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		paystack_ref TEXT NOT NULL,
		payload TEXT NOT NULL,
		signature_verified BOOLEAN NOT NULL DEFAULT 0,
		processed BOOLEAN NOT NULL DEFAULT 0,
		duplicate BOOLEAN NOT NULL DEFAULT 0,
		processed_at DATETIME,
		error TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_webhook_events_processed ON webhook_events (event_type, paystack_ref) WHERE processed AND NOT duplicate`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		booking_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		link TEXT,
		read_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_notifications_event_user ON notifications (event_id, user_id)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// Open returns a GORM handle on a fresh in-memory database with the schema applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, seq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// Client wraps Open in the shared db.Client.
func Client(t testing.TB) *db.Client {
	t.Helper()
	return db.Wrap(Open(t))
}

package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDumpCollectsStateAndRetryable(t *testing.T) {
	err := fmt.Errorf("release: %w", New(CodeInvalidState, "not releasable").WithDetails(StateDetails{
		Reason:         "payment_not_escrowed",
		CurrentStatus:  "PENDING",
		ExpectedStatus: "ESCROW",
	}))

	d := Dump(err)
	if d.Code != CodeInvalidState {
		t.Fatalf("unexpected code %q", d.Code)
	}
	if d.Retryable {
		t.Fatal("invalid state must not be retryable")
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected 2 chain entries, got %d", len(d.Chain))
	}
	fields := d.Fields()
	if fields["current_status"] != "PENDING" || fields["reason"] != "payment_not_escrowed" {
		t.Fatalf("state fields missing: %v", fields)
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatal("pg fields should be omitted")
	}
}

func TestDumpReadsPostgresDetail(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payouts_booking", TableName: "payouts"}
	d := Dump(Wrap(CodeConflict, pgErr, "insert payout"))
	if d.PG == nil || d.PG.Constraint != "ux_payouts_booking" {
		t.Fatalf("unexpected pg detail %+v", d.PG)
	}
	if d.Fields()["pg_table"] != "payouts" {
		t.Fatal("expected pg_table field")
	}
}

func TestDumpUntypedIsInternal(t *testing.T) {
	d := Dump(fmt.Errorf("boom"))
	if d.Code != CodeInternal || !d.Retryable {
		t.Fatalf("unexpected dump %+v", d)
	}
	if Dump(nil).TopMessage != "" {
		t.Fatal("nil error should dump empty")
	}
}

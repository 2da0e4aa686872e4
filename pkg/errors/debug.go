package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump is a flattened view of an error chain suitable for structured logs.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Retryable  bool     `json:"retryable"`
	Chain      []string `json:"chain,omitempty"`

	State *StateDetails `json:"state,omitempty"`
	PG    *PGDetail     `json:"pg,omitempty"`
}

// PGDetail carries the postgres diagnostics of a driver error.
type PGDetail struct {
	Code       string `json:"code,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Dump walks err and collects everything worth logging about it.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	code := CodeOf(err)
	d := ErrorDump{
		TopMessage: err.Error(),
		Code:       code,
		Retryable:  MetadataFor(code).Retryable,
		PG:         pgDetailOf(err),
	}
	if state, ok := StateDetailsOf(err); ok {
		d.State = &state
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	return d
}

// Fields renders the dump as logger fields. Empty values are omitted. The code
// is left to the logger, which stamps it on error lines.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":           d.TopMessage,
		"error_retryable": d.Retryable,
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	if s := d.State; s != nil {
		setIfPresent(fields, "reason", s.Reason)
		setIfPresent(fields, "current_status", s.CurrentStatus)
		setIfPresent(fields, "expected_status", s.ExpectedStatus)
		setIfPresent(fields, "gateway_status", s.GatewayStatus)
	}
	if pg := d.PG; pg != nil {
		setIfPresent(fields, "pg_code", pg.Code)
		setIfPresent(fields, "pg_constraint", pg.Constraint)
		setIfPresent(fields, "pg_table", pg.Table)
		setIfPresent(fields, "pg_column", pg.Column)
		setIfPresent(fields, "pg_detail", pg.Detail)
		setIfPresent(fields, "pg_message", pg.Message)
	}
	return fields
}

func pgDetailOf(err error) *PGDetail {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &PGDetail{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PGDetail{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}

func setIfPresent(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

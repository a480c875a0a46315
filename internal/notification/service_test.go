package notification

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"leadflow_backend/internal/sla/escalation"
	"leadflow_backend/platform/logger"
)

type stubRow struct{}

func (stubRow) Scan(dest ...any) error {
	if at, ok := dest[0].(*time.Time); ok {
		*at = time.Now().UTC()
	}
	return nil
}

// stubQuerier records every statement routed through it.
type stubQuerier struct {
	statements []string
}

func (q *stubQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	q.statements = append(q.statements, sql)
	return pgconn.CommandTag{}, nil
}

func (q *stubQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	q.statements = append(q.statements, sql)
	return nil, pgx.ErrNoRows
}

func (q *stubQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	q.statements = append(q.statements, sql)
	return stubRow{}
}

func TestNotifierBindsToQuerier(t *testing.T) {
	poolQ := &stubQuerier{}
	txQ := &stubQuerier{}
	base := NewService(NewRepository(poolQ), nil, "", logger.New("development"))

	bound := base.Notifier(txQ)
	err := bound.Notify(context.Background(), uuid.New(), uuid.New(),
		escalation.NotifyReminder, "SLA reminder", "body")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(poolQ.statements) != 0 {
		t.Fatalf("bound notifier wrote through the base querier: %v", poolQ.statements)
	}
	if len(txQ.statements) != 1 || !strings.Contains(txQ.statements[0], "INSERT INTO notifications") {
		t.Fatalf("expected one insert through the bound querier, got %v", txQ.statements)
	}
}

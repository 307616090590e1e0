package repo

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestNotFound(t *testing.T) {
	if err := notFound(pgx.ErrNoRows, "get run"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	err := notFound(errors.New("conn reset"), "get run")
	if errors.Is(err, ErrNotFound) || !strings.HasPrefix(err.Error(), "get run: ") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !isUniqueViolation(unique) {
		t.Error("expected unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not unique violation")
	}
	if isUniqueViolation(nil) {
		t.Error("nil is not unique violation")
	}
}

func TestSchemaTables(t *testing.T) {
	for _, table := range []string{"pipelines", "pipeline_versions", "runs", "schedules"} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("schema has no table %s", table)
		}
	}
}

func TestNullHelpers(t *testing.T) {
	if nullString("") != nil || *nullString("a") != "a" {
		t.Error("unexpected nullString")
	}
	if nullInt(0) != nil || *nullInt(5) != 5 {
		t.Error("unexpected nullInt")
	}
}

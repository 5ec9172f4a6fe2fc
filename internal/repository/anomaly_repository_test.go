package repository

import (
	"strings"
	"testing"
)

func TestInsertAnomalySQLIsIdempotent(t *testing.T) {
	if !strings.Contains(insertAnomalySQL, "ON CONFLICT (table_name, batch_row_id) DO NOTHING") {
		t.Errorf("history insert must dedupe on (table_name, batch_row_id):\n%s", insertAnomalySQL)
	}
	if strings.Contains(insertAnomalySQL, "DO UPDATE") {
		t.Error("history is append-only, conflicts must not update existing rows")
	}
}

package repository

import (
	"testing"

	"github.com/rpattn/batchwatch/internal/domain"
)

func specFixture() []domain.ColumnSpec {
	return []domain.ColumnSpec{
		{Name: "BatchID", SanitizedKey: "batchid", Type: domain.ColumnTypeText},
		{Name: "Energy Consumption (kWh)", SanitizedKey: "energy_consumption__kwh_", Type: domain.ColumnTypeFloat},
		{Name: "Passed", SanitizedKey: "passed", Type: domain.ColumnTypeBoolean},
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	got := BuildCreateTableSQL("csv_runs_20250601", specFixture())
	want := `CREATE TABLE "csv_runs_20250601" (id SERIAL PRIMARY KEY, ` +
		`upload_timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP, ` +
		`"batchid" TEXT, "energy_consumption__kwh_" DOUBLE PRECISION, "passed" BOOLEAN, ` +
		`anomaly_alert TEXT DEFAULT NULL)`

	if got != want {
		t.Errorf("BuildCreateTableSQL:\n got %s\nwant %s", got, want)
	}
}

func TestBuildInsertSQL(t *testing.T) {
	got := BuildInsertSQL("csv_runs_20250601", specFixture())
	want := `INSERT INTO "csv_runs_20250601" (upload_timestamp, "batchid", "energy_consumption__kwh_", "passed") ` +
		`VALUES ($1, $2, $3, $4)`

	if got != want {
		t.Errorf("BuildInsertSQL:\n got %s\nwant %s", got, want)
	}
}

func TestCheckIdent(t *testing.T) {
	valid := []string{"csv_runs", "energy_kwh", "_private", "a1"}
	for _, name := range valid {
		if err := checkIdent(name); err != nil {
			t.Errorf("checkIdent(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "1table", "Upper", "semi;colon", `quo"te`, "drop table", "col-name"}
	for _, name := range invalid {
		if err := checkIdent(name); err == nil {
			t.Errorf("checkIdent(%q) accepted an unsafe identifier", name)
		}
	}
}

func TestConvertCell(t *testing.T) {
	cases := []struct {
		name    string
		colType domain.ColumnType
		raw     string
		want    any
		wantErr bool
	}{
		{"empty is null", domain.ColumnTypeFloat, "", nil, false},
		{"NULL literal", domain.ColumnTypeText, "NULL", nil, false},
		{"None literal", domain.ColumnTypeText, "None", nil, false},
		{"float", domain.ColumnTypeFloat, " 4.25 ", 4.25, false},
		{"integer as float", domain.ColumnTypeFloat, "7", 7.0, false},
		{"bad number", domain.ColumnTypeFloat, "abc", nil, true},
		{"bool yes", domain.ColumnTypeBoolean, "yes", true, false},
		{"bool n", domain.ColumnTypeBoolean, "N", false, false},
		{"bad bool", domain.ColumnTypeBoolean, "maybe", nil, true},
		{"timestamp canonical", domain.ColumnTypeTimestamp, "2025-06-01T10:30:00Z", "2025-06-01 10:30:00", false},
		{"timestamp fallback", domain.ColumnTypeTimestamp, "last tuesday", "last tuesday", false},
		{"text passthrough", domain.ColumnTypeText, "MX-1", "MX-1", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ConvertCell(tc.colType, tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Errorf("ConvertCell(%s, %q) expected error, got %v", tc.colType, tc.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ConvertCell(%s, %q): %v", tc.colType, tc.raw, err)
			}
			if got != tc.want {
				t.Errorf("ConvertCell(%s, %q) = %v, want %v", tc.colType, tc.raw, got, tc.want)
			}
		})
	}
}

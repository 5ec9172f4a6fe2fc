package features

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testRows() []Row {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) // a Monday
	return []Row{
		{
			"id":               int64(1),
			"batchid":          "B-001",
			"energy_kwh":       float64(100),
			"inputweight_kg":   float64(120),
			"outputweight_kg":  float64(100),
			"roomtemp_c":       float64(22),
			"machinename":      "MX-1",
			"productionstage":  "Mixing",
			"upload_timestamp": base,
		},
		{
			"id":               int64(2),
			"batchid":          "B-002",
			"energy_kwh":       float64(110),
			"inputweight_kg":   float64(120),
			"outputweight_kg":  float64(110),
			"roomtemp_c":       float64(23),
			"machinename":      "MX-1",
			"productionstage":  "Drying",
			"upload_timestamp": base.Add(30 * time.Minute),
		},
		{
			"id":               int64(3),
			"batchid":          "B-003",
			"energy_kwh":       float64(90),
			"inputweight_kg":   float64(100),
			"outputweight_kg":  float64(90),
			"roomtemp_c":       float64(21),
			"machinename":      "MX-2",
			"productionstage":  "Unknown stage",
			"upload_timestamp": base.Add(90 * time.Minute),
		},
	}
}

func TestEngineerBasicFeatures(t *testing.T) {
	eng := NewEngineer(10, zap.NewNop())
	result := eng.Engineer(testRows())

	if len(result.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(result.Rows))
	}
	if len(result.MissingInputs) != 0 {
		t.Fatalf("unexpected missing inputs: %v", result.MissingInputs)
	}

	first := result.Rows[0]
	checks := map[string]float64{
		FeatEnergyKWh:    100,
		FeatEnergyPerKg:  1.0,
		FeatYieldLossPct: (120.0 - 100.0) / 120.0 * 100,
		FeatRoomTempC:    22,
		FeatCO2PerKg:     100 * 0.5 / 100,
		FeatEnergyXTemp:  2200,
	}
	for name, want := range checks {
		got := first.Values[name]
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestEngineerFeatureCount(t *testing.T) {
	eng := NewEngineer(10, zap.NewNop())
	result := eng.Engineer(testRows())

	for _, fr := range result.Rows {
		for _, name := range Names() {
			if _, ok := fr.Values[name]; !ok {
				t.Errorf("row %d missing feature %s", fr.ID, name)
			}
		}
		if len(fr.Values) != 15 {
			t.Errorf("row %d has %d features, want 15", fr.ID, len(fr.Values))
		}
	}
}

func TestEngineerTemporalFeatures(t *testing.T) {
	eng := NewEngineer(10, zap.NewNop())
	result := eng.Engineer(testRows())

	first := result.Rows[0]
	if got := first.Values[FeatBatchHour]; got != 8 {
		t.Errorf("Batch_Hour = %v, want 8", got)
	}
	if got := first.Values[FeatBatchDay]; got != 0 {
		t.Errorf("Batch_DayOfWeek = %v, want 0 (Monday)", got)
	}

	// Gaps are 30 and 60 minutes; the first row takes the median gap (45).
	if got := first.Values[FeatTimeSinceLast]; got != 45 {
		t.Errorf("first row Time_Since_Last_Batch = %v, want median 45", got)
	}
	if got := result.Rows[1].Values[FeatTimeSinceLast]; got != 30 {
		t.Errorf("second row Time_Since_Last_Batch = %v, want 30", got)
	}
	if got := result.Rows[2].Values[FeatTimeSinceLast]; got != 60 {
		t.Errorf("third row Time_Since_Last_Batch = %v, want 60", got)
	}
}

func TestEngineerSortsByTimestamp(t *testing.T) {
	rows := testRows()
	rows[0], rows[2] = rows[2], rows[0]

	eng := NewEngineer(10, zap.NewNop())
	result := eng.Engineer(rows)

	if result.Rows[0].BatchID != "B-001" || result.Rows[2].BatchID != "B-003" {
		t.Errorf("rows not sorted by timestamp: %s, %s, %s",
			result.Rows[0].BatchID, result.Rows[1].BatchID, result.Rows[2].BatchID)
	}
}

func TestEngineerTemporalDefaults(t *testing.T) {
	rows := testRows()
	for _, row := range rows {
		delete(row, "upload_timestamp")
	}

	eng := NewEngineer(10, zap.NewNop())
	result := eng.Engineer(rows)

	for _, fr := range result.Rows {
		if fr.Values[FeatBatchHour] != 12 || fr.Values[FeatBatchDay] != 2 || fr.Values[FeatTimeSinceLast] != 60 {
			t.Errorf("row %d expected imputed defaults 12/2/60, got %v/%v/%v", fr.ID,
				fr.Values[FeatBatchHour], fr.Values[FeatBatchDay], fr.Values[FeatTimeSinceLast])
		}
	}
	if len(result.Imputed) != 1 || result.Imputed[0] != "temporal" {
		t.Errorf("expected temporal stage marked imputed, got %v", result.Imputed)
	}
}

func TestEngineerRollingFeatures(t *testing.T) {
	eng := NewEngineer(10, zap.NewNop())
	result := eng.Engineer(testRows())

	// First row window holds a single observation.
	if got := result.Rows[0].Values[FeatEnergyRollAvg]; got != 100 {
		t.Errorf("first rolling mean = %v, want 100", got)
	}
	if got := result.Rows[0].Values[FeatEnergyRollStd]; got != 0 {
		t.Errorf("single-observation rolling std = %v, want 0", got)
	}
	if got := result.Rows[1].Values[FeatEnergyRollAvg]; got != 105 {
		t.Errorf("second rolling mean = %v, want 105", got)
	}
	if got := result.Rows[2].Values[FeatEnergyRollAvg]; math.Abs(got-100) > 1e-9 {
		t.Errorf("third rolling mean = %v, want 100", got)
	}
}

func TestEngineerEquipmentFeatures(t *testing.T) {
	eng := NewEngineer(10, zap.NewNop())
	result := eng.Engineer(testRows())

	if got := result.Rows[0].Values[FeatMachineCount]; got != 1 {
		t.Errorf("MX-1 first count = %v, want 1", got)
	}
	if got := result.Rows[1].Values[FeatMachineCount]; got != 2 {
		t.Errorf("MX-1 second count = %v, want 2", got)
	}
	if got := result.Rows[2].Values[FeatMachineCount]; got != 1 {
		t.Errorf("MX-2 first count = %v, want 1", got)
	}

	if got := result.Rows[0].Values[FeatStageEncoded]; got != 1 {
		t.Errorf("Mixing encoded = %v, want 1", got)
	}
	if got := result.Rows[1].Values[FeatStageEncoded]; got != 3 {
		t.Errorf("Drying encoded = %v, want 3", got)
	}
	if got := result.Rows[2].Values[FeatStageEncoded]; got != 0 {
		t.Errorf("unknown stage encoded = %v, want 0", got)
	}

	// Utilization is the machine's max cumulative count.
	if got := result.Rows[0].Values[FeatMachineUtil]; got != 2 {
		t.Errorf("MX-1 utilization = %v, want 2", got)
	}
	if got := result.Rows[2].Values[FeatMachineUtil]; got != 1 {
		t.Errorf("MX-2 utilization = %v, want 1", got)
	}
}

func TestEngineerEquipmentDefaults(t *testing.T) {
	rows := testRows()
	for _, row := range rows {
		delete(row, "machinename")
	}

	eng := NewEngineer(10, zap.NewNop())
	result := eng.Engineer(rows)

	for _, fr := range result.Rows {
		if fr.Values[FeatMachineCount] != 1 {
			t.Errorf("row %d Machine_Batch_Count = %v, want default 1", fr.ID, fr.Values[FeatMachineCount])
		}
		if fr.Values[FeatMachineUtil] != 1 {
			t.Errorf("row %d Machine_Utilization = %v, want default 1", fr.ID, fr.Values[FeatMachineUtil])
		}
	}
}

func TestEngineerInfinityBecomesNaN(t *testing.T) {
	rows := testRows()
	rows[0]["outputweight_kg"] = float64(0)

	eng := NewEngineer(10, zap.NewNop())
	result := eng.Engineer(rows)

	if got := result.Rows[0].Values[FeatEnergyPerKg]; !math.IsNaN(got) {
		t.Errorf("division by zero output weight should be NaN, got %v", got)
	}
}

func TestEngineerMissingInputs(t *testing.T) {
	rows := testRows()
	for _, row := range rows {
		delete(row, "energy_kwh")
	}

	eng := NewEngineer(10, zap.NewNop())
	result := eng.Engineer(rows)

	want := map[string]bool{
		FeatEnergyKWh:   true,
		FeatEnergyPerKg: true,
		FeatCO2PerKg:    true,
		FeatEnergyXTemp: true,
	}
	got := make(map[string]bool, len(result.MissingInputs))
	for _, name := range result.MissingInputs {
		got[name] = true
	}
	for name := range want {
		if !got[name] {
			t.Errorf("expected %s reported missing", name)
		}
	}
	if got[FeatRoomTempC] || got[FeatYieldLossPct] {
		t.Errorf("unexpected missing report: %v", result.MissingInputs)
	}
}

func TestEngineerAliasNormalization(t *testing.T) {
	rows := []Row{
		{
			"id":                       int64(1),
			"energy_consumption__kwh_": float64(200),
			"input_weight_kg":          float64(100),
			"output_weight_kg":         float64(80),
			"roomtemperature_c":        float64(25),
		},
	}

	eng := NewEngineer(10, zap.NewNop())
	result := eng.Engineer(rows)

	fr := result.Rows[0]
	if fr.Values[FeatEnergyKWh] != 200 {
		t.Errorf("Energy_kWh via alias = %v, want 200", fr.Values[FeatEnergyKWh])
	}
	if fr.Values[FeatRoomTempC] != 25 {
		t.Errorf("RoomTemp_C via alias = %v, want 25", fr.Values[FeatRoomTempC])
	}
	if math.Abs(fr.Values[FeatYieldLossPct]-20) > 1e-9 {
		t.Errorf("Yield_loss_pct via aliases = %v, want 20", fr.Values[FeatYieldLossPct])
	}
}

func TestEngineerEmptyInput(t *testing.T) {
	eng := NewEngineer(10, zap.NewNop())
	result := eng.Engineer(nil)
	if len(result.Rows) != 0 {
		t.Errorf("expected no rows, got %d", len(result.Rows))
	}
}

package features

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/batchwatch/internal/domain"
)

// Canonical feature names. The scorer and the trained model artifact both
// index features by these names, in this order.
const (
	FeatEnergyKWh     = "Energy_kWh"
	FeatEnergyPerKg   = "Energy_per_kg"
	FeatYieldLossPct  = "Yield_loss_pct"
	FeatRoomTempC     = "RoomTemp_C"
	FeatCO2PerKg      = "CO2_per_kg"
	FeatEnergyXTemp   = "Energy_x_Temp"
	FeatBatchHour     = "Batch_Hour"
	FeatBatchDay      = "Batch_DayOfWeek"
	FeatTimeSinceLast = "Time_Since_Last_Batch"
	FeatEnergyRollAvg = "Energy_kWh_Rolling_Mean"
	FeatEnergyRollStd = "Energy_kWh_Rolling_Std"
	FeatYieldRollAvg  = "Yield_loss_pct_Rolling_Mean"
	FeatMachineCount  = "Machine_Batch_Count"
	FeatStageEncoded  = "ProductionStage_Encoded"
	FeatMachineUtil   = "Machine_Utilization"
)

// defaultCO2Factor is applied when the data carries no kg_co2_per_kwh column.
const defaultCO2Factor = 0.5

// Defaults substituted when no timestamp column exists. They keep the
// feature vector shape stable; the Imputed list marks them as synthetic.
const (
	defaultBatchHour = 12
	defaultBatchDay  = 2
	defaultBatchGap  = 60
)

// Names returns all 15 feature names in canonical order.
func Names() []string {
	return []string{
		FeatEnergyKWh, FeatEnergyPerKg, FeatYieldLossPct,
		FeatRoomTempC, FeatCO2PerKg, FeatEnergyXTemp,
		FeatBatchHour, FeatBatchDay, FeatTimeSinceLast,
		FeatEnergyRollAvg, FeatEnergyRollStd, FeatYieldRollAvg,
		FeatMachineCount, FeatStageEncoded, FeatMachineUtil,
	}
}

// Required returns the 6 KPI features the scorer refuses to run without.
func Required() []string {
	return []string{
		FeatEnergyKWh, FeatEnergyPerKg, FeatYieldLossPct,
		FeatRoomTempC, FeatCO2PerKg, FeatEnergyXTemp,
	}
}

// Column alias lists, lower-cased sanitized forms first. Uploads name the
// same measurements inconsistently; the engineer folds them onto one key.
var (
	energyAliases    = []string{"energy_kwh", "energy_consumption__kwh_"}
	outputAliases    = []string{"outputweight_kg", "output_weight_kg"}
	inputAliases     = []string{"inputweight_kg", "input_weight_kg"}
	tempAliases      = []string{"roomtemp_c", "roomtemperature_c", "room_temp_c"}
	co2FactorAliases = []string{"kg_co2_per_kwh"}
	machineAliases   = []string{"machinename", "machine_name"}
	stageAliases     = []string{"productionstage", "production_stage"}
	batchIDAliases   = []string{"batchid", "batch_id"}

	// timestampPriority is checked in order; the first present column wins.
	timestampPriority = []string{"upload_timestamp", "timestamp", "batchdate", "date"}
)

var stageEncoding = map[string]float64{
	"Mixing":      1,
	"Granulation": 2,
	"Drying":      3,
	"Compression": 4,
	"Coating":     5,
	"Packaging":   6,
}

// Row is one raw record as read from a dynamic table.
type Row map[string]any

// FeatureRow pairs a source row with its engineered feature values. Values
// always holds all 15 names; missing inputs surface as NaN, never as zero.
// Timestamp is the parsed value of the located timestamp column, zero when
// the row has none.
type FeatureRow struct {
	ID        int64
	BatchID   string
	Timestamp time.Time
	Raw       Row
	Values    map[string]float64
}

// Result is the engineered output. Rows are ordered by the located timestamp
// column when one exists, otherwise input order is preserved.
type Result struct {
	Rows []FeatureRow
	// MissingInputs lists required features whose source columns were absent
	// from the table entirely (as opposed to NaN in individual cells).
	MissingInputs []string
	// Imputed names feature groups filled with constant defaults instead of
	// data, so diagnostics can tell synthetic values from real ones.
	Imputed []string
}

// Engineer derives the fixed 15-feature vector from raw batch rows.
type Engineer struct {
	window int
	logger *zap.Logger
}

// NewEngineer creates a feature engineer with the given rolling window.
func NewEngineer(window int, logger *zap.Logger) *Engineer {
	if window <= 0 {
		window = 10
	}
	return &Engineer{window: window, logger: logger}
}

// Engineer runs every stage in fixed order: basic KPIs, temporal, rolling,
// equipment, then the final ±Inf sweep. Pure with respect to its input.
func (e *Engineer) Engineer(rows []Row) Result {
	result := Result{Rows: make([]FeatureRow, 0, len(rows))}
	if len(rows) == 0 {
		return result
	}

	for _, raw := range rows {
		fr := FeatureRow{
			Raw:    raw,
			Values: make(map[string]float64, 15),
		}
		if id, ok := intAt(raw, domain.SystemColumnID); ok {
			fr.ID = id
		}
		if batch, ok := stringAt(raw, batchIDAliases...); ok {
			fr.BatchID = batch
		}
		result.Rows = append(result.Rows, fr)
	}

	e.basicFeatures(rows, &result)
	e.temporalFeatures(rows, &result)
	e.rollingFeatures(&result)
	e.equipmentFeatures(&result)

	// ±Inf (e.g. division by a zero output weight) becomes NaN so the
	// consumer's NaN policy applies uniformly; it is never coerced to 0.
	for _, fr := range result.Rows {
		for name, v := range fr.Values {
			if math.IsInf(v, 0) {
				fr.Values[name] = math.NaN()
			}
		}
	}

	return result
}

func (e *Engineer) basicFeatures(rows []Row, result *Result) {
	hasEnergy := columnPresent(rows, energyAliases...)
	hasOutput := columnPresent(rows, outputAliases...)
	hasInput := columnPresent(rows, inputAliases...)
	hasTemp := columnPresent(rows, tempAliases...)
	hasCO2Factor := columnPresent(rows, co2FactorAliases...)

	for i := range result.Rows {
		fr := &result.Rows[i]
		raw := fr.Raw

		energy := floatOrNaN(raw, energyAliases...)
		output := floatOrNaN(raw, outputAliases...)
		input := floatOrNaN(raw, inputAliases...)
		temp := floatOrNaN(raw, tempAliases...)

		fr.Values[FeatEnergyKWh] = energy
		fr.Values[FeatRoomTempC] = temp
		fr.Values[FeatEnergyPerKg] = energy / output
		fr.Values[FeatYieldLossPct] = (input - output) / input * 100

		factor := defaultCO2Factor
		if hasCO2Factor {
			factor = floatOrNaN(raw, co2FactorAliases...)
		}
		fr.Values[FeatCO2PerKg] = energy * factor / output
		fr.Values[FeatEnergyXTemp] = energy * temp
	}

	if !hasEnergy {
		result.MissingInputs = append(result.MissingInputs, FeatEnergyKWh, FeatEnergyXTemp)
	}
	if !hasTemp {
		result.MissingInputs = append(result.MissingInputs, FeatRoomTempC)
		if hasEnergy {
			result.MissingInputs = append(result.MissingInputs, FeatEnergyXTemp)
		}
	}
	if !hasEnergy || !hasOutput {
		result.MissingInputs = append(result.MissingInputs, FeatEnergyPerKg, FeatCO2PerKg)
	}
	if !hasInput || !hasOutput {
		result.MissingInputs = append(result.MissingInputs, FeatYieldLossPct)
	}
	result.MissingInputs = dedupe(result.MissingInputs)
}

func (e *Engineer) temporalFeatures(rows []Row, result *Result) {
	tsColumn := ""
	for _, candidate := range timestampPriority {
		if columnPresent(rows, candidate) {
			tsColumn = candidate
			break
		}
	}

	if tsColumn == "" {
		for i := range result.Rows {
			result.Rows[i].Values[FeatBatchHour] = defaultBatchHour
			result.Rows[i].Values[FeatBatchDay] = defaultBatchDay
			result.Rows[i].Values[FeatTimeSinceLast] = defaultBatchGap
		}
		result.Imputed = append(result.Imputed, "temporal")
		e.logger.Warn("no timestamp column found, temporal features imputed with defaults")
		return
	}

	type stamped struct {
		index int
		ts    time.Time
		valid bool
	}
	order := make([]stamped, len(result.Rows))
	for i := range result.Rows {
		ts, ok := timeAt(result.Rows[i].Raw, tsColumn)
		order[i] = stamped{index: i, ts: ts, valid: ok}
	}

	// Stable sort by timestamp; rows with unparseable stamps sink to the end
	// in their original relative order.
	sort.SliceStable(order, func(a, b int) bool {
		if order[a].valid != order[b].valid {
			return order[a].valid
		}
		if !order[a].valid {
			return false
		}
		return order[a].ts.Before(order[b].ts)
	})

	sorted := make([]FeatureRow, len(result.Rows))
	for pos, st := range order {
		sorted[pos] = result.Rows[st.index]
		if st.valid {
			sorted[pos].Timestamp = st.ts
			sorted[pos].Values[FeatBatchHour] = float64(st.ts.Hour())
			// Monday=0 convention.
			sorted[pos].Values[FeatBatchDay] = float64((int(st.ts.Weekday()) + 6) % 7)
		} else {
			sorted[pos].Values[FeatBatchHour] = math.NaN()
			sorted[pos].Values[FeatBatchDay] = math.NaN()
		}
	}

	gaps := make([]float64, len(order))
	gaps[0] = math.NaN()
	for i := 1; i < len(order); i++ {
		if order[i].valid && order[i-1].valid {
			gaps[i] = order[i].ts.Sub(order[i-1].ts).Minutes()
		} else {
			gaps[i] = math.NaN()
		}
	}

	if len(order) == 1 {
		gaps[0] = 0
	} else {
		median := medianOf(gaps)
		for i := range gaps {
			if math.IsNaN(gaps[i]) {
				gaps[i] = median
			}
		}
	}
	for i := range sorted {
		sorted[i].Values[FeatTimeSinceLast] = gaps[i]
	}

	result.Rows = sorted
	e.logger.Info("temporal features derived", zap.String("timestamp_column", tsColumn))
}

func (e *Engineer) rollingFeatures(result *Result) {
	n := len(result.Rows)
	energy := make([]float64, n)
	yield := make([]float64, n)
	for i, fr := range result.Rows {
		energy[i] = fr.Values[FeatEnergyKWh]
		yield[i] = fr.Values[FeatYieldLossPct]
	}

	energyMean, energyStd := rollingStats(energy, e.window)
	yieldMean, _ := rollingStats(yield, e.window)

	for i := range result.Rows {
		result.Rows[i].Values[FeatEnergyRollAvg] = energyMean[i]
		// A single-observation window has no spread; report 0, not NaN.
		if math.IsNaN(energyStd[i]) {
			result.Rows[i].Values[FeatEnergyRollStd] = 0
		} else {
			result.Rows[i].Values[FeatEnergyRollStd] = energyStd[i]
		}
		result.Rows[i].Values[FeatYieldRollAvg] = yieldMean[i]
	}
}

func (e *Engineer) equipmentFeatures(result *Result) {
	hasMachine := false
	hasTimestamp := false
	for _, fr := range result.Rows {
		if _, ok := stringAt(fr.Raw, machineAliases...); ok {
			hasMachine = true
		}
		for _, candidate := range timestampPriority {
			if _, ok := fr.Raw[candidate]; ok {
				hasTimestamp = true
			}
		}
	}

	counts := make(map[string]float64)
	maxCounts := make(map[string]float64)
	for i := range result.Rows {
		fr := &result.Rows[i]

		if hasMachine {
			machine, _ := stringAt(fr.Raw, machineAliases...)
			counts[machine]++
			fr.Values[FeatMachineCount] = counts[machine]
			if counts[machine] > maxCounts[machine] {
				maxCounts[machine] = counts[machine]
			}
		} else {
			fr.Values[FeatMachineCount] = 1
		}

		if stage, ok := stringAt(fr.Raw, stageAliases...); ok {
			fr.Values[FeatStageEncoded] = stageEncoding[stage]
		} else {
			fr.Values[FeatStageEncoded] = 0
		}
	}

	for i := range result.Rows {
		fr := &result.Rows[i]
		if hasMachine && hasTimestamp {
			machine, _ := stringAt(fr.Raw, machineAliases...)
			fr.Values[FeatMachineUtil] = maxCounts[machine]
		} else {
			fr.Values[FeatMachineUtil] = 1
		}
	}

	if !hasMachine {
		result.Imputed = append(result.Imputed, "equipment")
	}
}

// rollingStats computes a trailing-window mean and sample std with minimum
// one observation, skipping NaN cells the way a dataframe rolling window
// does. All-NaN windows stay NaN.
func rollingStats(series []float64, window int) (means, stds []float64) {
	n := len(series)
	means = make([]float64, n)
	stds = make([]float64, n)

	for i := 0; i < n; i++ {
		start := i - window + 1
		if start < 0 {
			start = 0
		}

		var sum float64
		var count int
		for j := start; j <= i; j++ {
			if !math.IsNaN(series[j]) {
				sum += series[j]
				count++
			}
		}
		if count == 0 {
			means[i] = math.NaN()
			stds[i] = math.NaN()
			continue
		}
		mean := sum / float64(count)
		means[i] = mean

		if count < 2 {
			stds[i] = math.NaN()
			continue
		}
		var ss float64
		for j := start; j <= i; j++ {
			if !math.IsNaN(series[j]) {
				d := series[j] - mean
				ss += d * d
			}
		}
		stds[i] = math.Sqrt(ss / float64(count-1))
	}
	return means, stds
}

func medianOf(values []float64) float64 {
	var clean []float64
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return math.NaN()
	}
	sort.Float64s(clean)
	mid := len(clean) / 2
	if len(clean)%2 == 1 {
		return clean[mid]
	}
	return (clean[mid-1] + clean[mid]) / 2
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

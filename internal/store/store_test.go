package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	_ "modernc.org/sqlite"

	"github.com/lox/aqicast/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	loc, err := time.LoadLocation("Europe/Bratislava")
	if err != nil {
		t.Fatalf("load timezone: %v", err)
	}
	store := New(db, loc, nil)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func nf(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	v, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("version = %d, want %d", v, len(migrations))
	}
}

func TestUpsertAndGetStation(t *testing.T) {
	store := setupTestStore(t)

	st := models.Station{StationID: "slovakia/poprad/zeleznicna", Name: "Poprad", Latitude: 49.05, Longitude: 20.29, Timezone: "Europe/Bratislava"}
	if err := store.UpsertStation(st); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}
	st.Name = "Poprad Zeleznicna"
	if err := store.UpsertStation(st); err != nil {
		t.Fatalf("UpsertStation update: %v", err)
	}

	got, err := store.GetStation(st.StationID)
	if err != nil {
		t.Fatalf("GetStation: %v", err)
	}
	if got == nil || got.Name != "Poprad Zeleznicna" {
		t.Fatalf("GetStation = %+v", got)
	}

	missing, err := store.GetStation("nope")
	if err != nil || missing != nil {
		t.Errorf("GetStation(nope) = %v, %v; want nil, nil", missing, err)
	}
}

func TestInsertReading_Dedup(t *testing.T) {
	store := setupTestStore(t)
	at := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	r := models.Reading{StationID: "s1", ObservedAt: at, Source: "waqi", PM25: nf(42), Temp: nf(7.5)}

	isNew, err := store.InsertReading(r)
	if err != nil || !isNew {
		t.Fatalf("first insert = %v, %v", isNew, err)
	}
	isNew, err = store.InsertReading(r)
	if err != nil || isNew {
		t.Fatalf("duplicate insert = %v, %v", isNew, err)
	}

	archive := r
	archive.Source = "archive"
	if _, err := store.InsertReading(archive); err != nil {
		t.Fatalf("archive insert: %v", err)
	}
	n, err := store.CountReadings("s1")
	if err != nil {
		t.Fatalf("CountReadings: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	latest, err := store.GetLatestReading("s1")
	if err != nil {
		t.Fatalf("GetLatestReading: %v", err)
	}
	if latest.Source != "waqi" || !latest.ObservedAt.Equal(at) {
		t.Errorf("latest = %+v", latest)
	}
	if v, ok := latest.Value("pm25"); !ok || v != 42 {
		t.Errorf("pm25 = %v, %v", v, ok)
	}
	if _, ok := latest.Value("no2"); ok {
		t.Error("no2 should be null")
	}
}

func TestGetReadings_Range(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	var readings []models.Reading
	for h := range 48 {
		readings = append(readings, models.Reading{
			StationID: "s1", ObservedAt: base.Add(time.Duration(h) * time.Hour), Source: "waqi", PM25: nf(float64(h)),
		})
	}
	stored, err := store.InsertReadings(readings)
	if err != nil {
		t.Fatalf("InsertReadings: %v", err)
	}
	if stored != 48 {
		t.Fatalf("stored = %d, want 48", stored)
	}

	got, err := store.GetReadings("s1", base.Add(24*time.Hour), base.Add(30*time.Hour))
	if err != nil {
		t.Fatalf("GetReadings: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("len = %d, want 6", len(got))
	}
	if v, _ := got[0].Value("pm25"); v != 24 {
		t.Errorf("first pm25 = %v, want 24", v)
	}
}

func TestGetDailyMean_PrefersLive(t *testing.T) {
	store := setupTestStore(t)
	// 10 March local (UTC+1) runs from 09 March 23:00 UTC.
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	readings := []models.Reading{
		{StationID: "s1", ObservedAt: time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC), Source: "waqi", PM25: nf(10)},
		{StationID: "s1", ObservedAt: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), Source: "waqi", PM25: nf(20)},
		{StationID: "s1", ObservedAt: time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC), Source: "waqi", PM25: nf(99)},
		{StationID: "s1", ObservedAt: time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC), Source: "archive", PM25: nf(70), NO2: nf(5)},
	}
	if _, err := store.InsertReadings(readings); err != nil {
		t.Fatalf("InsertReadings: %v", err)
	}

	means, err := store.GetDailyMean("s1", day, []string{"pm25", "no2", "so2"})
	if err != nil {
		t.Fatalf("GetDailyMean: %v", err)
	}
	if means["pm25"] != 15 {
		t.Errorf("pm25 = %v, want 15", means["pm25"])
	}
	if means["no2"] != 5 {
		t.Errorf("no2 = %v, want archive value 5", means["no2"])
	}
	if _, ok := means["so2"]; ok {
		t.Error("so2 should be absent")
	}

	if _, err := store.GetDailyMean("s1", day, []string{"benzene"}); err == nil {
		t.Error("expected error for unknown pollutant")
	}
}

func TestDailyWeather(t *testing.T) {
	store := setupTestStore(t)
	days := []models.DailyWeather{
		{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Tavg: nf(-2), Prcp: nf(0.4)},
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Tavg: nf(-1)},
	}
	if err := store.UpsertDailyWeather("s1", days); err != nil {
		t.Fatalf("UpsertDailyWeather: %v", err)
	}
	days[1].Tavg = nf(3)
	if err := store.UpsertDailyWeather("s1", days[1:]); err != nil {
		t.Fatalf("UpsertDailyWeather update: %v", err)
	}

	got, err := store.GetDailyWeather("s1", days[0].Date, days[1].Date)
	if err != nil {
		t.Fatalf("GetDailyWeather: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].Tavg.Float64 != 3 {
		t.Errorf("updated tavg = %v, want 3", got[1].Tavg.Float64)
	}
	if got[1].Prcp.Valid {
		t.Error("prcp should be null")
	}

	latest, err := store.LatestWeatherDate("s1")
	if err != nil {
		t.Fatalf("LatestWeatherDate: %v", err)
	}
	if !latest.Equal(days[1].Date) {
		t.Errorf("latest = %v, want %v", latest, days[1].Date)
	}
}

func TestIngestRunAndRawPayload(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartIngestRun("waqi", "feed", "s1")
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}
	payload := []byte(`{"status":"ok","data":{"aqi":42}}`)
	id, err := store.StoreRawPayload(run, "waqi", "feed", "s1", payload)
	if err != nil {
		t.Fatalf("StoreRawPayload: %v", err)
	}
	if id == 0 {
		t.Fatal("expected new payload id")
	}
	dup, err := store.StoreRawPayload(run, "waqi", "feed", "s1", payload)
	if err != nil {
		t.Fatalf("StoreRawPayload dup: %v", err)
	}
	if dup != 0 {
		t.Errorf("duplicate id = %d, want 0", dup)
	}

	got, err := store.GetRawPayload(id)
	if err != nil {
		t.Fatalf("GetRawPayload: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %s", got)
	}

	run.Succeed(1, 1)
	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}
	failed, err := store.StartIngestRun("waqi", "feed", "s1")
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}
	failed.Fail(errors.New("boom"))
	if err := store.CompleteIngestRun(failed); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}

	last, err := store.LastSuccessfulRun("waqi")
	if err != nil {
		t.Fatalf("LastSuccessfulRun: %v", err)
	}
	if last.IsZero() {
		t.Error("expected a successful run")
	}

	health, err := store.GetIngestHealth(1)
	if err != nil {
		t.Fatalf("GetIngestHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("health rows = %d, want 1", len(health))
	}
	h := health[0]
	if h.Source != "waqi" || h.Endpoint != "feed" {
		t.Errorf("health key = %s/%s", h.Source, h.Endpoint)
	}
	if h.TotalRuns != 2 || h.SuccessRuns != 1 || h.FailedRuns != 1 || h.TotalRecords != 1 {
		t.Errorf("health = %+v", h)
	}
}

func testModel(runID string, score float64) models.ModelVersion {
	return models.ModelVersion{
		RunID:            runID,
		HistoricalWindow: 7,
		PredictionWindow: 1,
		NumPredictions:   3,
		Columns:          []string{"pm25", "no2", "tavg"},
		Pollutants:       []string{"pm25", "no2"},
		Metric:           "willmott",
		Score:            score,
		ReportJSON:       `{"days":3}`,
		Scaler:           []byte(`{"scaler":1}`),
		Model:            []byte(`{"model":1}`),
	}
}

func TestModelRegistry(t *testing.T) {
	store := setupTestStore(t)

	v1, err := store.SaveModelVersion(testModel("run-a", 0.71))
	if err != nil {
		t.Fatalf("SaveModelVersion: %v", err)
	}
	v2, err := store.SaveModelVersion(testModel("run-b", 0.83))
	if err != nil {
		t.Fatalf("SaveModelVersion: %v", err)
	}
	if _, err := store.SaveModelVersion(testModel("run-c", 0.65)); err != nil {
		t.Fatalf("SaveModelVersion: %v", err)
	}

	best, err := store.BestModelVersion("willmott", true)
	if err != nil {
		t.Fatalf("BestModelVersion: %v", err)
	}
	if best.Version != v2 || best.RunID != "run-b" {
		t.Errorf("best = %d (%s), want %d", best.Version, best.RunID, v2)
	}
	lowest, err := store.BestModelVersion("willmott", false)
	if err != nil {
		t.Fatalf("BestModelVersion lowest: %v", err)
	}
	if lowest.RunID != "run-c" {
		t.Errorf("lowest-score best = %s, want run-c", lowest.RunID)
	}
	none, err := store.BestModelVersion("rmse", false)
	if err != nil || none != nil {
		t.Errorf("BestModelVersion for unused metric = %v, %v", none, err)
	}
	if string(best.Model) != `{"model":1}` || len(best.Columns) != 3 {
		t.Errorf("best lost its payload: %+v", best)
	}

	deployed, err := store.DeployedModelVersion()
	if err != nil || deployed != nil {
		t.Fatalf("DeployedModelVersion before deploy = %v, %v", deployed, err)
	}
	if err := store.Deploy(v1); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if err := store.Deploy(v2); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	deployed, err = store.DeployedModelVersion()
	if err != nil {
		t.Fatalf("DeployedModelVersion: %v", err)
	}
	if deployed.Version != v2 {
		t.Errorf("deployed = %d, want %d", deployed.Version, v2)
	}
	if err := store.Deploy(999); err == nil {
		t.Error("expected error deploying unknown version")
	}

	list, err := store.ListModelVersions(10)
	if err != nil {
		t.Fatalf("ListModelVersions: %v", err)
	}
	if len(list) != 3 || list[0].RunID != "run-c" {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Model != nil {
		t.Error("list should omit model blobs")
	}
}

func TestForecastVerification(t *testing.T) {
	store := setupTestStore(t)
	version, err := store.SaveModelVersion(testModel("run-a", 0.7))
	if err != nil {
		t.Fatalf("SaveModelVersion: %v", err)
	}

	issued := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	later := issued.Add(24 * time.Hour)
	d2 := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	d3 := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	forecasts := []models.IssuedForecast{
		{ModelVersion: version, IssuedAt: issued, ValidDate: d2, DayOfForecast: 1, Pollutant: "pm25", Value: 30},
		{ModelVersion: version, IssuedAt: issued, ValidDate: d3, DayOfForecast: 2, Pollutant: "pm25", Value: 35},
		{ModelVersion: version, IssuedAt: later, ValidDate: d3, DayOfForecast: 1, Pollutant: "pm25", Value: 33},
		// Re-issue of the day-1 forecast for d3 is ignored for verification.
		{ModelVersion: version, IssuedAt: later.Add(time.Hour), ValidDate: d3, DayOfForecast: 1, Pollutant: "pm25", Value: 50},
	}
	if err := store.InsertIssuedForecasts(forecasts); err != nil {
		t.Fatalf("InsertIssuedForecasts: %v", err)
	}
	if err := store.InsertIssuedForecasts(forecasts[:1]); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	latest, err := store.GetLatestIssuedForecast()
	if err != nil {
		t.Fatalf("GetLatestIssuedForecast: %v", err)
	}
	if len(latest) != 1 || latest[0].Value != 50 {
		t.Errorf("latest = %+v", latest)
	}

	pending, err := store.GetUnverifiedForecasts(d2)
	if err != nil {
		t.Fatalf("GetUnverifiedForecasts: %v", err)
	}
	if len(pending) != 1 || !pending[0].ValidDate.Equal(d2) {
		t.Fatalf("pending through d2 = %+v", pending)
	}

	pending, err = store.GetUnverifiedForecasts(d3)
	if err != nil {
		t.Fatalf("GetUnverifiedForecasts: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending through d3 = %d, want 3", len(pending))
	}

	for _, f := range pending {
		v := models.ForecastVerification{
			ForecastID: f.ID, ValidDate: f.ValidDate, DayOfForecast: f.DayOfForecast,
			Pollutant: f.Pollutant, Forecast: f.Value, Actual: 32, Bias: f.Value - 32,
		}
		if err := store.InsertForecastVerification(v); err != nil {
			t.Fatalf("InsertForecastVerification: %v", err)
		}
	}
	pending, err = store.GetUnverifiedForecasts(d3)
	if err != nil {
		t.Fatalf("GetUnverifiedForecasts: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after verification = %d, want 0", len(pending))
	}

	verified, err := store.GetVerifications(d2)
	if err != nil {
		t.Fatalf("GetVerifications: %v", err)
	}
	if len(verified) != 3 {
		t.Fatalf("verified = %d, want 3", len(verified))
	}

	stats := models.VerificationStats{Pollutant: "pm25", DayOfForecast: 1, WindowDays: 30, SampleSize: 2, MeanBias: -0.5, MAE: 1.5, RMSE: 1.58, UpdatedAt: time.Now().UTC()}
	if err := store.UpsertVerificationStats(stats); err != nil {
		t.Fatalf("UpsertVerificationStats: %v", err)
	}
	stats.SampleSize = 3
	if err := store.UpsertVerificationStats(stats); err != nil {
		t.Fatalf("UpsertVerificationStats update: %v", err)
	}
	all, err := store.GetVerificationStats()
	if err != nil {
		t.Fatalf("GetVerificationStats: %v", err)
	}
	if all["pm25"][1].SampleSize != 3 {
		t.Errorf("stats = %+v", all)
	}
}

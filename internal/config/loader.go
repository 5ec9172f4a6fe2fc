package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/batchwatch/internal/db"
)

// Thresholds are the hard severity rules applied before the model verdict.
// The defaults were tuned empirically against production batch averages;
// change them only with domain sign-off.
type Thresholds struct {
	EnergyKWh    float64
	EnergyPerKg  float64
	YieldLossPct float64
	CO2PerKg     float64
}

// Config carries everything the server needs at startup.
type Config struct {
	Database   db.Config
	ServerAddr string

	ModelPath   string
	ScalerPath  string
	MetricsPath string

	Thresholds    Thresholds
	RollingWindow int

	HealthCheckInterval time.Duration
	HealthLookbackDays  int
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:   db.DefaultConfig(),
		ServerAddr: ":8080",

		ModelPath:   "artifacts/isolation_model.json",
		ScalerPath:  "artifacts/feature_scaler.json",
		MetricsPath: "artifacts/model_metrics.json",

		Thresholds: Thresholds{
			EnergyKWh:    1500,
			EnergyPerKg:  15,
			YieldLossPct: 10,
			CO2PerKg:     6.0,
		},
		RollingWindow: 10,

		HealthCheckInterval: 24 * time.Hour,
		HealthLookbackDays:  7,
	}
}

// Load reads config.yaml from configPath, falling back to defaults plus
// environment overrides (BW_DATABASE_HOST and friends).
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("BW")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")

	if err := v.ReadInConfig(); err != nil {
		// Missing config.yaml is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.ServerAddr = v.GetString("server.addr")
	}

	if v.IsSet("artifacts.model") {
		cfg.ModelPath = v.GetString("artifacts.model")
	}
	if v.IsSet("artifacts.scaler") {
		cfg.ScalerPath = v.GetString("artifacts.scaler")
	}
	if v.IsSet("artifacts.metrics") {
		cfg.MetricsPath = v.GetString("artifacts.metrics")
	}

	if v.IsSet("anomaly.thresholds.energy_kwh") {
		cfg.Thresholds.EnergyKWh = v.GetFloat64("anomaly.thresholds.energy_kwh")
	}
	if v.IsSet("anomaly.thresholds.energy_per_kg") {
		cfg.Thresholds.EnergyPerKg = v.GetFloat64("anomaly.thresholds.energy_per_kg")
	}
	if v.IsSet("anomaly.thresholds.yield_loss_pct") {
		cfg.Thresholds.YieldLossPct = v.GetFloat64("anomaly.thresholds.yield_loss_pct")
	}
	if v.IsSet("anomaly.thresholds.co2_per_kg") {
		cfg.Thresholds.CO2PerKg = v.GetFloat64("anomaly.thresholds.co2_per_kg")
	}

	if v.IsSet("features.rolling_window") {
		cfg.RollingWindow = v.GetInt("features.rolling_window")
	}

	if v.IsSet("monitor.interval") {
		cfg.HealthCheckInterval = v.GetDuration("monitor.interval")
	}
	if v.IsSet("monitor.lookback_days") {
		cfg.HealthLookbackDays = v.GetInt("monitor.lookback_days")
	}

	return cfg, nil
}

package main

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/windcube/internal/models"
	"github.com/lox/windcube/internal/store"
	"github.com/lox/windcube/internal/vad"
)

// Globals are the flags shared by every command.
type Globals struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name='env-file',default='.env',help='Path to a .env file.'"`
	Config  kong.ConfigFlag          `help:"Load flags from a JSON file." type:"path"`

	DB       string `help:"Path to SQLite database." default:"data/windcube.db" env:"WINDCUBE_DB" type:"path"`
	DataDir  string `help:"Directory holding the <yyyy>/<yyyymmdd>-*.txt logs." default:"data/logs" env:"WINDCUBE_DATA_DIR" type:"path"`
	OutDir   string `help:"Directory for Parquet files and plots." default:"data/out" env:"WINDCUBE_OUT_DIR" type:"path"`
	Timezone string `help:"Timezone of log timestamps and day boundaries." default:"UTC" env:"WINDCUBE_TZ"`

	VADIDs        []int   `name:"vad-ids" help:"Scan ids of VAD scans." default:"1,2" env:"WINDCUBE_VAD_IDS"`
	OutlierMargin float64 `help:"Robust z-score above which radial velocities are masked." default:"40" env:"WINDCUBE_OUTLIER_MARGIN"`
	MinRSquared   float64 `name:"min-rsquared" help:"R² a fit needs before wind is derived from it." default:"0.1" env:"WINDCUBE_MIN_RSQUARED"`
	MaxIterations int     `help:"Iteration limit of each sinusoid fit." default:"200" env:"WINDCUBE_MAX_ITERATIONS"`
	Workers       int     `help:"Concurrent range-bin fits." default:"4" env:"WINDCUBE_WORKERS"`
}

type CLI struct {
	Globals

	Ingest   IngestCmd   `cmd:"" help:"Load a day's text logs into the database."`
	Replay   ReplayCmd   `cmd:"" help:"Reload a day's samples from the raw log archive."`
	Retrieve RetrieveCmd `cmd:"" help:"Retrieve VAD winds for a day and write Parquet files and plots."`
	Compare  CompareCmd  `cmd:"" help:"Compare DBS winds with retrieved VAD winds."`
	Scans    ScansCmd    `cmd:"" help:"List the scans detected in a day's samples."`
	Serve    ServeCmd    `cmd:"" help:"Poll for logs, run daily jobs and serve the HTTP API."`
	Status   StatusCmd   `cmd:"" help:"Show the health of a running server."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("windcube"),
		kong.Description("Wind retrieval from WindCube Doppler lidar scans."),
		kong.Configuration(kong.JSON, "windcube.json", "~/.config/windcube.json"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

func (g *Globals) location() *time.Location {
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		log.Printf("Warning: could not load %s timezone, using UTC: %v", g.Timezone, err)
		return time.UTC
	}
	return loc
}

// openStore opens and migrates the database.
func (g *Globals) openStore() (*store.Store, func(), error) {
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, g.location())
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

func (g *Globals) engine() (*vad.Engine, error) {
	cfg := vad.DefaultConfig()
	cfg.VAD.IDs = g.VADIDs
	cfg.OutlierMargin = g.OutlierMargin
	cfg.MinRSquared = g.MinRSquared
	cfg.MaxIterations = g.MaxIterations
	cfg.Workers = g.Workers
	return vad.New(cfg)
}

// parseDate parses YYYY-MM-DD in the configured timezone. An empty value
// means fallback days before today.
func (g *Globals) parseDate(v string, fallback int) (time.Time, error) {
	loc := g.location()
	if v == "" {
		now := time.Now().In(loc).AddDate(0, 0, -fallback)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc), nil
	}
	d, err := time.ParseInLocation("2006-01-02", v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", v)
	}
	return d, nil
}

func properties(p string) []models.Property {
	if p == "all" {
		return []models.Property{models.PropertyWind, models.PropertyDBS}
	}
	return []models.Property{models.Property(p)}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"golang.org/x/sync/errgroup"

	"github.com/lox/windcube/internal/api"
	"github.com/lox/windcube/internal/compare"
	"github.com/lox/windcube/internal/httputil"
	"github.com/lox/windcube/internal/ingest"
	"github.com/lox/windcube/internal/models"
	"github.com/lox/windcube/internal/vad"
)

// FTPFlags configure fetching logs from the instrument.
type FTPFlags struct {
	FTPAddr      string `name:"ftp-addr" help:"Instrument FTP server (host:port). Empty disables fetching." env:"WINDCUBE_FTP_ADDR"`
	FTPUser      string `name:"ftp-user" help:"FTP user." env:"WINDCUBE_FTP_USER"`
	FTPPassword  string `name:"ftp-password" help:"FTP password." env:"WINDCUBE_FTP_PASSWORD"`
	FTPRemoteDir string `name:"ftp-dir" help:"Remote directory holding the <yyyy> log folders." default:"/" env:"WINDCUBE_FTP_DIR"`
}

func (f FTPFlags) fetcher(dataDir string) *ingest.FTPFetcher {
	if f.FTPAddr == "" {
		return nil
	}
	return ingest.NewFTPFetcher(ingest.FTPConfig{
		Addr:      f.FTPAddr,
		User:      f.FTPUser,
		Password:  f.FTPPassword,
		RemoteDir: f.FTPRemoteDir,
	}, dataDir)
}

type IngestCmd struct {
	FTPFlags
	Date     string `help:"Day to load (YYYY-MM-DD). Defaults to today."`
	Property string `help:"Log property to load." enum:"wind,dbs,all" default:"all"`
}

func (c *IngestCmd) Run(g *Globals) error {
	date, err := g.parseDate(c.Date, 0)
	if err != nil {
		return err
	}
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	loader := ingest.NewLoader(st, g.DataDir, g.location())
	fetcher := c.fetcher(g.DataDir)

	var errs []error
	for _, p := range properties(c.Property) {
		if fetcher != nil {
			if _, err := fetcher.Fetch(context.Background(), date, p); err != nil {
				log.Printf("fetch %s: %v", p, err)
			}
		}
		if _, err := loader.LoadDay(date, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

type ReplayCmd struct {
	Date     string `help:"Day to rebuild (YYYY-MM-DD). Defaults to yesterday."`
	Property string `help:"Log property to replay." enum:"wind,dbs,all" default:"all"`
}

// Run re-parses a day's archived raw logs, for when the local logs are gone.
func (c *ReplayCmd) Run(g *Globals) error {
	date, err := g.parseDate(c.Date, 1)
	if err != nil {
		return err
	}
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	loader := ingest.NewLoader(st, g.DataDir, g.location())
	var errs []error
	for _, p := range properties(c.Property) {
		res, err := loader.ReplayDay(date, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		fmt.Printf("%s: %d archived logs, %d rows, %d new samples\n", p, res.Files, res.Rows, res.Stored)
	}
	return errors.Join(errs...)
}

type RetrieveCmd struct {
	Date string `help:"Day to retrieve (YYYY-MM-DD). Defaults to yesterday."`
	Load bool   `help:"Load the day's logs from the data directory first." default:"true" negatable:""`
}

func (c *RetrieveCmd) Run(g *Globals) error {
	date, err := g.parseDate(c.Date, 1)
	if err != nil {
		return err
	}
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()
	engine, err := g.engine()
	if err != nil {
		return err
	}

	if c.Load {
		loader := ingest.NewLoader(st, g.DataDir, g.location())
		if _, err := loader.LoadDay(date, models.PropertyWind); err != nil && !errors.Is(err, ingest.ErrNoLogFiles) {
			return err
		}
	}

	res, err := ingest.NewDailyJobs(st, engine, g.OutDir).RunDay(date, models.PropertyWind)
	if err != nil {
		return err
	}
	for _, f := range res.Files {
		fmt.Println(f)
	}
	return nil
}

type CompareCmd struct {
	Date      string          `help:"Day to compare (YYYY-MM-DD). Defaults to yesterday."`
	Elevation int             `help:"VAD elevation label to compare against." default:"45"`
	Windows   []time.Duration `help:"Averaging windows." default:"1m,2m,3m,5m"`
	Load      bool            `help:"Load the day's DBS logs from the data directory first." default:"true" negatable:""`
}

func (c *CompareCmd) Run(g *Globals) error {
	date, err := g.parseDate(c.Date, 1)
	if err != nil {
		return err
	}
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()
	engine, err := g.engine()
	if err != nil {
		return err
	}

	if c.Load {
		loader := ingest.NewLoader(st, g.DataDir, g.location())
		if _, err := loader.LoadDay(date, models.PropertyDBS); err != nil && !errors.Is(err, ingest.ErrNoLogFiles) {
			return err
		}
	}

	daily := ingest.NewDailyJobs(st, engine, g.OutDir)
	daily.CompareElevation = c.Elevation
	daily.Windows = c.Windows
	daily.Tables = os.Stdout

	_, err = daily.RunDay(date, models.PropertyDBS)
	if errors.Is(err, compare.ErrMissingPrerequisite) {
		return fmt.Errorf("%w (run `windcube retrieve --date %s` first)", err, date.Format("2006-01-02"))
	}
	return err
}

type ScansCmd struct {
	Date  string `help:"Day to list (YYYY-MM-DD). Defaults to yesterday."`
	Class string `help:"Scan class to list." enum:"VAD,LOW,LOS,DBS,all" default:"all"`
}

func (c *ScansCmd) Run(g *Globals) error {
	date, err := g.parseDate(c.Date, 1)
	if err != nil {
		return err
	}
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()
	engine, err := g.engine()
	if err != nil {
		return err
	}

	start, end := st.DayBounds(date)
	samples, err := st.GetSamples(start, end)
	if err != nil {
		return fmt.Errorf("get samples: %w", err)
	}
	if len(samples) == 0 {
		return fmt.Errorf("%w: %s", ingest.ErrNoSamples, start.Format("2006-01-02"))
	}

	var classes []vad.ScanClass
	if c.Class == "all" {
		classes = engine.Config().Classes()
	} else {
		class, _ := engine.Config().Class(c.Class)
		classes = []vad.ScanClass{class}
	}

	var infos []vad.ScanInfo
	for _, class := range classes {
		infos = append(infos, engine.Scans(class, samples)...)
	}
	return writeScansTable(os.Stdout, infos)
}

func writeScansTable(w io.Writer, infos []vad.ScanInfo) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Class", "Scan ID", "Start", "End", "Elevation", "Samples", "Ranges"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, info := range infos {
		data = append(data, []string{
			info.Class,
			strconv.Itoa(info.Scan.ScanID),
			info.Scan.StartTime.Format("15:04:05"),
			info.Scan.EndTime.Format("15:04:05"),
			strconv.FormatFloat(info.Scan.Elevation, 'f', 1, 64),
			strconv.Itoa(info.Samples),
			strconv.Itoa(info.Ranges),
		})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

type ServeCmd struct {
	FTPFlags
	Port                string        `help:"HTTP server port." default:"8080" env:"PORT"`
	NoPoll              bool          `help:"Disable polling (server only, for local dev)."`
	PollInterval        time.Duration `help:"How often to fetch and load new logs." default:"10m" env:"WINDCUBE_POLL_INTERVAL"`
	PlotCache           string        `help:"Directory for cached heat maps. Empty disables the cache." default:"data/plots" type:"path"`
	RawLogRetentionDays int           `name:"raw-log-retention-days" help:"Days archived raw logs are kept. 0 keeps them forever." default:"90" env:"WINDCUBE_RAW_LOG_RETENTION_DAYS"`
}

func (c *ServeCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()
	log.Println("database migrated")

	engine, err := g.engine()
	if err != nil {
		return err
	}
	loc := g.location()

	daily := ingest.NewDailyJobs(st, engine, g.OutDir)
	scheduler := ingest.NewScheduler(ingest.NewLoader(st, g.DataDir, loc), c.fetcher(g.DataDir), daily, loc)
	scheduler.SetPollInterval(c.PollInterval)
	scheduler.SetRawLogRetention(c.RawLogRetentionDays)

	server := api.NewServer(st, engine, c.Port, loc)
	if c.PlotCache != "" {
		server.SetPlotCache(api.NewPlotCache(c.PlotCache, c.PollInterval))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	if !c.NoPoll {
		eg.Go(func() error {
			scheduler.Run(ctx)
			return nil
		})
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	eg.Go(func() error {
		log.Printf("starting server on :%s", c.Port)
		return server.Run(ctx)
	})
	return eg.Wait()
}

type StatusCmd struct {
	URL string `help:"Base URL of a running windcube server." default:"http://localhost:8080" env:"WINDCUBE_URL"`
}

func (c *StatusCmd) Run(g *Globals) error {
	var health api.HealthStatus
	if err := httputil.GetJSON(context.Background(), httputil.NewClient(), c.URL+"/health", &health); err != nil {
		return err
	}

	fmt.Printf("status: %s (schema v%d)\n", health.Status, health.MigrationVersion)
	if health.LatestSampleDay != "" {
		fmt.Printf("latest samples: %s\n", health.LatestSampleDay)
	}
	if health.RawLogs != nil {
		fmt.Printf("archived logs: %d (%d bytes)\n", health.RawLogs.TotalCount, health.RawLogs.TotalSizeBytes)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"Date", "Source", "Property", "Runs", "Failed", "Records", "Rejected"})
	var data [][]string
	for _, h := range health.Ingest {
		data = append(data, []string{
			h.Date, h.Source, h.Property,
			strconv.Itoa(h.TotalRuns), strconv.Itoa(h.FailedRuns),
			strconv.FormatInt(h.TotalRecords, 10), strconv.FormatInt(h.TotalParseErrors, 10),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	for _, e := range health.RecentErrors {
		fmt.Println("error:", e)
	}
	return nil
}

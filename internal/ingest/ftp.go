package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/windcube/internal/metrics"
	"github.com/lox/windcube/internal/models"
)

// FTPConfig addresses the instrument's FTP server.
type FTPConfig struct {
	Addr      string // host:port
	User      string
	Password  string
	RemoteDir string // directory holding the <yyyy> log folders
	Timeout   time.Duration
	// MaxElapsed bounds the retries of one fetch.
	MaxElapsed time.Duration
}

// remoteDir is the subset of an FTP session the fetcher uses.
type remoteDir interface {
	NameList(dir string) ([]string, error)
	Fetch(file string) ([]byte, error)
	Quit() error
}

type dialFunc func(ctx context.Context, cfg FTPConfig) (remoteDir, error)

type serverConn struct {
	c *ftp.ServerConn
}

func (s serverConn) NameList(dir string) ([]string, error) { return s.c.NameList(dir) }
func (s serverConn) Quit() error { return s.c.Quit() }

func (s serverConn) Fetch(file string) ([]byte, error) {
	resp, err := s.c.Retr(file)
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

func dialFTP(ctx context.Context, cfg FTPConfig) (remoteDir, error) {
	conn, err := ftp.Dial(cfg.Addr, ftp.DialWithTimeout(cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	if err := conn.Login(cfg.User, cfg.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}
	return serverConn{c: conn}, nil
}

// FTPFetcher mirrors a day's logs from the instrument into the local data
// directory, laid out the way FindLogs expects.
type FTPFetcher struct {
	cfg     FTPConfig
	dataDir string
	dial    dialFunc
}

func NewFTPFetcher(cfg FTPConfig, dataDir string) *FTPFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = 2 * time.Minute
	}
	if cfg.User == "" {
		cfg.User = "anonymous"
		cfg.Password = "anonymous"
	}
	return &FTPFetcher{cfg: cfg, dataDir: dataDir, dial: dialFTP}
}

// permanentFTP reports whether err is an FTP reply that retrying will not
// fix, such as a failed login or a missing file.
func permanentFTP(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code >= 500
	}
	return false
}

// Fetch downloads the property's logs for date and returns the local paths.
// Files are replaced atomically so a concurrent LoadDay never sees a
// partial log.
func (f *FTPFetcher) Fetch(ctx context.Context, date time.Time, p models.Property) ([]string, error) {
	remote := path.Join(f.cfg.RemoteDir, date.Format("2006"))
	pattern := date.Format("20060102") + "-*_" + p.LogSuffix() + ".txt"
	localDir := filepath.Join(f.dataDir, date.Format("2006"))

	var paths []string
	operation := func() error {
		start := time.Now()
		conn, err := f.dial(ctx, f.cfg)
		if err != nil {
			metrics.FTPFetchTotal.WithLabelValues("dial_error").Inc()
			if permanentFTP(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer conn.Quit()

		names, err := conn.NameList(remote)
		if err != nil {
			metrics.FTPFetchTotal.WithLabelValues("list_error").Inc()
			if permanentFTP(err) {
				return backoff.Permanent(fmt.Errorf("list %s: %w", remote, err))
			}
			return fmt.Errorf("list %s: %w", remote, err)
		}

		paths = paths[:0]
		for _, name := range names {
			base := path.Base(name)
			if ok, _ := path.Match(pattern, base); !ok {
				continue
			}
			body, err := conn.Fetch(path.Join(remote, base))
			if err != nil {
				metrics.FTPFetchTotal.WithLabelValues("retr_error").Inc()
				if permanentFTP(err) {
					return backoff.Permanent(fmt.Errorf("retr %s: %w", base, err))
				}
				return fmt.Errorf("retr %s: %w", base, err)
			}
			local := filepath.Join(localDir, base)
			if err := writeAtomic(local, body); err != nil {
				return backoff.Permanent(err)
			}
			paths = append(paths, local)
		}
		metrics.FTPFetchTotal.WithLabelValues("ok").Inc()
		metrics.FTPFetchLatency.Observe(time.Since(start).Seconds())
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = f.cfg.MaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s/%s on %s", ErrNoLogFiles, remote, pattern, f.cfg.Addr)
	}
	log.Printf("ingest: fetched %d %s logs for %s from %s", len(paths), p, date.Format("2006-01-02"), f.cfg.Addr)
	return paths, nil
}

func writeAtomic(dst string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fetch-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return os.Rename(tmp.Name(), dst)
}

// Package portal downloads the inverter report export from the monitoring web portal
// with a headless browser.
package portal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"inverter-report/models"
	"inverter-report/utils"
)

// Options configures a Fetcher.
type Options struct {
	URL            string
	ExportSelector string
	TempDir        string
	ChromeBin      string
	MaxRetries     int
	Timeout        time.Duration
}

// Fetcher drives the portal's export button and collects the downloaded file.
type Fetcher struct {
	opts   Options
	logger *utils.Logger
	retry  *utils.RetryConfig
}

// New creates a ready-to-use portal Fetcher.
func New(opts Options, logger *utils.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Fetcher{
		opts:   opts,
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: opts.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
}

// Fetch downloads today's export when today is after since. The attachment is dated
// with the local day of the download.
func (f *Fetcher) Fetch(ctx context.Context, since time.Time) ([]models.Attachment, error) {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !today.After(since) {
		f.logger.Info("[portal] Dataset already covers %s, skipping portal export", today.Format(models.DateLayout))
		return nil, nil
	}

	if err := os.MkdirAll(f.opts.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("portal: create temp dir: %w", err)
	}

	chromeBin := f.opts.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	f.logger.Info("[portal] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	var saved string
	var filename string
	err := f.retry.Do(ctx, "portal-export", func() error {
		var err error
		saved, filename, err = f.download(allocCtx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("portal: %w", err)
	}

	date := today.Format(models.DateLayout)
	target := filepath.Join(f.opts.TempDir, date+"_"+filename)
	if err := os.Rename(saved, target); err != nil {
		_ = os.Remove(saved)
		return nil, fmt.Errorf("portal: move download: %w", err)
	}

	f.logger.Info("[portal] Downloaded report for %s: %s", date, filename)
	return []models.Attachment{{ReportDate: today, Filename: filename, Path: target}}, nil
}

// download clicks the export control and waits for the browser to finish writing the
// file. It returns the on-disk path and the filename the portal suggested.
func (f *Fetcher) download(allocCtx context.Context) (string, string, error) {
	ctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancel()

	ctx, cancelTimeout := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancelTimeout()

	var mu sync.Mutex
	names := make(map[string]string)
	done := make(chan string, 1)

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			mu.Lock()
			names[e.GUID] = e.SuggestedFilename
			mu.Unlock()
		case *browser.EventDownloadProgress:
			if e.State == browser.DownloadProgressStateCompleted {
				select {
				case done <- e.GUID:
				default:
				}
			}
		}
	})

	discard := func(keep string) {
		mu.Lock()
		guids := make([]string, 0, len(names))
		for guid := range names {
			guids = append(guids, guid)
		}
		mu.Unlock()
		if n := removeDownloads(f.opts.TempDir, guids, keep); n > 0 {
			f.logger.Debug("[portal] Removed %d unfinished downloads", n)
		}
	}

	err := chromedp.Run(ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(f.opts.TempDir).
			WithEventsEnabled(true),
		chromedp.Navigate(f.opts.URL),
		chromedp.WaitVisible(f.opts.ExportSelector, chromedp.ByQuery),
		chromedp.Click(f.opts.ExportSelector, chromedp.ByQuery),
	)
	if err != nil {
		discard("")
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}

	select {
	case guid := <-done:
		discard(guid)
		mu.Lock()
		name := names[guid]
		mu.Unlock()
		if name == "" {
			name = "portal-export-" + uuid.NewString()[:8] + ".xlsx"
		}
		return filepath.Join(f.opts.TempDir, guid), filepath.Base(name), nil
	case <-ctx.Done():
		discard("")
		return "", "", fmt.Errorf("waiting for download: %w", ctx.Err())
	}
}

// removeDownloads deletes the browser's GUID-named download files except keep and
// returns how many were removed.
func removeDownloads(dir string, guids []string, keep string) int {
	removed := 0
	for _, guid := range guids {
		if guid == "" || guid == keep {
			continue
		}
		if err := os.Remove(filepath.Join(dir, guid)); err == nil {
			removed++
		}
	}
	return removed
}

// chromeCandidates are tried in order; bare names are searched on PATH.
var chromeCandidates = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"/snap/bin/chromium",
	"/opt/google/chrome/google-chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// findChromeBinary returns the first installed browser, or "" to leave the choice to
// chromedp.
func findChromeBinary() string {
	for _, candidate := range chromeCandidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}
	return ""
}

package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// browserSession owns one authenticated Chrome instance. The session
// is scoped to a single run: acquired at run start and closed on every
// exit path, so a crashed export never leaks a browser into the next
// invocation.
type browserSession struct {
	ctx     context.Context
	cancels []context.CancelFunc
	logger  zerolog.Logger
}

func newBrowserSession(parent context.Context, opts ScrapedOptions, logger zerolog.Logger) (*browserSession, error) {
	if err := os.MkdirAll(opts.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("mute-audio", true),
		chromedp.WindowSize(1920, 1080),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)

	s := &browserSession{
		ctx:     taskCtx,
		cancels: []context.CancelFunc{cancelTask, cancelAlloc},
		logger:  logger,
	}

	if err := s.run(30*time.Second,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(opts.DownloadDir).
			WithEventsEnabled(true),
	); err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

// Close tears the browser down. Safe to call more than once.
func (s *browserSession) Close() {
	for _, cancel := range s.cancels {
		cancel()
	}
}

func (s *browserSession) run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// login authenticates against the platform's login form and waits for
// the post-login redirect. Still sitting on the login page afterwards
// means the credentials were rejected.
func (s *browserSession) login(loginURL, username, password string, wait time.Duration) error {
	err := s.run(wait,
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(`#username`, chromedp.ByQuery),
		chromedp.SendKeys(`#username`, username, chromedp.ByQuery),
		chromedp.SendKeys(`#password`, password, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.Sleep(5*time.Second),
	)
	if err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}

	var location string
	if err := s.run(wait, chromedp.Location(&location)); err != nil {
		return fmt.Errorf("read post-login location: %w", err)
	}
	if strings.Contains(strings.ToLower(location), "login") {
		return errCredentialsRejected
	}

	s.logger.Info().Str("location", location).Msg("logged in to platform ui")
	return nil
}

var errCredentialsRejected = errors.New("platform rejected login credentials")

func (s *browserSession) navigate(url string, wait time.Duration) error {
	return s.run(wait,
		chromedp.Navigate(url),
		chromedp.Sleep(wait/2),
	)
}

// triggerExport clicks the report's export control.
func (s *browserSession) triggerExport(wait time.Duration) error {
	return s.run(wait,
		chromedp.Click(`//button[contains(., 'Export')] | //span[contains(., 'Export CSV')]`, chromedp.BySearch),
	)
}

// extractTableCSV reads the in-page report table and serialises it as
// CSV text. Used when the export download never materialises; in
// containerised Chrome this path is often the more reliable one.
func (s *browserSession) extractTableCSV(wait time.Duration) (string, error) {
	const script = `(() => {
		const table = document.querySelector('table, [role="grid"], [role="table"]');
		if (!table) return '';
		const lines = [];
		for (const tr of table.querySelectorAll('tr, [role="row"]')) {
			const cells = Array.from(tr.querySelectorAll('th, td, [role="columnheader"], [role="cell"]'))
				.map(c => '"' + c.textContent.trim().replace(/"/g, '""') + '"');
			if (cells.length) lines.push(cells.join(','));
		}
		return lines.join('\n');
	})()`

	var text string
	if err := s.run(wait, chromedp.Evaluate(script, &text)); err != nil {
		return "", fmt.Errorf("extract report table: %w", err)
	}
	if strings.Count(text, "\n") < 1 {
		return "", errors.New("report table not present or empty")
	}
	return text, nil
}

// captureDiagnostics writes a screenshot and the current page state
// into dir and returns the screenshot path. Called only after every
// download strategy has failed.
func (s *browserSession) captureDiagnostics(dir, label string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	var shot []byte
	var html string
	if err := s.run(30*time.Second,
		chromedp.FullScreenshot(&shot, 90),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("capture page state: %w", err)
	}

	base := filepath.Join(dir, fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), label))
	if err := os.WriteFile(base+".png", shot, 0o644); err != nil {
		return "", err
	}
	if err := os.WriteFile(base+".html", []byte(html), 0o644); err != nil {
		return "", err
	}

	s.logger.Warn().Str("screenshot", base+".png").Msg("wrote diagnostic artifacts")
	return base + ".png", nil
}

// awaitDownload polls dir until a finished CSV newer than since
// appears or the wait bound elapses.
func awaitDownload(ctx context.Context, dir string, since time.Time, wait time.Duration) (string, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if path := newestFinishedCSV(dir, since); path != "" {
			return path, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("no export file appeared in %s within %s", dir, wait)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func newestFinishedCSV(dir string, since time.Time) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".csv") {
			continue
		}
		// Chrome keeps an in-flight marker until the download completes.
		if _, err := os.Stat(filepath.Join(dir, entry.Name()+".crdownload")); err == nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 || info.ModTime().Before(since) {
			continue
		}
		if info.ModTime().After(newestMod) {
			newest = filepath.Join(dir, entry.Name())
			newestMod = info.ModTime()
		}
	}
	return newest
}

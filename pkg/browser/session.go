package browser

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Session holds the Playwright resources behind a Driver.
type Session struct {
	Playwright *playwright.Playwright
	Browser    playwright.Browser
	Context    playwright.BrowserContext
	Page       playwright.Page

	Headless   bool
	CreatedAt  time.Time
	LastUsedAt time.Time
	CurrentURL string
}

// UpdateLastUsed updates the last used timestamp.
func (s *Session) UpdateLastUsed() {
	s.LastUsedAt = time.Now()
}

// launchArgs keeps navigator.webdriver from flagging the session.
var launchArgs = []string{"--disable-blink-features=AutomationControlled"}

// launch starts Playwright and opens a chromium page configured by opts.
func launch(opts Options) (*Session, error) {
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if opts.InstallBrowsers {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     launchArgs,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height},
	}
	if opts.VideoDir != "" {
		ctxOpts.RecordVideo = &playwright.RecordVideo{Dir: opts.VideoDir}
	}
	bctx, err := b.NewContext(ctxOpts)
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(*millis(opts.ActionTimeout))

	now := time.Now()
	return &Session{
		Playwright: pw,
		Browser:    b,
		Context:    bctx,
		Page:       page,
		Headless:   opts.Headless,
		CreatedAt:  now,
		LastUsedAt: now,
		CurrentURL: "about:blank",
	}, nil
}

// Navigate opens url and waits for DOMContentLoaded.
func (s *Session) Navigate(url string, timeout time.Duration) error {
	s.UpdateLastUsed()
	_, err := s.Page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   millis(timeout),
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	s.CurrentURL = s.Page.URL()
	return nil
}

// Close releases the page, context, browser and driver. Closing the
// context flushes any recorded video.
func (s *Session) Close() error {
	var errs []error
	if s.Page != nil {
		if err := s.Page.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Context != nil {
		if err := s.Context.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Browser != nil {
		if err := s.Browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Playwright != nil {
		if err := s.Playwright.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}
	return errors.Join(errs...)
}

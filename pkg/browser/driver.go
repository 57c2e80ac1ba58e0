package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/merlin/pkg/logging"
	"github.com/entrhq/merlin/pkg/runloop"
	"github.com/entrhq/merlin/pkg/types"
)

// Timeouts for single element interactions, in the order the page is
// usually touched.
const (
	startClickTimeout = 3 * time.Second
	sendClickTimeout  = 1500 * time.Millisecond
	modalReadTimeout  = 1500 * time.Millisecond
	modalHideTimeout  = 3 * time.Second
	modalSettleDelay  = 250 * time.Millisecond
	typeDelayMillis   = 10
	maxCleanDOMLength = 200_000
)

// Driver is a runloop.Interface backed by a Playwright page.
type Driver struct {
	mu      sync.Mutex
	opts    Options
	session *Session
	logger  logging.Interface
}

var _ runloop.Interface = (*Driver)(nil)

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver's logger.
func WithLogger(l logging.Interface) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a driver. Nothing is launched until Start.
func New(opts Options, options ...Option) (*Driver, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid browser options: %w", err)
	}
	d := &Driver{
		opts:   opts.normalize(),
		logger: logging.Nop(),
	}
	for _, o := range options {
		o(d)
	}
	return d, nil
}

// Options returns the effective options.
func (d *Driver) Options() Options {
	return d.opts
}

// Start launches the browser, opens the target URL and presses the start
// button when the page shows one.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := launch(d.opts)
	if err != nil {
		return err
	}
	d.logger.Infof("Navigating to %s", d.opts.URL)
	if err := s.Navigate(d.opts.URL, d.opts.NavigateTimeout); err != nil {
		_ = s.Close()
		return mapError(err)
	}
	err = s.Page.Locator(d.opts.Selectors.StartButton).First().Click(playwright.LocatorClickOptions{
		Timeout: millis(startClickTimeout),
	})
	if err != nil {
		d.logger.Debugf("No start button clicked: %v", err)
	}
	d.session = s
	return nil
}

// Close shuts the browser down. It is safe to call more than once.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	return err
}

func (d *Driver) page() (playwright.Page, error) {
	if d.session == nil {
		return nil, ErrNotInitialized
	}
	d.session.UpdateLastUsed()
	return d.session.Page, nil
}

// Send performs one action on the page and reports what the page showed
// afterwards.
func (d *Driver) Send(ctx context.Context, action types.Action) (runloop.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	page, err := d.page()
	if err != nil {
		return runloop.Response{}, err
	}

	switch action.Kind {
	case types.ActionAsk:
		return d.ask(ctx, page, action.Content)
	case types.ActionSubmit:
		return d.submit(ctx, page, action.Content)
	default:
		return runloop.Response{}, fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}

func (d *Driver) ask(ctx context.Context, page playwright.Page, question string) (runloop.Response, error) {
	// A leftover hint modal would swallow the keystrokes.
	hint := d.dismissVisibleModal(page)

	prev, _ := d.readReply(page)

	input := page.Locator(d.opts.Selectors.ChatInput).First()
	if err := input.Click(); err != nil {
		return runloop.Response{}, mapError(fmt.Errorf("focus chat input: %w", err))
	}
	if err := input.Fill(""); err != nil {
		d.logger.Debugf("Could not clear chat input: %v", err)
	}
	err := input.PressSequentially(question, playwright.LocatorPressSequentiallyOptions{
		Delay: playwright.Float(typeDelayMillis),
	})
	if err != nil {
		return runloop.Response{}, mapError(fmt.Errorf("type question: %w", err))
	}
	err = page.Locator(d.opts.Selectors.SendButton).First().Click(playwright.LocatorClickOptions{
		Timeout: millis(sendClickTimeout),
	})
	if err != nil {
		if err := input.Press("Enter"); err != nil {
			return runloop.Response{}, mapError(fmt.Errorf("send question: %w", err))
		}
	}

	reply, err := d.awaitReply(ctx, page, prev)
	if err != nil {
		return runloop.Response{}, err
	}
	heading, err := d.heading(page)
	if err != nil {
		return runloop.Response{}, err
	}
	return runloop.Response{Text: reply, Heading: heading, Hint: hint}, nil
}

func (d *Driver) submit(ctx context.Context, page playwright.Page, password string) (runloop.Response, error) {
	before, err := d.heading(page)
	if err != nil {
		return runloop.Response{}, err
	}

	err = page.Locator(d.opts.Selectors.PasswordInput).First().Fill(password, playwright.LocatorFillOptions{
		Timeout: millis(d.opts.ActionTimeout),
	})
	if err != nil {
		return runloop.Response{}, mapError(fmt.Errorf("fill password: %w", err))
	}
	err = page.Locator(d.opts.Selectors.SubmitButton).First().Click(playwright.LocatorClickOptions{
		Timeout: millis(d.opts.ActionTimeout),
	})
	if err != nil {
		return runloop.Response{}, mapError(fmt.Errorf("click submit: %w", err))
	}

	hint := d.handleModal(page)
	heading, err := d.settleHeading(ctx, page, before)
	if err != nil {
		return runloop.Response{}, err
	}
	return runloop.Response{Text: hint, Heading: heading, Hint: hint}, nil
}

// CurrentHeading reads the normalized level heading.
func (d *Driver) CurrentHeading(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	page, err := d.page()
	if err != nil {
		return "", err
	}
	return d.heading(page)
}

func (d *Driver) heading(page playwright.Page) (string, error) {
	text, err := page.Locator(d.opts.Selectors.LevelHeading).First().InnerText(playwright.LocatorInnerTextOptions{
		Timeout: millis(d.opts.ActionTimeout),
	})
	if err != nil {
		return "", mapError(fmt.Errorf("read heading: %w", err))
	}
	return NormalizeHeading(text), nil
}

// readReply returns the latest assistant paragraph, or the whole message
// container when no paragraph is present.
func (d *Driver) readReply(page playwright.Page) (string, error) {
	msgs := page.Locator(d.opts.Selectors.AssistantMessage)
	if n, err := msgs.Count(); err == nil && n > 0 {
		text, err := msgs.Last().InnerText(playwright.LocatorInnerTextOptions{
			Timeout: millis(d.opts.ActionTimeout),
		})
		if err == nil {
			return strings.TrimSpace(text), nil
		}
	}
	text, err := page.Locator(d.opts.Selectors.MessagesContainer).First().InnerText(playwright.LocatorInnerTextOptions{
		Timeout: millis(d.opts.ActionTimeout),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// awaitReply polls until the reply differs from prev. A reply identical to
// the previous one is accepted once the wait runs out.
func (d *Driver) awaitReply(ctx context.Context, page playwright.Page, prev string) (string, error) {
	last, changed, err := pollUntil(ctx, d.opts.ReplyWait, d.opts.PollInterval, func() (string, bool) {
		text, err := d.readReply(page)
		if err != nil {
			return "", false
		}
		return text, text != "" && text != prev
	})
	if err != nil {
		return "", fmt.Errorf("%w: waiting for reply: %v", runloop.ErrInterfaceTimeout, err)
	}
	if !changed {
		if last == "" {
			return "", fmt.Errorf("%w: no reply within %s", runloop.ErrInterfaceTimeout, d.opts.ReplyWait)
		}
		d.logger.Debugf("Reply unchanged after %s", d.opts.ReplyWait)
	}
	return last, nil
}

// settleHeading polls the heading until it differs from before or the
// settle window ends, and returns the last value read.
func (d *Driver) settleHeading(ctx context.Context, page playwright.Page, before string) (string, error) {
	var readErr error
	last, _, err := pollUntil(ctx, d.opts.SettleWindow, d.opts.PollInterval, func() (string, bool) {
		h, err := d.heading(page)
		if err != nil {
			readErr = err
			return "", false
		}
		readErr = nil
		return h, h != before
	})
	if err != nil {
		return "", fmt.Errorf("%w: waiting for heading: %v", runloop.ErrInterfaceTimeout, err)
	}
	if last == "" && readErr != nil {
		return "", readErr
	}
	return last, nil
}

// handleModal waits briefly for a modal, returns its text and dismisses it.
func (d *Driver) handleModal(page playwright.Page) string {
	root := page.Locator(d.opts.Selectors.ModalRoot).First()
	err := root.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: millis(d.opts.ModalWait),
	})
	if err != nil {
		return ""
	}
	return d.dismissModal(page, root)
}

// dismissVisibleModal handles a modal only if one is already showing.
func (d *Driver) dismissVisibleModal(page playwright.Page) string {
	root := page.Locator(d.opts.Selectors.ModalRoot).First()
	visible, err := root.IsVisible()
	if err != nil || !visible {
		return ""
	}
	return d.dismissModal(page, root)
}

func (d *Driver) dismissModal(page playwright.Page, root playwright.Locator) string {
	readOpts := playwright.LocatorInnerTextOptions{Timeout: millis(modalReadTimeout)}
	hint, err := page.Locator(d.opts.Selectors.ModalBody).First().InnerText(readOpts)
	if err != nil {
		hint, _ = root.InnerText(readOpts)
	}
	hint = strings.TrimSpace(hint)

	clickOpts := playwright.LocatorClickOptions{Timeout: millis(modalReadTimeout)}
	continueBtn := page.GetByRole("button", playwright.PageGetByRoleOptions{Name: "Continue"})
	attempts := []func() error{
		func() error { return continueBtn.Click(clickOpts) },
		func() error { return page.Locator(d.opts.Selectors.ModalContinue).First().Click(clickOpts) },
		func() error {
			if err := root.Focus(); err != nil {
				return err
			}
			return page.Keyboard().Press("Enter")
		},
		func() error { return page.Locator(d.opts.Selectors.ModalClose).First().Click(clickOpts) },
	}
	dismissed := false
	for _, try := range attempts {
		if err := try(); err == nil {
			dismissed = true
			break
		}
	}

	hidden := playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateHidden,
		Timeout: millis(modalHideTimeout),
	}
	if err := root.WaitFor(hidden); err != nil {
		// An overlay can intercept the first click.
		force := playwright.LocatorClickOptions{Timeout: millis(time.Second), Force: playwright.Bool(true)}
		if continueBtn.Click(force) == nil && root.WaitFor(hidden) == nil {
			dismissed = true
		}
	}

	if hint != "" {
		d.logger.Infof("Modal hint: %s", hint)
	}
	if dismissed {
		d.logger.Debugf("Modal dismissed")
	}
	page.WaitForTimeout(float64(modalSettleDelay.Milliseconds()))
	return hint
}

// Screenshot writes a full-page PNG to path.
func (d *Driver) Screenshot(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	page, err := d.page()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	_, err = page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}
	return nil
}

// DumpDOM writes the page HTML to path and a cleaned copy next to it with
// a .clean.html suffix.
func (d *Driver) DumpDOM(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	page, err := d.page()
	if err != nil {
		return err
	}
	content, err := page.Content()
	if err != nil {
		return fmt.Errorf("failed to read page content: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create dump directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write DOM dump: %w", err)
	}
	cleaned, truncated, err := CleanDOM(content, maxCleanDOMLength)
	if err != nil {
		d.logger.Warnf("Could not clean DOM dump: %v", err)
		return nil
	}
	if truncated {
		d.logger.Debugf("Cleaned DOM dump truncated at %d bytes", maxCleanDOMLength)
	}
	cleanPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".clean.html"
	if err := os.WriteFile(cleanPath, []byte(cleaned), 0644); err != nil {
		return fmt.Errorf("failed to write cleaned DOM dump: %w", err)
	}
	return nil
}

// mapError marks Playwright timeouts with runloop.ErrInterfaceTimeout so the
// loop re-dispatches instead of failing.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", runloop.ErrInterfaceTimeout, err)
	}
	return err
}

// pollUntil calls probe every interval until it reports done, the window
// ends or ctx is done. It returns the last probed value and whether probe
// reported done. The error is non-nil only for ctx.
func pollUntil(ctx context.Context, window, interval time.Duration, probe func() (string, bool)) (string, bool, error) {
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		v, done := probe()
		if v != "" {
			last = v
		}
		if done {
			return last, true, nil
		}
		select {
		case <-ctx.Done():
			return last, false, ctx.Err()
		case <-deadline.C:
			return last, false, nil
		case <-ticker.C:
		}
	}
}

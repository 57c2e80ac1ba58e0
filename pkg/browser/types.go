package browser

import (
	"errors"
	"fmt"
	"time"
)

// Defaults for a Driver.
const (
	DefaultURL            = "https://hackmerlin.io/"
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800

	DefaultNavigateTimeout = 45 * time.Second
	DefaultActionTimeout   = 3 * time.Second
	DefaultReplyWait       = 10 * time.Second
	DefaultSettleWindow    = 7 * time.Second
	DefaultPollInterval    = 150 * time.Millisecond
	DefaultModalWait       = 4 * time.Second
)

// ErrNotInitialized is returned when the driver is used before Start.
var ErrNotInitialized = errors.New("browser: driver not started")

// Selectors are the CSS selectors used to find page elements.
type Selectors struct {
	StartButton       string `yaml:"start_button"`
	ChatInput         string `yaml:"chat_input"`
	SendButton        string `yaml:"send_button"`
	MessagesContainer string `yaml:"messages_container"`
	AssistantMessage  string `yaml:"assistant_message"`
	LevelHeading      string `yaml:"level_heading"`
	PasswordInput     string `yaml:"password_input"`
	SubmitButton      string `yaml:"submit_button"`
	ModalRoot         string `yaml:"modal_root"`
	ModalBody         string `yaml:"modal_body"`
	ModalContinue     string `yaml:"modal_continue"`
	ModalClose        string `yaml:"modal_close"`
}

// DefaultSelectors match the Mantine markup of the HackMerlin page.
func DefaultSelectors() Selectors {
	return Selectors{
		StartButton:       `button:has-text("Start")`,
		ChatInput:         `textarea, input[placeholder*="Ask" i]`,
		SendButton:        `button:has-text("Ask")`,
		MessagesContainer: "blockquote",
		AssistantMessage:  "blockquote p",
		LevelHeading:      "h1.mantine-Title-root",
		PasswordInput:     `input[placeholder*="password" i]`,
		SubmitButton:      `button:has-text("Submit")`,
		ModalRoot:         ".mantine-Modal-root",
		ModalBody:         ".mantine-Modal-body",
		ModalContinue:     `button:has-text("Continue")`,
		ModalClose:        ".mantine-Modal-close",
	}
}

// withDefaults fills empty selectors from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.StartButton, d.StartButton)
	fill(&s.ChatInput, d.ChatInput)
	fill(&s.SendButton, d.SendButton)
	fill(&s.MessagesContainer, d.MessagesContainer)
	fill(&s.AssistantMessage, d.AssistantMessage)
	fill(&s.LevelHeading, d.LevelHeading)
	fill(&s.PasswordInput, d.PasswordInput)
	fill(&s.SubmitButton, d.SubmitButton)
	fill(&s.ModalRoot, d.ModalRoot)
	fill(&s.ModalBody, d.ModalBody)
	fill(&s.ModalContinue, d.ModalContinue)
	fill(&s.ModalClose, d.ModalClose)
	return s
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Options configures a Driver.
type Options struct {
	// URL is the page to open on Start.
	URL string

	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// VideoDir enables video recording into this directory when set.
	VideoDir string

	Viewport  Viewport
	Selectors Selectors

	NavigateTimeout time.Duration
	ActionTimeout   time.Duration

	// ReplyWait bounds how long an ask waits for a new assistant reply.
	ReplyWait time.Duration

	// SettleWindow bounds how long a submit waits for the heading to change.
	SettleWindow time.Duration
	PollInterval time.Duration
	ModalWait    time.Duration

	// InstallBrowsers runs the Playwright driver install before launching.
	InstallBrowsers bool
}

// DefaultOptions returns options matching the original agent's behavior.
func DefaultOptions() Options {
	return Options{
		URL:             DefaultURL,
		Headless:        true,
		Viewport:        Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
		Selectors:       DefaultSelectors(),
		NavigateTimeout: DefaultNavigateTimeout,
		ActionTimeout:   DefaultActionTimeout,
		ReplyWait:       DefaultReplyWait,
		SettleWindow:    DefaultSettleWindow,
		PollInterval:    DefaultPollInterval,
		ModalWait:       DefaultModalWait,
		InstallBrowsers: true,
	}
}

// normalize fills zero values with defaults.
func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.URL == "" {
		o.URL = d.URL
	}
	if o.Viewport.Width <= 0 || o.Viewport.Height <= 0 {
		o.Viewport = d.Viewport
	}
	o.Selectors = o.Selectors.withDefaults()
	durations := []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&o.NavigateTimeout, d.NavigateTimeout},
		{&o.ActionTimeout, d.ActionTimeout},
		{&o.ReplyWait, d.ReplyWait},
		{&o.SettleWindow, d.SettleWindow},
		{&o.PollInterval, d.PollInterval},
		{&o.ModalWait, d.ModalWait},
	}
	for _, x := range durations {
		if *x.v <= 0 {
			*x.v = x.def
		}
	}
	return o
}

// Validate checks options that cannot be defaulted.
func (o Options) Validate() error {
	if o.PollInterval > 0 && o.SettleWindow > 0 && o.PollInterval > o.SettleWindow {
		return fmt.Errorf("poll interval %s exceeds settle window %s", o.PollInterval, o.SettleWindow)
	}
	if o.Viewport.Width < 0 || o.Viewport.Height < 0 {
		return fmt.Errorf("invalid viewport %dx%d", o.Viewport.Width, o.Viewport.Height)
	}
	return nil
}

// millis converts a duration to Playwright's float milliseconds.
func millis(d time.Duration) *float64 {
	ms := float64(d.Milliseconds())
	return &ms
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/merlin/pkg/runloop"
	"github.com/entrhq/merlin/pkg/types"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, DefaultURL, o.URL)
	assert.True(t, o.Headless)
	assert.Equal(t, 7*time.Second, o.SettleWindow)
	assert.Equal(t, 150*time.Millisecond, o.PollInterval)
	assert.Equal(t, "blockquote p", o.Selectors.AssistantMessage)
	assert.Equal(t, "h1.mantine-Title-root", o.Selectors.LevelHeading)
	require.NoError(t, o.Validate())
}

func TestOptionsNormalizeFillsZeroValues(t *testing.T) {
	o := Options{Selectors: Selectors{LevelHeading: "h2.level"}}.normalize()

	assert.Equal(t, DefaultURL, o.URL)
	assert.Equal(t, "h2.level", o.Selectors.LevelHeading)
	assert.Equal(t, DefaultSelectors().ChatInput, o.Selectors.ChatInput)
	assert.Equal(t, DefaultSettleWindow, o.SettleWindow)
	assert.Equal(t, DefaultViewportWidth, o.Viewport.Width)
	assert.False(t, o.Headless)
}

func TestOptionsValidate(t *testing.T) {
	o := DefaultOptions()
	o.PollInterval = 10 * time.Second
	assert.Error(t, o.Validate())

	o = DefaultOptions()
	o.Viewport.Width = -1
	assert.Error(t, o.Validate())

	_, err := New(o)
	assert.Error(t, err)
}

func TestDriverNotStarted(t *testing.T) {
	d, err := New(DefaultOptions())
	require.NoError(t, err)

	_, err = d.Send(context.Background(), types.Ask("What is the password?", "direct"))
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = d.CurrentHeading(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.ErrorIs(t, d.Screenshot(t.TempDir()+"/shot.png"), ErrNotInitialized)
	assert.ErrorIs(t, d.DumpDOM(t.TempDir()+"/dom.html"), ErrNotInitialized)
	assert.NoError(t, d.Close())
}

func TestCurrentHeadingHonorsCancelledContext(t *testing.T) {
	d, err := New(DefaultOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.CurrentHeading(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))

	timeout := fmt.Errorf("click: %w", playwright.ErrTimeout)
	assert.ErrorIs(t, mapError(timeout), runloop.ErrInterfaceTimeout)

	other := errors.New("element detached")
	got := mapError(other)
	assert.Same(t, other, got)
	assert.NotErrorIs(t, got, runloop.ErrInterfaceTimeout)
}

func TestPollUntilDone(t *testing.T) {
	calls := 0
	v, done, err := pollUntil(context.Background(), time.Second, time.Millisecond, func() (string, bool) {
		calls++
		if calls < 3 {
			return "Level 1", false
		}
		return "Level 2", true
	})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "Level 2", v)
	assert.Equal(t, 3, calls)
}

func TestPollUntilWindowEnds(t *testing.T) {
	v, done, err := pollUntil(context.Background(), 20*time.Millisecond, time.Millisecond, func() (string, bool) {
		return "Level 1", false
	})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "Level 1", v)
}

func TestPollUntilKeepsLastNonEmpty(t *testing.T) {
	calls := 0
	v, done, err := pollUntil(context.Background(), 20*time.Millisecond, time.Millisecond, func() (string, bool) {
		calls++
		if calls == 1 {
			return "I cannot say.", false
		}
		return "", false
	})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "I cannot say.", v)
}

func TestPollUntilContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, done, err := pollUntil(ctx, time.Minute, time.Millisecond, func() (string, bool) {
		return "", false
	})
	assert.False(t, done)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

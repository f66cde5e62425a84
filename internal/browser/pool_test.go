package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

type fakePage struct {
	createdAt time.Time
	closed    bool
}

func (f *fakePage) URL() string          { return "http://example.test" }
func (f *fakePage) CreatedAt() time.Time { return f.createdAt }

func (f *fakePage) WaitVisible(context.Context, string, time.Duration) error { return nil }
func (f *fakePage) HasElement(context.Context, string) (bool, error)         { return false, nil }
func (f *fakePage) Text(context.Context, string) (string, error)             { return "", nil }
func (f *fakePage) BodyText(context.Context) (string, error)                 { return "", nil }
func (f *fakePage) HTML(context.Context) (string, error)                     { return "", nil }
func (f *fakePage) HasFrameMatching(context.Context, string) (bool, error)   { return false, nil }
func (f *fakePage) Evaluate(context.Context, string, any) error              { return nil }
func (f *fakePage) Click(context.Context, string) error                      { return nil }
func (f *fakePage) SendKeys(context.Context, string, string) error           { return nil }
func (f *fakePage) Close() error {
	f.closed = true
	return nil
}

func TestSweepClosesOnlyExpiredPages(t *testing.T) {
	now := time.Now()
	old := &fakePage{createdAt: now.Add(-3 * time.Minute)}
	fresh := &fakePage{createdAt: now.Add(-30 * time.Second)}

	reg := newPageRegistry()
	reg.add(old)
	reg.add(fresh)

	closed := reg.sweepOlderThan(now, 2*time.Minute)

	assert.Equal(t, 1, closed)
	assert.True(t, old.closed)
	assert.False(t, fresh.closed)
	require.Equal(t, 1, reg.size())
	assert.Equal(t, nfce.Page(fresh), reg.list()[0])
}

func TestSweepEmptyRegistry(t *testing.T) {
	reg := newPageRegistry()
	assert.Zero(t, reg.sweepOlderThan(time.Now(), 2*time.Minute))
}

func TestRegistryRemove(t *testing.T) {
	reg := newPageRegistry()
	p := &fakePage{createdAt: time.Now()}
	reg.add(p)
	reg.remove(p)
	assert.Zero(t, reg.size())
}

func TestPageCloseDeregistersItself(t *testing.T) {
	reg := newPageRegistry()
	page := &Page{
		url:       "http://example.test",
		createdAt: time.Now(),
		cancel:    func() {},
		onClose:   reg.remove,
	}
	reg.add(page)
	require.Equal(t, 1, reg.size())

	require.NoError(t, page.Close())
	assert.Zero(t, reg.size())

	// Second close must not panic or touch the registry again.
	reg.add(&fakePage{createdAt: time.Now()})
	require.NoError(t, page.Close())
	assert.Equal(t, 1, reg.size())
}

func TestPickUserAgent(t *testing.T) {
	t.Run("custom pool", func(t *testing.T) {
		agents := []string{"ua-one"}
		assert.Equal(t, "ua-one", pickUserAgent(agents))
	})

	t.Run("falls back to built-in pool", func(t *testing.T) {
		got := pickUserAgent(nil)
		assert.Contains(t, defaultUserAgents, got)
	})
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 60*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 2*time.Minute, cfg.PageMaxAge)

	tuned := Config{NavigationTimeout: time.Second, PageMaxAge: time.Minute}.withDefaults()
	assert.Equal(t, time.Second, tuned.NavigationTimeout)
	assert.Equal(t, time.Minute, tuned.PageMaxAge)
}

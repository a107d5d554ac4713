// Package browser fetches rendered page HTML through a headless
// Chrome, for pages whose content only exists after JavaScript runs.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// FetcherConfig configures the headless fetcher.
type FetcherConfig struct {
	// ControlURL connects to an existing Chrome DevTools endpoint.
	// Empty launches a managed headless instance.
	ControlURL string

	// NavigateTimeout bounds one page load. Zero means 30s.
	NavigateTimeout time.Duration

	Logger zerolog.Logger
}

// Fetcher renders pages in headless Chrome and returns their HTML.
type Fetcher struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	timeout  time.Duration
	log      zerolog.Logger
}

// NewFetcher connects to Chrome, launching one when no control URL is
// configured.
func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	timeout := cfg.NavigateTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	f := &Fetcher{
		timeout: timeout,
		log:     cfg.Logger.With().Str("component", "browser").Logger(),
	}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true).NoSandbox(true)
		url, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: failed to launch chrome: %w", err)
		}
		f.launcher = l
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if f.launcher != nil {
			f.launcher.Kill()
		}
		return nil, fmt.Errorf("browser: failed to connect: %w", err)
	}
	f.browser = browser
	return f, nil
}

// FetchHTML navigates to the URL, waits for the load event, and
// returns the rendered document HTML.
func (f *Fetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	page, err := f.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("browser: failed to open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			f.log.Warn().Err(cerr).Msg("failed to close page")
		}
	}()

	page = page.Context(ctx).Timeout(f.timeout)
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("browser: page load timed out for %s: %w", url, err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("browser: failed to read page html: %w", err)
	}

	f.log.Debug().Str("url", url).Int("bytes", len(html)).Msg("page fetched")
	return html, nil
}

// Close disconnects from Chrome and kills the managed instance when
// one was launched.
func (f *Fetcher) Close() error {
	var err error
	if f.browser != nil {
		err = f.browser.Close()
	}
	if f.launcher != nil {
		f.launcher.Kill()
	}
	return err
}

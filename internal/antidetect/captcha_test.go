// internal/antidetect/captcha_test.go
package antidetect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/valpere/ScholarNav/internal/browser"
	"github.com/valpere/ScholarNav/internal/session"
	"github.com/valpere/ScholarNav/internal/utils"
)

// scriptedBrowser serves pages from a script, repeating the last one.
type scriptedBrowser struct {
	current    string
	pages      []string
	polls      int
	navigated  []string
	setCookies []browser.Cookie
	cookies    []browser.Cookie
	closed     bool

	// dead makes every call fail; dieAfter closes the tab after that many polls.
	dead     bool
	dieAfter int
}

func (b *scriptedBrowser) CurrentURL(ctx context.Context) (string, error) {
	if b.dead {
		return "", fmt.Errorf("read location: %w", browser.ErrClosed)
	}
	if b.current == "" {
		return "about:blank", nil
	}
	return b.current, nil
}

func (b *scriptedBrowser) Navigate(ctx context.Context, target string) error {
	b.navigated = append(b.navigated, target)
	b.current = target
	return nil
}

func (b *scriptedBrowser) HTML(ctx context.Context) (string, error) {
	if b.dead || (b.dieAfter > 0 && b.polls >= b.dieAfter) {
		b.polls++
		return "", fmt.Errorf("read document: %w", browser.ErrClosed)
	}
	i := b.polls
	if i >= len(b.pages) {
		i = len(b.pages) - 1
	}
	b.polls++
	return b.pages[i], nil
}

func (b *scriptedBrowser) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	return b.cookies, nil
}

func (b *scriptedBrowser) SetCookie(ctx context.Context, c browser.Cookie) error {
	b.setCookies = append(b.setCookies, c)
	return nil
}

func (b *scriptedBrowser) Close() error {
	b.closed = true
	return nil
}

const target = "http://scholar.test/citations?user=abc"

func fastConfig() BridgeConfig {
	return BridgeConfig{
		MaxWait:      200 * time.Millisecond,
		PollInterval: time.Millisecond,
		PollTimeout:  50 * time.Millisecond,
		LogInterval:  5 * time.Millisecond,
	}
}

func newSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New(session.Settings{Proxy: session.ProxyConfig{HTTP: "10.0.0.1:8080"}}, utils.NewNopLogger())
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBridge_Solve(t *testing.T) {
	sess := newSession(t)
	u, _ := url.Parse(target)
	sess.SetCookies(u, []*http.Cookie{{Name: "GSP", Value: "before"}})

	fake := &scriptedBrowser{
		pages: []string{captchaPage, captchaPage, cleanPage},
		cookies: []browser.Cookie{{
			Name:     "GOOGLE_ABUSE_EXEMPTION",
			Value:    "ok",
			Domain:   "scholar.test",
			Path:     "/",
			HTTPOnly: true,
			Expires:  time.Now().Add(time.Hour),
			SameSite: "Lax",
		}},
	}

	var launched *browser.Config
	launcher := browser.LauncherFunc(func(ctx context.Context, cfg *browser.Config) (browser.Context, error) {
		launched = cfg
		return fake, nil
	})

	bridge := NewBridge(launcher, nil, fastConfig(), utils.NewNopLogger())
	result, err := bridge.Solve(context.Background(), sess, target)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if result != CaptchaSolved {
		t.Fatalf("expected solved, got %s", result)
	}

	if launched == nil {
		t.Fatal("expected a browser launch")
	}
	if launched.UserAgent != sess.UserAgent() {
		t.Errorf("expected browser to reuse the session User-Agent, got %q", launched.UserAgent)
	}
	if launched.ProxyServer != "10.0.0.1:8080" {
		t.Errorf("expected browser on the session proxy, got %q", launched.ProxyServer)
	}
	if sess.Browser() != browser.Context(fake) {
		t.Error("expected browser to be attached to the session")
	}

	wantNav := []string{"http://scholar.test/", target}
	if len(fake.navigated) != 2 || fake.navigated[0] != wantNav[0] || fake.navigated[1] != wantNav[1] {
		t.Errorf("expected navigations %v, got %v", wantNav, fake.navigated)
	}
	if len(fake.setCookies) != 1 || fake.setCookies[0].Name != "GSP" || fake.setCookies[0].Domain != "scholar.test" {
		t.Errorf("expected GSP cookie copied into browser, got %+v", fake.setCookies)
	}

	found := false
	for _, c := range sess.Cookies(u) {
		if c.Name == "GOOGLE_ABUSE_EXEMPTION" && c.Value == "ok" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected browser cookie in session, got %v", sess.Cookies(u))
	}
	if fake.polls != 3 {
		t.Errorf("expected 3 polls, got %d", fake.polls)
	}
}

func TestBridge_ReusesAttachedBrowser(t *testing.T) {
	sess := newSession(t)
	fake := &scriptedBrowser{current: "http://scholar.test/scholar", pages: []string{cleanPage}}
	sess.AttachBrowser(fake)

	bridge := NewBridge(nil, nil, fastConfig(), nil)
	result, err := bridge.Solve(context.Background(), sess, target)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if result != CaptchaSolved {
		t.Errorf("expected solved, got %s", result)
	}
	if len(fake.navigated) != 1 {
		t.Errorf("expected only the target navigation, got %v", fake.navigated)
	}
}

func TestBridge_SkipsCookiesForOtherHost(t *testing.T) {
	sess := newSession(t)
	u, _ := url.Parse(target)
	sess.SetCookies(u, []*http.Cookie{{Name: "GSP", Value: "x"}})

	fake := &scriptedBrowser{current: "https://accounts.example.org/", pages: []string{cleanPage}}
	sess.AttachBrowser(fake)

	bridge := NewBridge(nil, nil, fastConfig(), nil)
	if _, err := bridge.Solve(context.Background(), sess, target); err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if len(fake.setCookies) != 0 {
		t.Errorf("expected no cookies for a foreign host, got %+v", fake.setCookies)
	}
}

func TestBridge_HardBlock(t *testing.T) {
	sess := newSession(t)
	fake := &scriptedBrowser{pages: []string{captchaPage, hardBlockPage}}
	sess.AttachBrowser(fake)

	bridge := NewBridge(nil, nil, fastConfig(), nil)
	result, err := bridge.Solve(context.Background(), sess, target)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if result != CaptchaHardBlock {
		t.Errorf("expected hard block, got %s", result)
	}
}

func TestBridge_Timeout(t *testing.T) {
	sess := newSession(t)
	fake := &scriptedBrowser{pages: []string{captchaPage}}
	sess.AttachBrowser(fake)

	cfg := fastConfig()
	cfg.MaxWait = 30 * time.Millisecond

	bridge := NewBridge(nil, nil, cfg, nil)
	result, err := bridge.Solve(context.Background(), sess, target)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if result != CaptchaTimeout {
		t.Errorf("expected timeout, got %s", result)
	}
	if fake.polls < 2 {
		t.Errorf("expected repeated polling, got %d polls", fake.polls)
	}
}

func TestBridge_RelaunchesDeadBrowser(t *testing.T) {
	sess := newSession(t)
	dead := &scriptedBrowser{dead: true, pages: []string{captchaPage}}
	sess.AttachBrowser(dead)

	fresh := &scriptedBrowser{pages: []string{captchaPage, cleanPage}}
	launches := 0
	launcher := browser.LauncherFunc(func(ctx context.Context, cfg *browser.Config) (browser.Context, error) {
		launches++
		return fresh, nil
	})

	cfg := fastConfig()
	cfg.MaxWait = time.Minute
	bridge := NewBridge(launcher, nil, cfg, nil)

	result, err := bridge.Solve(context.Background(), sess, target)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if result != CaptchaSolved {
		t.Errorf("expected solved, got %s", result)
	}
	if launches != 1 {
		t.Errorf("expected one launch, got %d", launches)
	}
	if !dead.closed || dead.polls != 0 {
		t.Errorf("expected the dead browser closed and never polled, got closed=%v polls=%d", dead.closed, dead.polls)
	}
	if sess.Browser() != browser.Context(fresh) {
		t.Error("expected the new browser attached to the session")
	}
}

func TestBridge_BrowserClosedWhilePolling(t *testing.T) {
	sess := newSession(t)
	fake := &scriptedBrowser{pages: []string{captchaPage}, dieAfter: 2}
	sess.AttachBrowser(fake)

	cfg := fastConfig()
	cfg.MaxWait = time.Minute
	bridge := NewBridge(nil, nil, cfg, nil)

	start := time.Now()
	result, err := bridge.Solve(context.Background(), sess, target)
	if time.Since(start) > 10*time.Second {
		t.Fatal("a closed browser must end the wait")
	}
	if result != CaptchaTimeout {
		t.Errorf("expected timeout result, got %s", result)
	}
	if !errors.Is(err, browser.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if !errors.Is(err, &utils.StructuredError{Code: utils.ErrCodeCaptchaFailed}) {
		t.Errorf("expected a CAPTCHA_FAILED error, got %v", err)
	}
	if utils.IsConfigurationError(err) {
		t.Error("a closed browser is not a configuration error")
	}
	if fake.polls != 3 {
		t.Errorf("expected polling to stop at the closed tab, got %d polls", fake.polls)
	}
	if sess.Browser() != nil || !fake.closed {
		t.Error("expected the closed browser detached from the session")
	}
}

func TestBridge_LaunchFailure(t *testing.T) {
	sess := newSession(t)
	launcher := browser.LauncherFunc(func(ctx context.Context, cfg *browser.Config) (browser.Context, error) {
		return nil, errors.New("chrome not found")
	})

	bridge := NewBridge(launcher, nil, fastConfig(), nil)
	_, err := bridge.Solve(context.Background(), sess, target)
	if err == nil {
		t.Fatal("expected error")
	}
	if !utils.IsConfigurationError(err) {
		t.Errorf("expected configuration-class error, got %v", err)
	}
	if !errors.Is(err, utils.ErrBrowserUnavailable) {
		t.Errorf("expected ErrBrowserUnavailable, got %v", err)
	}
}

func TestBridge_NoLauncher(t *testing.T) {
	sess := newSession(t)
	bridge := NewBridge(nil, nil, fastConfig(), nil)

	if _, err := bridge.Solve(context.Background(), sess, target); !errors.Is(err, utils.ErrBrowserUnavailable) {
		t.Errorf("expected ErrBrowserUnavailable, got %v", err)
	}
}

func TestBridge_ContextCanceled(t *testing.T) {
	sess := newSession(t)
	sess.AttachBrowser(&scriptedBrowser{pages: []string{captchaPage}})

	cfg := fastConfig()
	cfg.MaxWait = time.Minute
	bridge := NewBridge(nil, nil, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := bridge.Solve(ctx, sess, target); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context deadline, got %v", err)
	}
}

func TestDomainMatch(t *testing.T) {
	tests := []struct {
		host, domain string
		want         bool
	}{
		{"scholar.google.com", "scholar.google.com", true},
		{"scholar.google.com", ".google.com", true},
		{"scholar.google.com", "google.com", true},
		{"evilgoogle.com", "google.com", false},
		{"google.com", "scholar.google.com", false},
	}
	for _, tt := range tests {
		if got := domainMatch(tt.host, tt.domain); got != tt.want {
			t.Errorf("domainMatch(%q, %q) = %v, want %v", tt.host, tt.domain, got, tt.want)
		}
	}
}

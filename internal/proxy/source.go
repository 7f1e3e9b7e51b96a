// internal/proxy/source.go
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/ScholarNav/internal/session"
	"github.com/valpere/ScholarNav/internal/utils"
)

// DefaultFreeProxyListURL lists public HTTP proxies in an HTML table.
const DefaultFreeProxyListURL = "https://free-proxy-list.net/"

// Source supplies candidate proxy addresses.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Address, error)
}

// StaticSource serves a fixed list.
type StaticSource []Address

// Name returns "static".
func (s StaticSource) Name() string { return "static" }

// Fetch returns a copy of the list.
func (s StaticSource) Fetch(ctx context.Context) ([]Address, error) {
	return append([]Address(nil), s...), nil
}

// FreeProxyListSource scrapes the proxy table of a free-proxy-list page.
type FreeProxyListSource struct {
	url       string
	httpsOnly bool
	logger    utils.Logger
}

// NewFreeProxyListSource creates a scraper for pageURL.
func NewFreeProxyListSource(pageURL string, httpsOnly bool, logger utils.Logger) *FreeProxyListSource {
	if pageURL == "" {
		pageURL = DefaultFreeProxyListURL
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &FreeProxyListSource{
		url:       pageURL,
		httpsOnly: httpsOnly,
		logger:    logger.WithField("source", pageURL),
	}
}

// Name returns the page URL.
func (s *FreeProxyListSource) Name() string { return s.url }

// Fetch downloads the page and extracts ip:port pairs. Rows are expected as
// IP, Port, Code, Country, Anonymity, Google, Https, Last Checked.
func (s *FreeProxyListSource) Fetch(ctx context.Context) ([]Address, error) {
	sess, err := session.New(session.Settings{}, s.logger)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	resp, err := sess.Get(ctx, s.url, 20*time.Second)
	if err != nil {
		return nil, fmt.Errorf("fetch proxy list: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch proxy list: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse proxy list: %w", err)
	}

	var addrs []Address
	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		ip := strings.TrimSpace(cells.Eq(0).Text())
		portStr := strings.TrimSpace(cells.Eq(1).Text())

		if net.ParseIP(ip) == nil {
			return
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return
		}
		if s.httpsOnly && !strings.EqualFold(strings.TrimSpace(cells.Eq(6).Text()), "yes") {
			return
		}

		addrs = append(addrs, Address(net.JoinHostPort(ip, portStr)))
	})

	s.logger.Debugf("scraped %d proxies", len(addrs))
	return addrs, nil
}

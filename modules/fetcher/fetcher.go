package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
	"stud.l9labs.ru/raspsync/modules/metrics"
)

// Причина неудачной загрузки страницы
type Reason string

const (
	Timeout    Reason = "timeout"
	Network    Reason = "network"
	HTTPStatus Reason = "http_status"
)

var ErrSOCKSUnsupported = errors.New("SOCKS4 proxy is not supported, use socks5:// or http://")

// Ошибка загрузки страницы
type Failure struct {
	Reason Reason
	URL    string
	Status int
	Err    error
}

func (f *Failure) Error() string {
	if f.Reason == HTTPStatus {
		return fmt.Sprintf("response %d: %s", f.Status, f.URL)
	}

	return fmt.Sprintf("%s: %s: %v", f.Reason, f.URL, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

type Options struct {
	Timeout  time.Duration
	Retries  int
	Proxy    string // http://, https:// или socks5://
	RelayURL string // ретранслятор, получающий адрес в параметре url
}

type Fetcher struct {
	client  *http.Client
	retries int
	relay   string
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(opt Options, log *zap.Logger, m *metrics.Metrics) (*Fetcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opt.Retries < 1 {
		opt.Retries = 3
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 60 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opt.Proxy != "" {
		if err := setProxy(transport, opt.Proxy); err != nil {
			return nil, err
		}
		log.Info("using proxy", zap.String("proxy", redact(opt.Proxy)))
	}

	return &Fetcher{
		client: &http.Client{
			Timeout:   opt.Timeout,
			Transport: transport,
		},
		retries: opt.Retries,
		relay:   opt.RelayURL,
		log:     log,
		metrics: m,
	}, nil
}

func setProxy(transport *http.Transport, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("proxy %q: %w", redact(raw), err)
	}
	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, &net.Dialer{Timeout: 30 * time.Second})
		if err != nil {
			return fmt.Errorf("proxy %q: %w", redact(raw), err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	case "socks4", "socks4a":
		return ErrSOCKSUnsupported
	default:
		return fmt.Errorf("proxy %q: unsupported scheme %q", redact(raw), u.Scheme)
	}

	return nil
}

// Адрес без пароля для журнала
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	return u.Redacted()
}

// Адрес запроса с учётом ретранслятора
func (f *Fetcher) target(pageURL string) string {
	if f.relay == "" {
		return pageURL
	}
	sep := "?"
	if strings.Contains(f.relay, "?") {
		sep = "&"
	}

	return f.relay + sep + "url=" + url.QueryEscape(pageURL)
}

// Загрузка и разбор страницы. Повторяются только таймауты и сетевые ошибки
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var last *Failure
	for attempt := 1; attempt <= f.retries; attempt++ {
		doc, err := f.fetchOnce(ctx, pageURL)
		if err == nil {
			f.metrics.Fetch("ok")

			return doc, nil
		}
		var fail *Failure
		if !errors.As(err, &fail) {
			return nil, err
		}
		f.metrics.Fetch(string(fail.Reason))
		last = fail
		if fail.Reason == HTTPStatus || ctx.Err() != nil {
			break
		}
		f.log.Warn("fetch failed",
			zap.String("url", pageURL),
			zap.String("reason", string(fail.Reason)),
			zap.Int("attempt", attempt),
			zap.Int("retries", f.retries),
			zap.Error(fail.Err),
		)
	}
	f.log.Error("page not loaded", zap.String("url", pageURL), zap.Error(last))

	return nil, last
}

func (f *Fetcher) fetchOnce(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.target(pageURL), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Add("Accept", "text/html,application/xhtml+xml")
	req.Header.Add("Accept-Language", "ru-RU,ru;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, &Failure{Reason: HTTPStatus, URL: pageURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(pageURL, err)
	}
	// Сайт отдаёт UTF-8, даже если в заголовках указано иное
	body = bytes.ToValidUTF8(body, []byte("�"))

	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

func classify(pageURL string, err error) *Failure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Failure{Reason: Timeout, URL: pageURL, Err: err}
	}

	return &Failure{Reason: Network, URL: pageURL, Err: err}
}

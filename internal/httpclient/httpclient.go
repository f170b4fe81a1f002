package httpclient

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "image-prompt-creator/1.0"
	defaultTimeout   = 180 * time.Second
)

type Options struct {
	PreferIPv4 bool
	Timeout    time.Duration
	// RatePerMinute limits outbound requests; zero disables the limit.
	RatePerMinute int
	UserAgent     string
}

// New builds the outbound client. LLM calls go through the limiter; the bot
// transport passes RatePerMinute 0.
func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: Wrap(newTransport(opts.PreferIPv4), opts.RatePerMinute, userAgent),
	}
}

func newTransport(ipv4Only bool) *http.Transport {
	d := &net.Dialer{Timeout: 15 * time.Second, KeepAlive: 30 * time.Second}
	dial := d.DialContext
	if ipv4Only {
		dial = func(ctx context.Context, _, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp4", addr)
		}
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dial,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Wrap returns a RoundTripper that sets the User-Agent and, when
// ratePerMinute is positive, waits on a token bucket before each request.
func Wrap(next http.RoundTripper, ratePerMinute int, userAgent string) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	rt := &limitedTransport{next: next, userAgent: userAgent}
	if ratePerMinute > 0 {
		rt.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), 2)
	}
	return rt
}

type limitedTransport struct {
	next      http.RoundTripper
	limiter   *rate.Limiter
	userAgent string
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(req)
}

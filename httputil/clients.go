package httputil

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"tcg_scrooper/config"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type Clients struct {
	Scraping *http.Client // proxied when PROXY_URL is set, for marketplace fetches
	API      *http.Client // direct, for our own services (PostgREST)
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Clients{
		Scraping: &http.Client{Timeout: 30 * time.Second, Transport: transport},
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}

// NewSourceClient wraps base in a resty client that honours the source's headers,
// retry budget and request spacing.
func NewSourceClient(base *http.Client, src *config.SourceConfig, retries int) *resty.Client {
	client := resty.NewWithClient(base)
	client.SetHeader("user-agent", userAgent)
	client.SetHeader("accept", "application/json, text/html;q=0.9, */*;q=0.8")
	for k, v := range src.Headers {
		client.SetHeader(k, v)
	}

	client.SetRetryCount(retries)
	client.SetRetryWaitTime(2 * time.Second)
	client.SetRetryMaxWaitTime(10 * time.Second)
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return res.StatusCode() == http.StatusTooManyRequests || res.StatusCode() >= 500
	})

	if src.RateLimitMS > 0 {
		limiter := rate.NewLimiter(rate.Every(time.Duration(src.RateLimitMS)*time.Millisecond), 1)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	return client
}

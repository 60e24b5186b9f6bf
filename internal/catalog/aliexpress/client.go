// Package aliexpress queries the AliExpress affiliate product API and maps
// products onto distribution candidates.
package aliexpress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"dealbot/internal/distribution"
	logx "dealbot/pkg/logx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultEndpoint = "https://api-sg.aliexpress.com/sync"
	methodQuery     = "aliexpress.affiliate.product.query"

	// The API takes integer price bounds; ceilings at or above this are
	// treated as "no ceiling".
	unboundedCeiling = 10000

	maxBody = 8 << 20
)

type Config struct {
	Endpoint   string
	AppKey     string
	AppSecret  string
	TrackingID string

	Timeout    time.Duration
	RatePerSec float64

	Currency string
	Language string
	Sort     string
}

// Client implements distribution.Catalog.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
	now     func() time.Time
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.AppKey) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, errors.New("aliexpress: app_key and app_secret are required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Language == "" {
		cfg.Language = "EN"
	}
	if cfg.Sort == "" {
		cfg.Sort = "LAST_VOLUME_DESC"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(logx.String("comp", "catalog")),
		now:  time.Now,
	}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return c, nil
}

// Query fetches one page of products for q.
func (c *Client) Query(ctx context.Context, q distribution.Query) ([]distribution.Candidate, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", distribution.ErrProviderTransport, err)
		}
	}

	params := c.params(q)
	params.Set("sign", Sign(c.cfg.AppSecret, params))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", distribution.ErrProviderTransport, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", distribution.ErrProviderTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", distribution.ErrProviderTransport, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: http %d", distribution.ErrProviderTransport, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d", distribution.ErrProviderRejected, resp.StatusCode)
	}

	cands, err := decode(body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("products fetched", logx.Int("items", len(cands)), logx.Strs("keywords", q.Keywords))
	return cands, nil
}

func (c *Client) params(q distribution.Query) url.Values {
	v := url.Values{}
	v.Set("app_key", c.cfg.AppKey)
	v.Set("format", "json")
	v.Set("method", methodQuery)
	v.Set("sign_method", "sha256")
	v.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	v.Set("v", "2.0")

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	v.Set("page_no", "1")
	v.Set("page_size", strconv.Itoa(pageSize))
	v.Set("target_currency", c.cfg.Currency)
	v.Set("target_language", c.cfg.Language)
	v.Set("sort", c.cfg.Sort)
	if c.cfg.TrackingID != "" {
		v.Set("tracking_id", c.cfg.TrackingID)
	}

	// fractional floors below 1 cannot be expressed
	if q.MinPrice >= 1 {
		v.Set("min_sale_price", strconv.Itoa(int(q.MinPrice)))
	}
	if q.MaxPrice > 0 && q.MaxPrice < unboundedCeiling {
		v.Set("max_sale_price", strconv.Itoa(int(q.MaxPrice)))
	}
	if len(q.Keywords) > 0 {
		v.Set("keywords", strings.Join(q.Keywords, ","))
	}
	return v
}

// Sign computes the request signature: HMAC-SHA256 keyed by the app secret
// over the concatenated key/value pairs sorted by key, upper-case hex.
func Sign(secret string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha256.New, []byte(secret))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(params.Get(k)))
	}
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

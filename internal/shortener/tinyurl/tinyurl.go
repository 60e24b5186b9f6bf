// Package tinyurl shortens outbound links through the TinyURL create API.
// Every failure falls back to the original link.
package tinyurl

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "dealbot/pkg/logx"
)

const DefaultEndpoint = "http://tinyurl.com/api-create.php"

type Config struct {
	Enabled  bool
	Endpoint string
	Timeout  time.Duration
}

// Shortener implements distribution.Shortener.
type Shortener struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Shortener {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Shortener{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(logx.String("comp", "shortener")),
	}
}

func (s *Shortener) Shorten(ctx context.Context, long string) string {
	if !s.cfg.Enabled || strings.TrimSpace(long) == "" {
		return long
	}
	short, err := s.shorten(ctx, long)
	if err != nil {
		s.log.Debug("shorten failed; using original link", logx.Err(err))
		return long
	}
	return short
}

func (s *Shortener) shorten(ctx context.Context, long string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint+"?url="+url.QueryEscape(long), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{code: resp.StatusCode}
	}
	short := strings.TrimSpace(string(body))
	if !strings.HasPrefix(short, "http") {
		return "", errUnexpectedBody
	}
	return short, nil
}

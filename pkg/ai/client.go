package ai

import (
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Option tunes an HTTP-based client.
type Option func(*settings)

type settings struct {
	baseURL string
	model   string
	timeout time.Duration
	retries int
	logger  *zap.Logger
}

// WithBaseURL points the client at another endpoint, e.g. a proxy or a test
// server.
func WithBaseURL(u string) Option {
	return func(s *settings) {
		if u != "" {
			s.baseURL = u
		}
	}
}

func WithModel(m string) Option {
	return func(s *settings) {
		if m != "" {
			s.model = m
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithRetries sets how many times a request failing at the transport level
// is retried.
func WithRetries(n int) Option {
	return func(s *settings) { s.retries = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func newSettings(baseURL, model string, opts []Option) settings {
	s := settings{
		baseURL: baseURL,
		model:   model,
		timeout: 30 * time.Second,
		retries: 2,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

func (s settings) resty() *resty.Client {
	return resty.New().
		SetBaseURL(s.baseURL).
		SetTimeout(s.timeout).
		SetRetryCount(s.retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

package client

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/types"
	"github.com/kotoba-works/kotoba-engine/utils"
)

const (
	defaultRequestTimeout = 5 * time.Second
	maxResponseBodySize   = 8 * 1024 * 1024
)

// DependencyClient talks to one downstream HTTP service (the analysis or
// OCR backend). It owns no resilience policy of its own beyond timeouts
// and bounded retries; circuit breaking is layered on by the Manager.
type DependencyClient struct {
	name    string
	logger  types.Logger
	client  *fasthttp.Client
	baseURL string
	timeout time.Duration
	retries int
}

func NewDependencyClient(logger types.Logger, name string, config *types.DependencyConfig) *DependencyClient {
	timeout := defaultRequestTimeout
	if config.Timeout > 0 {
		timeout = config.Timeout
	}

	return &DependencyClient{
		name:   name,
		logger: logger,
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxResponseBodySize: maxResponseBodySize,
		},
		baseURL: config.URL,
		timeout: timeout,
		retries: config.Retries,
	}
}

// Post sends payload as JSON and decodes the response into out. Timeouts
// surface as ErrDependencyTimeout so breaker fallbacks can tell them apart
// from hard failures.
func (c *DependencyClient) Post(ctx context.Context, path string, payload, out interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")

	if payload != nil {
		body, err := utils.Marshal(payload)
		if err != nil {
			return types.WrapError(err, "failed to marshal request payload")
		}
		req.SetBody(body)
	}

	body, err := c.execute(ctx, req, resp)
	if err != nil {
		return err
	}

	if out != nil {
		if err := utils.Unmarshal(body, &out); err != nil {
			return types.WrapError(err, "failed to decode response from "+c.name)
		}
	}

	return nil
}

func (c *DependencyClient) execute(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		deadline := time.Now().Add(c.timeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}

		err := c.client.DoDeadline(req, resp, deadline)
		statusCode := resp.StatusCode()

		if err == nil && statusCode >= 200 && statusCode < 300 {
			body := make([]byte, len(resp.Body()))
			copy(body, resp.Body())
			return body, nil
		}

		if err == fasthttp.ErrTimeout {
			lastErr = types.Errorf(types.ErrDependencyTimeout, "service: %s", c.name)
		} else if err != nil {
			lastErr = types.Errorf(types.ErrDependencyUnavailable, "service %s: %v", c.name, err)
		} else {
			lastErr = types.Errorf(types.ErrDependencyUnavailable, "service %s: HTTP %d", c.name, statusCode)
			// Client errors other than throttling and request timeout are
			// not retryable.
			if statusCode >= 400 && statusCode < 500 && statusCode != 429 && statusCode != 408 {
				return nil, lastErr
			}
		}

		if attempt < c.retries {
			backoff := time.Duration(attempt+1) * 100 * time.Millisecond

			c.logger.Debug("Retrying dependency request",
				zap.String("service", c.name),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, lastErr
}

package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fitcart/internal/domain"
	"fitcart/internal/logger"
	"fitcart/internal/metrics"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

const (
	// RequestTimeout bounds every call to the cart resource.
	RequestTimeout = 5 * time.Second
	// DefaultRetryAfter applies when a 429 carries no usable Retry-After.
	DefaultRetryAfter = 30 * time.Second

	HeaderRequestID      = "X-Request-ID"
	HeaderIdempotencyKey = "Idempotency-Key"

	maxBodyBytes = 4 << 20

	maxRetryAfterSeconds = math.MaxInt64 / int64(time.Second)
)

type httpRepo struct {
	baseURL string
	client  *http.Client
	session Session
	logger  *slog.Logger
	metrics *metrics.ClientMetrics
	now     func() time.Time
}

type Option func(*httpRepo)

// WithTransport swaps the round tripper; the request timeout stays fixed.
func WithTransport(rt http.RoundTripper) Option {
	return func(r *httpRepo) { r.client.Transport = rt }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *httpRepo) { r.logger = logger.OrDiscard(l) }
}

func WithMetrics(m *metrics.ClientMetrics) Option {
	return func(r *httpRepo) { r.metrics = m }
}

func withClock(now func() time.Time) Option {
	return func(r *httpRepo) { r.now = now }
}

// NewHTTP binds a Repository to the cart resource at baseURL
// (for example http://localhost:3000/api/v1/cart).
func NewHTTP(baseURL string, session Session, opts ...Option) Repository {
	if session == nil {
		session = noSession{}
	}
	r := &httpRepo{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: RequestTimeout},
		session: session,
		logger:  logger.Discard(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type addRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (r *httpRepo) List(ctx context.Context) (json.RawMessage, error) {
	body, err := r.do(ctx, "list", http.MethodGet, "/", nil, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (r *httpRepo) Add(ctx context.Context, productID int64, quantity int) error {
	_, err := r.do(ctx, "add", http.MethodPost, "/add", addRequest{ProductID: productID, Quantity: quantity}, nil)
	return err
}

func (r *httpRepo) SetQuantity(ctx context.Context, lineID int64, quantity int) error {
	_, err := r.do(ctx, "set_quantity", http.MethodPut, "/item/"+strconv.FormatInt(lineID, 10), quantityRequest{Quantity: quantity}, nil)
	return err
}

func (r *httpRepo) Remove(ctx context.Context, lineID int64) error {
	_, err := r.do(ctx, "remove", http.MethodDelete, "/item/"+strconv.FormatInt(lineID, 10), nil, nil)
	return err
}

func (r *httpRepo) Clear(ctx context.Context) error {
	_, err := r.do(ctx, "clear", http.MethodDelete, "/clear", nil, nil)
	return err
}

func (r *httpRepo) Checkout(ctx context.Context, idempotencyKey string) error {
	var header http.Header
	if idempotencyKey != "" {
		header = http.Header{HeaderIdempotencyKey: []string{idempotencyKey}}
	}
	_, err := r.do(ctx, "checkout", http.MethodPost, "/checkout", nil, header)
	return err
}

func (r *httpRepo) do(ctx context.Context, op, method, path string, body any, header http.Header) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	for k, v := range header {
		req.Header[k] = v
	}
	if token, ok := r.session.CurrentToken(); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := r.now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.metrics.ObserveRequest(op, 0, r.now().Sub(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.logger.Info("cart request abandoned", "op", op, "err", ctxErr)
			return nil, ctxErr
		}
		r.logger.Warn("cart request failed", "op", op, "method", method, "path", path, "err", err)
		return nil, &domain.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	r.metrics.ObserveRequest(op, resp.StatusCode, r.now().Sub(start))
	if err != nil {
		return nil, &domain.NetworkError{Err: errors.Wrap(err, "read response")}
	}

	if err := r.classify(resp, payload); err != nil {
		r.logger.Warn("cart request rejected",
			"op", op,
			"status", resp.StatusCode,
			"request_id", req.Header.Get(HeaderRequestID),
			"err", err,
		)
		return nil, err
	}
	r.logger.Debug("cart request ok", "op", op, "status", resp.StatusCode)
	return payload, nil
}

func (r *httpRepo) classify(resp *http.Response, payload []byte) error {
	switch status := resp.StatusCode; {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		r.session.InvalidateSession()
		return &domain.AuthError{Status: status}
	case status == http.StatusTooManyRequests:
		return &domain.RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), r.now())}
	default:
		return &domain.ServerError{Status: status, Message: serverMessage(payload)}
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP-date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfter
	}
	if seconds, err := strconv.ParseInt(v, 10, 64); err == nil {
		if seconds < 0 {
			return DefaultRetryAfter
		}
		return time.Duration(min(seconds, maxRetryAfterSeconds)) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return DefaultRetryAfter
}

func serverMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(body.Message); msg != "" {
		return msg
	}
	if msg, ok := body.Error.(string); ok {
		return strings.TrimSpace(msg)
	}
	return ""
}

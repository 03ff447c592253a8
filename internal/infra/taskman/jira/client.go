package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gojira "github.com/andygrunwald/go-jira"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/flawtracker/internal/domain/taskman"
)

const maxErrorBody = 4 << 10

// client hands out go-jira clients bound to one caller's token. All of them
// share one transport that paces, retries and traces requests.
type client struct {
	baseURL   string
	transport http.RoundTripper
	timeout   time.Duration
	tracer    trace.Tracer
}

func newClient(baseURL string, httpClient *http.Client, maxElapsed time.Duration, tracer trace.Tracer) *client {
	base := http.DefaultTransport
	timeout := 30 * time.Second
	if httpClient != nil {
		if httpClient.Transport != nil {
			base = httpClient.Transport
		}
		if httpClient.Timeout > 0 {
			timeout = httpClient.Timeout
		}
	}

	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		transport: &retryTransport{
			next:       otelhttp.NewTransport(base),
			throttle:   newThrottle(),
			maxElapsed: maxElapsed,
		},
		// Retries happen below the http.Client, so its deadline covers them.
		timeout: timeout + maxElapsed,
		tracer:  tracer,
	}
}

// api returns a Jira client authenticating as token.
func (c *client) api(token string) (*gojira.Client, error) {
	if token == "" {
		return nil, taskman.ErrMissingToken
	}
	hc := &http.Client{
		Transport: &gojira.BearerAuthTransport{Token: token, Transport: c.transport},
		Timeout:   c.timeout,
	}
	api, err := gojira.NewClient(hc, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create jira client: %w", err)
	}
	return api, nil
}

// call runs one Jira request under a span and maps its failure to taskman
// errors. op names the tracker operation.
func (c *client) call(ctx context.Context, op string, fn func(ctx context.Context) (*gojira.Response, error)) error {
	ctx, span := c.tracer.Start(ctx, "jira.request", trace.WithAttributes(attribute.String("op", op)))
	defer span.End()

	resp, err := fn(ctx)
	if resp != nil && resp.Response != nil {
		span.SetAttributes(attribute.Int("status_code", resp.StatusCode))
	}
	if err == nil {
		// go-jira leaves the body open on calls that decode nothing.
		if resp != nil && resp.Response != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil
	}

	err = mapError(op, resp, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "jira request failed")
	return err
}

// retryTransport waits on the throttle before every attempt and retries 429,
// 5xx and transport errors with exponential backoff. When retries run out on
// an error status, the last response is handed back for go-jira to decode.
type retryTransport struct {
	next       http.RoundTripper
	throttle   *throttle
	maxElapsed time.Duration
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	expBackoff.MaxElapsedTime = t.maxElapsed

	var last *http.Response
	attempts := 0
	operation := func() error {
		if last != nil {
			_, _ = io.Copy(io.Discard, last.Body)
			last.Body.Close()
			last = nil
		}
		attempts++

		if err := t.throttle.wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter wait failed: %w", err))
		}

		attempt := req
		if attempts > 1 && req.Body != nil && req.Body != http.NoBody {
			if req.GetBody == nil {
				return backoff.Permanent(errors.New("request body cannot be replayed"))
			}
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			attempt = req.Clone(ctx)
			attempt.Body = body
		}

		resp, err := t.next.RoundTrip(attempt)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		t.throttle.observe(resp.Header)

		last = resp
		if retryableStatus(resp.StatusCode) {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx))
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("attempts", attempts))
	if last != nil {
		return last, nil
	}
	return nil, err
}

// errorMessage pulls the messages out of a Jira error document, falling back
// to the raw body.
func errorMessage(data []byte) string {
	var doc struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if json.Unmarshal(data, &doc) == nil {
		if msg := joinMessages(doc.ErrorMessages, doc.Errors); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

func joinMessages(messages []string, fields map[string]string) string {
	msgs := append([]string(nil), messages...)
	for field, msg := range fields {
		msgs = append(msgs, field+": "+msg)
	}
	return strings.Join(msgs, "; ")
}

// remoteMessage explains a failed request. go-jira decodes the error document
// for some calls and leaves the body unread for others.
func remoteMessage(resp *gojira.Response, err error) string {
	var je *gojira.Error
	if errors.As(err, &je) {
		if msg := joinMessages(je.ErrorMessages, je.Errors); msg != "" {
			return msg
		}
	}
	if resp != nil && resp.Body != nil {
		data, rerr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		if rerr == nil && len(data) > 0 {
			return errorMessage(data)
		}
	}
	return err.Error()
}

func mapError(op string, resp *gojira.Response, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if resp == nil || resp.Response == nil {
		return &taskman.RemoteError{Op: op, Err: err}
	}

	code := resp.StatusCode
	msg := remoteMessage(resp, err)
	switch code {
	case http.StatusUnauthorized:
		return &taskman.RemoteError{Op: op, StatusCode: code, Message: msg, Err: taskman.ErrRemoteAuth}
	case http.StatusNotFound:
		return &taskman.RemoteError{Op: op, StatusCode: code, Message: msg, Err: taskman.ErrTaskNotFound}
	case http.StatusForbidden:
		return &taskman.RemoteError{Op: op, StatusCode: code, Message: msg, Err: taskman.ErrRemotePermission}
	default:
		return &taskman.RemoteError{Op: op, StatusCode: code, Message: msg}
	}
}

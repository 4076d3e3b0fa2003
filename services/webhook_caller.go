package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pilab-dev/bridge-hds/config"
	berrors "github.com/pilab-dev/bridge-hds/errors"
	"github.com/pilab-dev/bridge-hds/internal/metrics"
	"github.com/pilab-dev/bridge-hds/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

// WebhookCaller delivers webhooks to the partner, once, without retry.
type WebhookCaller struct {
	httpClient *http.Client
	logger     log.Logger
}

// NewWebhookCaller creates a WebhookCaller. A nil httpClient uses
// http.DefaultClient.
func NewWebhookCaller(httpClient *http.Client, logger log.Logger) *WebhookCaller {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WebhookCaller{httpClient: httpClient, logger: logger.Named("webhook")}
}

// Call sends params to the partner. GET requests carry params in the query
// string, other methods as a JSON body. An unreachable partner returns an
// error flagged SkipWebhook; a non 2xx answer is only logged.
func (w *WebhookCaller) Call(ctx context.Context, settings config.WebhookSettings, params map[string]any) error {
	ctx, span := otel.Tracer("github.com/pilab-dev/bridge-hds/services").Start(ctx, "webhook.call")
	defer span.End()

	method := strings.ToUpper(settings.Method)
	if method == "" {
		method = http.MethodPost
	}
	span.SetAttributes(attribute.String("http.method", method))

	target := settings.URL
	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + encodeQuery(params)
		}
	} else {
		raw, err := json.Marshal(params)
		if err != nil {
			return berrors.NewInternal("Failed encoding webhook params", nil).WithCause(err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return berrors.NewInternal("Invalid webhook settings", settings).WithCause(err)
	}
	for k, v := range settings.Headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := w.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.WebhookCallsTotal.WithLabelValues(metrics.WebhookFailed).Inc()
		w.logger.Error(ctx, "Failed contacting partner backend", err, log.Fields{"url": settings.URL})
		return berrors.NewWebhookDeliveryFailure(
			"Failed contacting partner backend",
			map[string]any{"webhookCall": map[string]any{"whSettings": settings, "params": params}},
			params,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.WebhookCallsTotal.WithLabelValues(metrics.WebhookRejected).Inc()
		w.logger.Warn(ctx, "Partner webhook answered with an error status", log.Fields{"url": settings.URL, "status": resp.StatusCode})
		return nil
	}
	metrics.WebhookCallsTotal.WithLabelValues(metrics.WebhookDelivered).Inc()
	return nil
}

// encodeQuery serializes params; non string values are JSON encoded.
func encodeQuery(params map[string]any) string {
	v := url.Values{}
	for k, p := range params {
		switch t := p.(type) {
		case string:
			v.Set(k, t)
		default:
			raw, err := json.Marshal(t)
			if err != nil {
				v.Set(k, fmt.Sprint(t))
				continue
			}
			v.Set(k, string(raw))
		}
	}
	return v.Encode()
}

package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/wacrm/internal/config"
)

// ErrEmptyQR is returned when the gateway answers without a pairing code.
var ErrEmptyQR = errors.New("gateway returned an empty qr code")

// Client exposes the session gateway operations used by the connection manager.
type Client interface {
	RequestQR(ctx context.Context, connectionID string) (string, error)
	Logout(ctx context.Context, connectionID string) error
}

// GatewayClient is a resty-backed implementation of Client.
type GatewayClient struct {
	httpClient *resty.Client
}

var _ Client = (*GatewayClient)(nil)

// NewClient builds a gateway client using the provided configuration values.
func NewClient(cfg config.TransportConfig) *GatewayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if cfg.Token != "" {
		restyClient.SetAuthToken(cfg.Token)
	}

	return &GatewayClient{httpClient: restyClient}
}

type qrResponse struct {
	QR string `json:"qr"`
}

// apiError represents a gateway error payload.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// RequestQR asks the gateway to start or continue pairing and returns the
// current raw QR code.
func (c *GatewayClient) RequestQR(ctx context.Context, connectionID string) (string, error) {
	result := new(qrResponse)
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr).
		Post(fmt.Sprintf("sessions/%s/qr", url.PathEscape(connectionID)))
	if err != nil {
		return "", fmt.Errorf("request qr: %w", err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		return "", fmt.Errorf("gateway error: code=%d, message=%s", resp.StatusCode(), apiErr.text())
	}
	if result.QR == "" {
		return "", ErrEmptyQR
	}

	return result.QR, nil
}

// Logout ends the gateway session. A session the gateway does not know is
// treated as already logged out.
func (c *GatewayClient) Logout(ctx context.Context, connectionID string) error {
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetError(apiErr).
		Delete(fmt.Sprintf("sessions/%s", url.PathEscape(connectionID)))
	if err != nil {
		return fmt.Errorf("logout session: %w", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("gateway error: code=%d, message=%s", resp.StatusCode(), apiErr.text())
	}
	return nil
}

package purchases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/foundermark/friended-backend/pkg/config"
	"github.com/foundermark/friended-backend/pkg/logger"
)

// Verifier checks a base64 receipt blob against the App Store.
type Verifier interface {
	Verify(ctx context.Context, receiptData string) (*VerifiedPayload, []byte, error)
}

type appleVerifier struct {
	httpClient *http.Client
	cfg        config.AppStoreConfig
	logg       *logger.Logger
}

// NewAppleVerifier builds a verifyReceipt client.
func NewAppleVerifier(cfg config.AppStoreConfig, logg *logger.Logger) Verifier {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &appleVerifier{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		logg:       logg,
	}
}

type verifyRequest struct {
	ReceiptData string `json:"receipt-data"`
	Password    string `json:"password,omitempty"`
}

// Verify posts the receipt to Apple, falling back to the sandbox endpoint
// when production reports a sandbox receipt (status 21007). Transport
// failures and 5xx responses are retried with exponential backoff; the
// decoded payload is returned alongside the raw response body so callers
// can persist exactly what Apple sent.
func (v *appleVerifier) Verify(ctx context.Context, receiptData string) (*VerifiedPayload, []byte, error) {
	payload, raw, err := v.post(ctx, v.cfg.VerifyURL, receiptData)
	if err != nil {
		return nil, nil, err
	}
	if payload.Status == appleStatusSandboxReceipt && v.cfg.SandboxVerifyURL != "" {
		if v.logg != nil {
			v.logg.Info(ctx, "receipt belongs to sandbox; re-verifying against sandbox endpoint")
		}
		return v.post(ctx, v.cfg.SandboxVerifyURL, receiptData)
	}
	return payload, raw, nil
}

func (v *appleVerifier) post(ctx context.Context, endpoint, receiptData string) (*VerifiedPayload, []byte, error) {
	body, err := json.Marshal(verifyRequest{
		ReceiptData: receiptData,
		Password:    v.cfg.SharedSecret,
	})
	if err != nil {
		return nil, nil, err
	}

	maxRetries := v.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := retry.WithMaxRetries(uint64(maxRetries), retry.NewExponential(200*time.Millisecond))

	var raw []byte
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := v.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("verifyReceipt returned %s", resp.Status))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("verifyReceipt returned %s", resp.Status)
		}

		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("verifying receipt: %w", err)
	}

	payload := &VerifiedPayload{}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, nil, fmt.Errorf("decoding verifyReceipt response: %w", err)
	}
	return payload, raw, nil
}

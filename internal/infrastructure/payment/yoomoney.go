package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/honeynil/safedeal/pkg/errors"
)

const defaultBaseURL = "https://yoomoney.ru"

// YooMoneyClient implements Gateway against the YooMoney wallet API.
// Payment links are quickpay forms built locally; payment checks poll the
// operation-history endpoint; payouts go through request-payment followed by
// process-payment.
type YooMoneyClient struct {
	receiver    string
	accessToken string
	baseURL     string
	httpClient  *http.Client
}

func NewYooMoneyClient(receiver, accessToken string) *YooMoneyClient {
	return &YooMoneyClient{
		receiver:    receiver,
		accessToken: accessToken,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint, used in tests.
func (c *YooMoneyClient) WithBaseURL(base string) *YooMoneyClient {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

func (c *YooMoneyClient) CreatePaymentLink(ctx context.Context, amount float64, reference, description string) (string, error) {
	if amount <= 0 {
		return "", pkgerrors.ErrInvalidAmount
	}

	params := url.Values{}
	params.Set("receiver", c.receiver)
	params.Set("quickpay-form", "shop")
	params.Set("paymentType", "AC")
	params.Set("sum", strconv.FormatFloat(amount, 'f', 2, 64))
	params.Set("label", reference)
	params.Set("targets", description)

	link := c.baseURL + "/quickpay/confirm.xml?" + params.Encode()
	slog.Info("payment link created", "reference", reference, "amount", amount)
	return link, nil
}

func (c *YooMoneyClient) CheckPayment(ctx context.Context, reference string) (bool, error) {
	form := url.Values{}
	form.Set("type", "deposition")
	form.Set("label", reference)
	form.Set("records", "25")

	var result struct {
		Operations []struct {
			Label  string `json:"label"`
			Status string `json:"status"`
		} `json:"operations"`
	}
	if err := c.post(ctx, "/api/operation-history", form, &result); err != nil {
		return false, err
	}

	for _, op := range result.Operations {
		if op.Label == reference && op.Status == "success" {
			slog.Info("payment observed", "reference", reference)
			return true, nil
		}
	}
	return false, nil
}

func (c *YooMoneyClient) Payout(ctx context.Context, wallet string, amount float64) (bool, error) {
	if amount <= 0 {
		return false, pkgerrors.ErrInvalidAmount
	}

	form := url.Values{}
	form.Set("pattern_id", "p2p")
	form.Set("to", wallet)
	form.Set("amount", strconv.FormatFloat(amount, 'f', 2, 64))
	form.Set("comment", "Balance withdrawal")
	form.Set("label", fmt.Sprintf("payout_%d", time.Now().Unix()))

	var requested struct {
		Status    string `json:"status"`
		RequestID string `json:"request_id"`
	}
	if err := c.post(ctx, "/api/request-payment", form, &requested); err != nil {
		return false, err
	}
	if requested.Status != "success" {
		slog.Warn("payout request refused", "wallet", wallet, "status", requested.Status)
		return false, nil
	}

	confirm := url.Values{}
	confirm.Set("request_id", requested.RequestID)

	var processed struct {
		Status string `json:"status"`
	}
	if err := c.post(ctx, "/api/process-payment", confirm, &processed); err != nil {
		return false, err
	}
	if processed.Status != "success" {
		slog.Warn("payout processing refused", "wallet", wallet, "status", processed.Status)
		return false, nil
	}

	slog.Info("payout sent", "wallet", wallet, "amount", amount)
	return true, nil
}

func (c *YooMoneyClient) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrGatewayUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("gateway request failed", "path", path, "error", err)
		return fmt.Errorf("%w: %v", pkgerrors.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("gateway returned non-200", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", pkgerrors.ErrGatewayUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", pkgerrors.ErrGatewayUnavailable, err)
	}
	return nil
}

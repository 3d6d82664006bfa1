package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/punchamoorthee/payflow/internal/domain"
)

// BankClient speaks the partner bank's HTTP API. Timeouts come from the
// per-attempt context the adapter supplies.
type BankClient struct {
	baseURL string
	http    *http.Client
}

func NewBankClient(baseURL string) *BankClient {
	return &BankClient{baseURL: baseURL, http: &http.Client{}}
}

type bankResponse struct {
	Status            string `json:"status"`
	BankTransactionID string `json:"bank_transaction_id"`
	Code              string `json:"code"`
	Message           string `json:"message"`
}

func (c *BankClient) Submit(ctx context.Context, req domain.SettlementRequest) (domain.SettlementResult, error) {
	body, err := json.Marshal(map[string]string{
		"transaction_id": req.TransactionID,
		"bank_code":      req.BankCode,
		"bank_account":   req.BankAccount,
		"amount":         req.Amount.String(),
		"memo":           req.Memo,
	})
	if err != nil {
		return domain.SettlementResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/settlements", bytes.NewReader(body))
	if err != nil {
		return domain.SettlementResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq)
}

func (c *BankClient) Status(ctx context.Context, transactionID string) (domain.SettlementResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/settlements/"+transactionID, nil)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	return c.do(httpReq)
}

func (c *BankClient) do(req *http.Request) (domain.SettlementResult, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.SettlementResult{}, err
	}

	var br bankResponse
	if err := json.Unmarshal(raw, &br); err != nil {
		// A 2xx we cannot parse is ambiguous: the bank may have acted.
		if resp.StatusCode < 300 {
			return domain.SettlementResult{
				Status:  domain.SettlementUnknown,
				Code:    "UNPARSEABLE_RESPONSE",
				Message: fmt.Sprintf("http %d with malformed body", resp.StatusCode),
			}, nil
		}
		return domain.SettlementResult{}, fmt.Errorf("bank returned http %d", resp.StatusCode)
	}

	switch br.Status {
	case "SUCCESS":
		return domain.SettlementResult{
			Status:            domain.SettlementSuccess,
			BankTransactionID: br.BankTransactionID,
			Code:              br.Code,
			Message:           br.Message,
		}, nil
	case "FAILURE":
		return domain.SettlementResult{
			Status:  domain.SettlementFailure,
			Code:    br.Code,
			Message: br.Message,
		}, nil
	case "PENDING":
		return domain.SettlementResult{
			Status:  domain.SettlementPending,
			Code:    br.Code,
			Message: br.Message,
		}, nil
	default:
		return domain.SettlementResult{
			Status:  domain.SettlementUnknown,
			Code:    br.Code,
			Message: br.Message,
		}, nil
	}
}

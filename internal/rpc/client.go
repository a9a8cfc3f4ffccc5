package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"notevm/internal/account"
	"notevm/internal/client"
	"notevm/internal/field"
	"notevm/internal/ledger"
	"notevm/internal/note"
	"notevm/internal/txexec"
)

// DefaultClientTimeout bounds every API call.
const DefaultClientTimeout = 60 * time.Second

// APIError is an error response of the API.
type APIError struct {
	Code         int    `json:"-"`
	Message      string `json:"error"`
	AssertionTag string `json:"assertion_tag,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s (request %s)", e.Code, e.Message, e.RequestID)
}

// Client calls the API of a node.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the node at base, such as http://127.0.0.1:8080.
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &Client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: timeout}}
}

// do sends a request and decodes the response body into out whatever its status.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, uuid.New().String())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, errors.Wrapf(err, "decoding %s %s response", method, path)
	}
	return resp.StatusCode, nil
}

// call decodes successful responses into out and error responses into an APIError.
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var raw json.RawMessage
	code, err := c.do(ctx, method, path, in, &raw)
	if err != nil {
		return err
	}
	if code >= http.StatusBadRequest {
		apiErr := &APIError{Code: code}
		if err := json.Unmarshal(raw, apiErr); err != nil {
			apiErr.Message = string(raw)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// CreateAccount creates an account on the node.
func (c *Client) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*AccountView, error) {
	out := new(AccountView)
	return out, c.call(ctx, http.MethodPost, "/v1/accounts", req, out)
}

// GetAccount fetches the public state of an account.
func (c *Client) GetAccount(ctx context.Context, id account.ID) (*AccountView, error) {
	out := new(AccountView)
	return out, c.call(ctx, http.MethodGet, "/v1/accounts/"+id.String(), nil, out)
}

// AddNote stores a note on the node.
func (c *Client) AddNote(ctx context.Context, n *note.Note) (*NoteCreated, error) {
	out := new(NoteCreated)
	return out, c.call(ctx, http.MethodPost, "/v1/notes", n, out)
}

// GetNote fetches a note and whether it was consumed.
func (c *Client) GetNote(ctx context.Context, id field.Word) (*NoteView, error) {
	out := new(NoteView)
	return out, c.call(ctx, http.MethodGet, "/v1/notes/"+id.String(), nil, out)
}

// Transaction fetches the record of a committed transaction.
func (c *Client) Transaction(ctx context.Context, id field.Word) (*ledger.TxRecord, error) {
	out := new(ledger.TxRecord)
	return out, c.call(ctx, http.MethodGet, "/v1/transactions/"+id.String(), nil, out)
}

// SubmitTransaction executes, proves and commits a request on the node. Rejections are
// reported in the response, not as an error. A call that times out is reported as pending:
// the node may still commit it, so callers poll Transaction before resubmitting.
func (c *Client) SubmitTransaction(ctx context.Context, req *txexec.Request) (*TransactionResponse, error) {
	out := new(TransactionResponse)
	code, err := c.do(ctx, http.MethodPost, "/v1/transactions", req, out)
	if timedOut(err) {
		return &TransactionResponse{Status: client.Pending, Error: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}
	// Errors raised before evaluation, such as a malformed body, carry no status.
	if code >= http.StatusBadRequest && out.Status == client.Committed {
		return nil, &APIError{Code: code, Message: out.Error}
	}
	return out, nil
}

// SubmitBatch submits several requests evaluated against the same state.
func (c *Client) SubmitBatch(ctx context.Context, reqs ...*txexec.Request) (*BatchResponse, error) {
	out := new(BatchResponse)
	return out, c.call(ctx, http.MethodPost, "/v1/transactions/batch", &BatchRequest{Requests: reqs}, out)
}

// Health fetches the node health report.
func (c *Client) Health(ctx context.Context) (*HealthCheckResponse, error) {
	out := new(HealthCheckResponse)
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, out)
	return out, err
}

func timedOut(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Package linkstore is the client of the backend "customer social link" API,
// the system of record for which accounts a customer has connected.
//
//	GET    /customer-social-links/{customerId} → {success, accounts:[...]}
//	POST   /customer-social-links              → {success, error?}
//	DELETE /customer-social-links/{accountId}  → {success}
//
// Accounts come back as RawAccount: the backend stores whatever shape the
// front end sent, so the registry normalizes them again on hydrate.
package linkstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/gateway"
	"github.com/sakif/social-insights/internal/model"
)

// Client talks to the link-store through the gateway.
type Client struct {
	gw     *gateway.Client
	logger *slog.Logger
}

func New(gw *gateway.Client, logger *slog.Logger) *Client {
	return &Client{gw: gw, logger: logger}
}

type listResponse struct {
	Success  bool               `json:"success"`
	Accounts []model.RawAccount `json:"accounts"`
	Error    string             `json:"error,omitempty"`
}

type writeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// createRequest is the ConnectedAccount body plus the owning customer.
type createRequest struct {
	model.ConnectedAccount
	CustomerID string `json:"customerId"`
}

// List returns the customer's persisted accounts. Transport failures (and
// upstream 5xx) are ErrNetwork so the caller can fall back to its cache;
// everything else is ErrPersistence.
func (c *Client) List(ctx context.Context, customerID string) ([]model.RawAccount, error) {
	path := "/customer-social-links/" + url.PathEscape(customerID)
	res := c.gw.Get(ctx, c.gw.At(path), "")
	if err := classify("listing social links", res); err != nil {
		return nil, err
	}

	var body listResponse
	if err := res.Decode(&body); err != nil {
		return nil, apperror.Persistence("listing social links", err)
	}
	if !body.Success {
		return nil, apperror.Persistence("listing social links", upstreamErr(body.Error))
	}
	if body.Accounts == nil {
		body.Accounts = []model.RawAccount{}
	}
	return body.Accounts, nil
}

// Create persists one account. Only a 200 with success:true counts as an
// acknowledgment.
func (c *Client) Create(ctx context.Context, customerID string, acc model.ConnectedAccount) error {
	res := c.gw.Do(ctx, gateway.Request{
		Method:   http.MethodPost,
		Endpoint: c.gw.At("/customer-social-links"),
		Body:     createRequest{ConnectedAccount: acc, CustomerID: customerID},
	})
	return c.ack("saving social link", res)
}

// Delete removes one account by id.
func (c *Client) Delete(ctx context.Context, accountID string) error {
	res := c.gw.Do(ctx, gateway.Request{
		Method:   http.MethodDelete,
		Endpoint: c.gw.At("/customer-social-links/" + url.PathEscape(accountID)),
	})
	return c.ack("deleting social link", res)
}

func (c *Client) ack(op string, res gateway.Result) error {
	if err := classify(op, res); err != nil {
		c.logger.Warn("linkstore: write not acknowledged",
			slog.String("op", op),
			slog.Int("status", res.Status),
			slog.String("error", err.Error()),
		)
		return err
	}
	var body writeResponse
	if err := res.Decode(&body); err != nil {
		return apperror.Persistence(op, err)
	}
	if !body.Success {
		return apperror.Persistence(op, upstreamErr(body.Error))
	}
	return nil
}

// classify keeps transport failures as ErrNetwork and turns any other
// non-200 answer into ErrPersistence.
func classify(op string, res gateway.Result) error {
	if res.Err != nil && res.Status == 0 {
		return apperror.Network(op, res.Err)
	}
	if res.Status >= 500 {
		return apperror.Network(op, fmt.Errorf("backend status %d", res.Status))
	}
	if res.Status != http.StatusOK {
		return apperror.Persistence(op, fmt.Errorf("backend status %d", res.Status))
	}
	return nil
}

func upstreamErr(msg string) error {
	if msg == "" {
		return errors.New("backend reported failure")
	}
	return errors.New(msg)
}

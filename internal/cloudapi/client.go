package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nerrad567/storcube-bridge/internal/infrastructure/config"
)

// envelope is the response wrapper shared by every vendor endpoint.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// loginRequest is the body of the login call.
type loginRequest struct {
	AppCode   string `json:"appCode"`
	LoginName string `json:"loginName"`
	Password  string `json:"password"`
}

// loginData is the data field of a successful login envelope.
type loginData struct {
	Token string `json:"token"`
}

// StatusRecord is the raw data field of a status envelope.
type StatusRecord json.RawMessage

// Empty reports whether the record carries nothing worth publishing:
// absent, null, an empty object, an empty array or an empty string.
func (r StatusRecord) Empty() bool {
	trimmed := bytes.TrimSpace(r)
	switch string(trimmed) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}

// Client talks to the vendor HTTP API.
//
// Thread Safety: safe for concurrent use; the telemetry loop and the command
// handler each call it from their own goroutine.
type Client struct {
	http *resty.Client
	cfg  config.CloudConfig
}

// New creates a Client from the cloud configuration.
func New(cfg config.CloudConfig) *Client {
	httpClient := resty.New().
		SetTimeout(time.Duration(cfg.RequestTimeout) * time.Second).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http: httpClient,
		cfg:  cfg,
	}
}

// FetchToken logs in and returns a fresh bearer token.
//
// The token is exactly the data.token field of a code 200 envelope. Any other
// outcome returns *AuthError. Nothing is cached.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(loginRequest{
			AppCode:   c.cfg.AppCode,
			LoginName: c.cfg.LoginName,
			Password:  c.cfg.Password,
		}).
		Post(c.cfg.LoginURL)
	if err != nil {
		return "", &AuthError{Reason: "request failed", Err: err}
	}
	if resp.IsError() {
		return "", &AuthError{Reason: fmt.Sprintf("HTTP %d", resp.StatusCode())}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return "", &AuthError{Reason: "invalid response body", Err: err}
	}
	if env.Code != successCode {
		return "", &AuthError{Reason: reason(env.Message)}
	}

	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		return "", &AuthError{Reason: reason(env.Message), Err: err}
	}

	return data.Token, nil
}

// FirmwareStatus fetches the firmware upgrade status of a device.
func (c *Client) FirmwareStatus(ctx context.Context, token, deviceID string) (StatusRecord, error) {
	req := c.authorized(ctx, token).SetQueryParam("equipId", deviceID)
	env, err := c.get(req, c.cfg.FirmwareURL, "firmware status")
	if err != nil {
		return nil, err
	}
	return StatusRecord(env.Data), nil
}

// OutputStatus fetches the output scene list of the account.
func (c *Client) OutputStatus(ctx context.Context, token string) (StatusRecord, error) {
	env, err := c.get(c.authorized(ctx, token), c.cfg.OutputURL, "output status")
	if err != nil {
		return nil, err
	}
	return StatusRecord(env.Data), nil
}

// SetPower asks the vendor to set the device output power in watts.
// power is sent exactly as given.
func (c *Client) SetPower(ctx context.Context, token, deviceID string, power json.Number) error {
	req := c.authorized(ctx, token).
		SetQueryParam("equipId", deviceID).
		SetQueryParam("power", power.String())
	_, err := c.get(req, c.cfg.SetPowerURL, "set power")
	return err
}

// authorized starts a request carrying the bearer token.
func (c *Client) authorized(ctx context.Context, token string) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", token)
}

// get performs a GET and checks the envelope code.
func (c *Client) get(req *resty.Request, url, op string) (*envelope, error) {
	resp, err := req.Get(url)
	if err != nil {
		return nil, &TransientAPIError{Op: op, Err: err}
	}
	if resp.IsError() {
		return nil, &TransientAPIError{Op: op, Err: fmt.Errorf("HTTP %d", resp.StatusCode())}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, &TransientAPIError{Op: op, Err: fmt.Errorf("decoding envelope: %w", err)}
	}
	if env.Code != successCode {
		return nil, &TransientAPIError{Op: op, Code: env.Code, Err: errors.New(reason(env.Message))}
	}

	return &env, nil
}

// reason returns msg, or the generic reason when the server sent none.
func reason(msg string) string {
	if msg == "" {
		return ErrUnexpectedResponse.Error()
	}
	return msg
}

package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"whatsapp-provider/internal/config"
	"whatsapp-provider/internal/models"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ErrNoMessageID is returned when Meta accepts a message but the response carries no id.
var ErrNoMessageID = errors.New("meta response has no message id")

// APIError is a non-2xx Graph API response.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("meta api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("meta api error: status %d: %s", e.StatusCode, e.Message)
}

// ErrorMessage is the text shown to API callers for a failed Graph request:
// Meta's own message when it sent one, the generic Meta error otherwise.
func ErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return models.ErrMsgMetaAPI
}

type graphErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Client talks to the Meta Graph API. It never holds a customer access
// token; each call receives the token from the caller.
type Client struct {
	http      *resty.Client
	limiter   *rate.Limiter
	version   string
	appID     string
	appSecret string
}

func NewClient(cfg config.MetaConfig) *Client {
	rc := resty.New().
		SetBaseURL(cfg.GraphBaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		// Only reads are retried on 5xx; a retried send could deliver twice.
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.Request.Method == http.MethodGet && r.StatusCode() >= 500
		})

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		http:      rc,
		limiter:   rate.NewLimiter(limit, 1),
		version:   cfg.APIVersion,
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
	}
}

func (c *Client) path(format string, args ...interface{}) string {
	return "/" + c.version + "/" + fmt.Sprintf(format, args...)
}

func (c *Client) do(ctx context.Context, req *resty.Request, method, url string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var graphErr graphErrorBody
	resp, err := req.SetContext(ctx).SetResult(result).SetError(&graphErr).Execute(method, url)
	if err != nil {
		return fmt.Errorf("meta request %s %s: %w", method, url, err)
	}
	if resp.IsError() {
		return &APIError{
			StatusCode: resp.StatusCode(),
			Message:    graphErr.Error.Message,
			Type:       graphErr.Error.Type,
			Code:       graphErr.Error.Code,
		}
	}
	return nil
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendMessage posts msg from the given phone number and returns the Meta message id.
func (c *Client) SendMessage(ctx context.Context, phoneNumberID, accessToken string, msg GenericMessage) (string, error) {
	if msg.MessagingProduct == "" {
		msg.MessagingProduct = "whatsapp"
	}
	if msg.RecipientType == "" {
		msg.RecipientType = "individual"
	}

	var out sendResponse
	req := c.http.R().
		SetAuthToken(accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(msg)
	if err := c.do(ctx, req, http.MethodPost, c.path("%s/messages", phoneNumberID), &out); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 {
		return "", ErrNoMessageID
	}
	return out.Messages[0].ID, nil
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeCode trades an embedded signup OAuth code for a business access token.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	var out TokenResponse
	req := c.http.R().SetQueryParams(map[string]string{
		"client_id":     c.appID,
		"client_secret": c.appSecret,
		"code":          code,
		"redirect_uri":  redirectURI,
	})
	if err := c.do(ctx, req, http.MethodGet, c.path("oauth/access_token"), &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, errors.New("meta token response has no access_token")
	}
	return &out, nil
}

type DebugToken struct {
	AppID  string   `json:"app_id"`
	Scopes []string `json:"scopes"`
	Valid  bool     `json:"is_valid"`
}

func (c *Client) DebugToken(ctx context.Context, accessToken string) (*DebugToken, error) {
	var out struct {
		Data DebugToken `json:"data"`
	}
	req := c.http.R().SetQueryParams(map[string]string{
		"input_token":  accessToken,
		"access_token": accessToken,
	})
	if err := c.do(ctx, req, http.MethodGet, c.path("debug_token"), &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

type BusinessAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) BusinessAccounts(ctx context.Context, accessToken string) ([]BusinessAccount, error) {
	var out struct {
		Data []BusinessAccount `json:"data"`
	}
	req := c.http.R().SetQueryParam("access_token", accessToken)
	if err := c.do(ctx, req, http.MethodGet, c.path("me/whatsapp_business_accounts"), &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

type PhoneNumber struct {
	ID                 string `json:"id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
	VerifiedName       string `json:"verified_name"`
}

func (c *Client) PhoneNumbers(ctx context.Context, wabaID, accessToken string) ([]PhoneNumber, error) {
	var out struct {
		Data []PhoneNumber `json:"data"`
	}
	req := c.http.R().SetQueryParam("access_token", accessToken)
	if err := c.do(ctx, req, http.MethodGet, c.path("%s/phone_numbers", wabaID), &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// WABADetails is what the provider learns about a customer's account after signup.
type WABADetails struct {
	BusinessID    string
	WabaID        string
	PhoneNumberID string
	PhoneNumber   string
}

// FetchWABADetails resolves the first shared WABA and its first phone number.
// A missing WABA or phone number leaves the fields empty.
func (c *Client) FetchWABADetails(ctx context.Context, accessToken string) (*WABADetails, error) {
	token, err := c.DebugToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	details := &WABADetails{BusinessID: token.AppID}

	accounts, err := c.BusinessAccounts(ctx, accessToken)
	if err != nil || len(accounts) == 0 {
		return details, nil
	}
	details.WabaID = accounts[0].ID

	numbers, err := c.PhoneNumbers(ctx, details.WabaID, accessToken)
	if err != nil || len(numbers) == 0 {
		return details, nil
	}
	details.PhoneNumberID = numbers[0].ID
	details.PhoneNumber = numbers[0].DisplayPhoneNumber
	return details, nil
}

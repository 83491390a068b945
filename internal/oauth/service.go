package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"whatsapp-provider/internal/cache"
	"whatsapp-provider/internal/customer"
	"whatsapp-provider/internal/models"
	"whatsapp-provider/internal/secure"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims carried by access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	CustomerID string `json:"customer_id"`
	Type       string `json:"type"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type codeGrant struct {
	CustomerID  string
	RedirectURI string
}

type customerStore interface {
	Get(ctx context.Context, id string) (*models.Customer, error)
	GetByClientID(ctx context.Context, clientID string) (*models.Customer, error)
}

type Options struct {
	Secret        string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	CodeTTL       time.Duration
}

// Service is the OAuth 2.0 authorization server customer sites log in against.
type Service struct {
	customers customerStore
	codes     *cache.Store[codeGrant]
	opts      Options
	now       func() time.Time
}

func NewService(customers customerStore, opts Options) *Service {
	return &Service{
		customers: customers,
		codes:     cache.New[codeGrant](opts.CodeTTL),
		opts:      opts,
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.codes.WithClock(now)
	return s
}

type AuthorizeRequest struct {
	ClientID     string `form:"client_id"`
	RedirectURI  string `form:"redirect_uri"`
	ResponseType string `form:"response_type"`
	State        string `form:"state"`
}

// Authorize validates the client and returns the redirect location carrying a
// single-use authorization code.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	if req.ClientID == "" || req.RedirectURI == "" || req.ResponseType == "" {
		return "", ErrMissingParameters
	}
	if req.ResponseType != "code" {
		return "", ErrInvalidResponseType
	}

	c, err := s.customers.GetByClientID(ctx, req.ClientID)
	if errors.Is(err, customer.ErrCustomerNotFound) || (err == nil && c.Status != models.CustomerStatusActive) {
		return "", ErrUnknownClient
	}
	if err != nil {
		return "", err
	}
	if !redirectAllowed(req.RedirectURI, c.SiteURL) {
		return "", ErrInvalidRedirectURI
	}

	code, err := secure.Token(32)
	if err != nil {
		return "", err
	}
	s.codes.Set(code, codeGrant{CustomerID: c.ID, RedirectURI: req.RedirectURI})

	sep := "?"
	if strings.Contains(req.RedirectURI, "?") {
		sep = "&"
	}
	location := req.RedirectURI + sep + "code=" + code
	if req.State != "" {
		location += "&state=" + url.QueryEscape(req.State)
	}
	return location, nil
}

// redirectAllowed reports whether redirect lies under site: the site URL
// must be followed by the end of the string, a path, a query or a fragment.
func redirectAllowed(redirect, site string) bool {
	if site == "" || !strings.HasPrefix(redirect, site) {
		return false
	}
	rest := redirect[len(site):]
	return rest == "" || strings.ContainsRune("/?#", rune(rest[0]))
}

type TokenRequest struct {
	GrantType    string `form:"grant_type" json:"grant_type"`
	ClientID     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
	Code         string `form:"code" json:"code"`
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
	RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
}

// Token implements the token endpoint for the authorization_code and
// refresh_token grants. Failures are *Error values.
func (s *Service) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	c, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	switch req.GrantType {
	case "authorization_code":
		return s.exchangeCode(c, req.Code, req.RedirectURI)
	case "refresh_token":
		if req.RefreshToken == "" {
			return nil, invalidRequest("Missing refresh_token")
		}
		return s.refresh(c, req.RefreshToken)
	default:
		return nil, &Error{Code: "unsupported_grant_type"}
	}
}

// Refresh exchanges a refresh token for a new token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (*TokenResponse, error) {
	c, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	return s.refresh(c, refreshToken)
}

func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (*models.Customer, error) {
	if clientID == "" || clientSecret == "" {
		return nil, invalidClient()
	}
	c, err := s.customers.GetByClientID(ctx, clientID)
	if errors.Is(err, customer.ErrCustomerNotFound) {
		return nil, invalidClient()
	}
	if err != nil {
		return nil, err
	}
	if !customer.CheckSecret(c, clientSecret) || c.Status != models.CustomerStatusActive {
		return nil, invalidClient()
	}
	return c, nil
}

func (s *Service) exchangeCode(c *models.Customer, code, redirectURI string) (*TokenResponse, error) {
	if code == "" {
		return nil, invalidRequest("Missing code")
	}
	grant, ok := s.codes.Get(code)
	if !ok {
		return nil, invalidGrant("Invalid or expired code")
	}
	if grant.CustomerID != c.ID {
		return nil, invalidGrant("Code not issued to this client")
	}
	if grant.RedirectURI != redirectURI {
		return nil, invalidGrant("redirect_uri mismatch")
	}
	if _, ok := s.codes.Take(code); !ok {
		return nil, invalidGrant("Invalid or expired code")
	}
	return s.issue(c.ID)
}

func (s *Service) refresh(c *models.Customer, refreshToken string) (*TokenResponse, error) {
	claims, err := s.parse(refreshToken)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, invalidGrant("Refresh token expired")
	}
	if err != nil || claims.CustomerID != c.ID || claims.Type != TokenTypeRefresh {
		return nil, invalidGrant(models.ErrMsgInvalidToken)
	}
	return s.issue(c.ID)
}

func (s *Service) issue(customerID string) (*TokenResponse, error) {
	access, err := s.sign(customerID, TokenTypeAccess, s.opts.AccessExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(customerID, TokenTypeRefresh, s.opts.RefreshExpiry)
	if err != nil {
		return nil, err
	}
	logrus.WithField("customer_id", customerID).Debug("Issued OAuth tokens")
	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.opts.AccessExpiry.Seconds()),
	}, nil
}

func (s *Service) sign(customerID, tokenType string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			// Unique per token so two pairs issued in the same second differ.
			ID: uuid.NewString(),
		},
		CustomerID: customerID,
		Type:       tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.opts.Secret))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (s *Service) parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(s.opts.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateToken checks an access token and returns its claims when the
// customer still exists.
func (s *Service) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	if s.opts.Secret == "" {
		return nil, ErrInvalidToken
	}
	claims, err := s.parse(token)
	if err != nil || claims.Type != TokenTypeAccess || claims.CustomerID == "" {
		return nil, ErrInvalidToken
	}
	if _, err := s.customers.Get(ctx, claims.CustomerID); err != nil {
		if errors.Is(err, customer.ErrCustomerNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return claims, nil
}

// SweepCodes drops expired authorization codes.
func (s *Service) SweepCodes() int {
	return s.codes.Sweep()
}

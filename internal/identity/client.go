// Package identity exchanges an authorization code for the user-info document
// of the identity provider.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/intake/pkg/intake"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultGrantType   = "authorization_code"
	defaultTimeout     = 10 * time.Second
	maxUserInfoBytes   = 1 << 20
	contentTypeJSON    = "application/json"
	contentTypeJWT     = "application/jwt"
	callbackCodeParam  = "code"
	callbackErrorParam = "error"
	callbackErrorDesc  = "error_description"
)

var (
	ErrInvalidConfig   = errors.New("invalid identity config")
	ErrMissingCode     = errors.New("authorization code missing")
	ErrExchangeFailed  = errors.New("user info exchange failed")
	ErrInvalidUserInfo = errors.New("invalid user info")
)

// Config describes the relying-party registration.
type Config struct {
	Endpoint        string
	ClientID        string
	RedirectURI     string
	GrantType       string
	Timeout         time.Duration
	VerificationKey string
}

// Client fetches user info from the identity provider's relying-party endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// NewClient validates config and returns a Client.
func NewClient(config Config, options ...Option) (*Client, error) {
	config.Endpoint = strings.TrimSpace(config.Endpoint)
	config.ClientID = strings.TrimSpace(config.ClientID)
	if config.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	if _, err := url.ParseRequestURI(config.Endpoint); err != nil {
		return nil, fmt.Errorf("%w: endpoint: %v", ErrInvalidConfig, err)
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrInvalidConfig)
	}
	if config.GrantType == "" {
		config.GrantType = defaultGrantType
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	client := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

type userInfoRequest struct {
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	GrantType   string `json:"grant_type"`
}

// FetchUserInfo exchanges code for the user-info document.
func (client *Client) FetchUserInfo(ctx context.Context, code string) (intake.RawProfile, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrMissingCode
	}
	body, err := json.Marshal(userInfoRequest{
		Code:        code,
		ClientID:    client.config.ClientID,
		RedirectURI: client.config.RedirectURI,
		GrantType:   client.config.GrantType,
	})
	if err != nil {
		return nil, fmt.Errorf("encode user info request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build user info request: %w", err)
	}
	request.Header.Set("Content-Type", contentTypeJSON)
	request.Header.Set("Accept", contentTypeJSON+", "+contentTypeJWT)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrExchangeFailed, err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		client.logger.Warn("user info exchange rejected", zap.Int("status", response.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrExchangeFailed, response.StatusCode)
	}

	mediaType, _, _ := mime.ParseMediaType(response.Header.Get("Content-Type"))
	if mediaType == contentTypeJWT {
		return client.decodeJWT(strings.TrimSpace(string(payload)))
	}
	raw, err := intake.ParseProfileJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUserInfo, err)
	}
	return raw, nil
}

func (client *Client) decodeJWT(token string) (intake.RawProfile, error) {
	claims := jwt.MapClaims{}
	if client.config.VerificationKey == "" {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUserInfo, err)
		}
		return intake.RawProfile(claims), nil
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(parsedToken *jwt.Token) (interface{}, error) {
		return []byte(client.config.VerificationKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUserInfo, err)
	}
	return intake.RawProfile(claims), nil
}

// CallbackError carries an error the identity provider reported on the redirect.
type CallbackError struct {
	Code        string
	Description string
}

func (callbackError *CallbackError) Error() string {
	if callbackError.Description == "" {
		return "identity provider error: " + callbackError.Code
	}
	return "identity provider error: " + callbackError.Code + ": " + callbackError.Description
}

// ParseCallback extracts the authorization code from redirect parameters. A
// provider-reported error is returned as *CallbackError.
func ParseCallback(values url.Values) (string, error) {
	if errorCode := strings.TrimSpace(values.Get(callbackErrorParam)); errorCode != "" {
		return "", &CallbackError{Code: errorCode, Description: strings.TrimSpace(values.Get(callbackErrorDesc))}
	}
	code := strings.TrimSpace(values.Get(callbackCodeParam))
	if code == "" {
		return "", ErrMissingCode
	}
	return code, nil
}

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testClientID    = "omera-bank"
	testRedirectURI = "https://bank.example.com/callback"
	testSigningKey  = "identity-test-key"
)

func newTestClient(test *testing.T, endpoint string, verificationKey string) *Client {
	test.Helper()
	client, err := NewClient(Config{
		Endpoint:        endpoint,
		ClientID:        testClientID,
		RedirectURI:     testRedirectURI,
		VerificationKey: verificationKey,
	})
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	return client
}

func signUserInfo(test *testing.T, key string, claims jwt.MapClaims) string {
	test.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		test.Fatalf("sign user info: %v", err)
	}
	return token
}

func TestFetchUserInfoJSON(test *testing.T) {
	test.Parallel()
	var received userInfoRequest
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost {
			test.Errorf("expected POST, got %s", request.Method)
		}
		if err := json.NewDecoder(request.Body).Decode(&received); err != nil {
			test.Errorf("decode request: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = writer.Write([]byte(`{"name":"Asha","verified_claims":[{"claims":{"email":"asha@example.com"}}]}`))
	}))
	defer server.Close()

	raw, err := newTestClient(test, server.URL, "").FetchUserInfo(context.Background(), " code-123 ")
	if err != nil {
		test.Fatalf("fetch: %v", err)
	}
	if raw["name"] != "Asha" {
		test.Fatalf("unexpected profile: %v", raw)
	}
	expected := userInfoRequest{Code: "code-123", ClientID: testClientID, RedirectURI: testRedirectURI, GrantType: defaultGrantType}
	if received != expected {
		test.Fatalf("expected request %+v, got %+v", expected, received)
	}
}

func TestFetchUserInfoJWT(test *testing.T) {
	test.Parallel()
	claims := jwt.MapClaims{
		"name": "Asha",
		"verified_claims": []any{
			map[string]any{"claims": map[string]any{"phone_number": "+91 98765 43210"}},
		},
	}
	testCases := []struct {
		name            string
		signingKey      string
		verificationKey string
		wantErr         error
	}{
		{name: "unverified parse", signingKey: "any-key", verificationKey: ""},
		{name: "verified signature", signingKey: testSigningKey, verificationKey: testSigningKey},
		{name: "wrong signature", signingKey: "other-key", verificationKey: testSigningKey, wantErr: ErrInvalidUserInfo},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			token := signUserInfo(test, testCase.signingKey, claims)
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
				writer.Header().Set("Content-Type", "application/jwt")
				_, _ = writer.Write([]byte(token))
			}))
			defer server.Close()

			raw, err := newTestClient(test, server.URL, testCase.verificationKey).FetchUserInfo(context.Background(), "code")
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("fetch: %v", err)
			}
			assertions, ok := raw.VerifiedClaims()
			if raw["name"] != "Asha" || !ok || len(assertions) != 1 {
				test.Fatalf("unexpected profile: %v", raw)
			}
		})
	}
}

func TestFetchUserInfoFailures(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusBadGateway, body: `{}`, wantErr: ErrExchangeFailed},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"invalid_grant"}`, wantErr: ErrExchangeFailed},
		{name: "not an object", status: http.StatusOK, body: `[1,2]`, wantErr: ErrInvalidUserInfo},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
				writer.Header().Set("Content-Type", "application/json")
				writer.WriteHeader(testCase.status)
				_, _ = writer.Write([]byte(testCase.body))
			}))
			defer server.Close()
			_, err := newTestClient(test, server.URL, "").FetchUserInfo(context.Background(), "code")
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestFetchUserInfoRequiresCode(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, "http://127.0.0.1:1/userinfo", "")
	if _, err := client.FetchUserInfo(context.Background(), "  "); !errors.Is(err, ErrMissingCode) {
		test.Fatalf("expected ErrMissingCode, got %v", err)
	}
}

func TestNewClientValidation(test *testing.T) {
	test.Parallel()
	if _, err := NewClient(Config{ClientID: testClientID}); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig for missing endpoint, got %v", err)
	}
	if _, err := NewClient(Config{Endpoint: "http://idp.example.com/userinfo"}); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig for missing client id, got %v", err)
	}
}

func TestParseCallback(test *testing.T) {
	test.Parallel()
	code, err := ParseCallback(url.Values{"code": {"abc"}})
	if err != nil || code != "abc" {
		test.Fatalf("expected code abc, got %q %v", code, err)
	}
	_, err = ParseCallback(url.Values{"code": {"abc"}, "error": {"access_denied"}, "error_description": {"user cancelled"}})
	var callbackError *CallbackError
	if !errors.As(err, &callbackError) || callbackError.Code != "access_denied" || callbackError.Description != "user cancelled" {
		test.Fatalf("expected callback error, got %v", err)
	}
	if _, err := ParseCallback(url.Values{}); !errors.Is(err, ErrMissingCode) {
		test.Fatalf("expected ErrMissingCode, got %v", err)
	}
}

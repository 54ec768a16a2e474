package intakeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/intake/internal/identity"
	"github.com/MarkoPoloResearchLab/intake/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/intake/internal/telemetry"
	"github.com/MarkoPoloResearchLab/intake/pkg/intake"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubIdentity struct {
	profiles map[string]intake.RawProfile
}

func (stub *stubIdentity) FetchUserInfo(_ context.Context, code string) (intake.RawProfile, error) {
	raw, ok := stub.profiles[code]
	if !ok {
		return nil, identity.ErrExchangeFailed
	}
	return raw, nil
}

func testConfig() Config {
	return Config{
		ListenAddr:        ":0",
		AllowedOrigins:    []string{"http://localhost:8000"},
		SessionSigningKey: "secret-key",
		SessionIssuer:     "tauth",
		SessionCookieName: "app_session",
		RequestTimeout:    2 * time.Second,
	}
}

func startTestServer(test *testing.T) *httptest.Server {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(test.TempDir(), "intake.db")), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	if err := gormstore.Migrate(db); err != nil {
		test.Fatalf("migrate failed: %v", err)
	}
	store := gormstore.New(db)
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)
	service, err := intake.NewService(store, store, intake.WithOperationLogger(telemetry.NewOperationLogger(zap.NewNop(), metrics)))
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	fetcher := &stubIdentity{profiles: map[string]intake.RawProfile{
		"code-verified": {
			"phone_number": "+91 98765 43210",
			"verified_claims": []any{
				map[string]any{"claims": map[string]any{"name": "Asha Rao", "email": "asha@example.com"}},
			},
		},
	}}
	server, err := NewServer(testConfig(), Dependencies{
		Service:  service,
		Identity: fetcher,
		Metrics:  metrics,
		Gatherer: registry,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		test.Fatalf("server init failed: %v", err)
	}
	httpServer := httptest.NewServer(server.Handler())
	test.Cleanup(httpServer.Close)
	return httpServer
}

func buildSessionCookie(test *testing.T, cfg Config, userID string) *http.Cookie {
	test.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		UserDisplayName: "Applicant",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.SessionIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.SessionSigningKey))
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: cfg.SessionCookieName, Value: signed}
}

func doRequest(test *testing.T, server *httptest.Server, method string, path string, cookie *http.Cookie, body string) (int, []byte) {
	test.Helper()
	request, err := http.NewRequest(method, server.URL+path, bytes.NewBufferString(body))
	if err != nil {
		test.Fatalf("request init failed: %v", err)
	}
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		test.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		test.Fatalf("read body failed: %v", err)
	}
	return response.StatusCode, payload
}

func mustDecode(test *testing.T, payload []byte, target any) {
	test.Helper()
	if err := json.Unmarshal(payload, target); err != nil {
		test.Fatalf("decode %s: %v", payload, err)
	}
}

const completeApplication = `{
	"account_type": "savings_account",
	"transaction_limit": "1500.50",
	"personal_info": {"name": "Someone Else", "gender": "female", "birthdate": "1990-03-15", "address": "Pune, India", "pin": "411001", "city": "Pune"},
	"channel_access": {"mobile_banking": true},
	"payment_capabilities": {"domestic_transactions": true},
	"consent": true
}`

func TestIntakeAPIRequiresSession(test *testing.T) {
	test.Parallel()
	server := startTestServer(test)
	status, _ := doRequest(test, server, http.MethodGet, "/healthz", nil, "")
	if status != http.StatusOK {
		test.Fatalf("expected healthz 200, got %d", status)
	}
	status, _ = doRequest(test, server, http.MethodGet, "/api/application", nil, "")
	if status != http.StatusUnauthorized {
		test.Fatalf("expected 401 without session, got %d", status)
	}
}

func TestIntakeAPIApplicationFlow(test *testing.T) {
	test.Parallel()
	server := startTestServer(test)
	cookie := buildSessionCookie(test, testConfig(), "applicant-1")

	status, payload := doRequest(test, server, http.MethodPost, "/api/identity/callback", cookie, `{"code":"code-verified"}`)
	if status != http.StatusOK {
		test.Fatalf("callback: expected 200, got %d: %s", status, payload)
	}
	var session sessionResponse
	mustDecode(test, payload, &session)
	if session.Overview.VerifiedClaimCount != 2 || session.Overview.TransactionLimitCeiling != 2000 || session.Overview.DisplayName != "Asha Rao" {
		test.Fatalf("unexpected overview: %+v", session.Overview)
	}

	status, payload = doRequest(test, server, http.MethodGet, "/api/application", cookie, "")
	if status != http.StatusOK {
		test.Fatalf("application: expected 200, got %d: %s", status, payload)
	}
	var form formResponse
	mustDecode(test, payload, &form)
	if len(form.ReadOnlyFields) != 3 || form.State != intake.FormStateIncomplete || form.MinimumTransactionLimit != 500 {
		test.Fatalf("unexpected form: %+v", form)
	}

	status, payload = doRequest(test, server, http.MethodPost, "/api/application/transaction-limit", cookie, `{"current":{"value":"100","has_error":false},"input":"2500"}`)
	if status != http.StatusOK {
		test.Fatalf("limit: expected 200, got %d: %s", status, payload)
	}
	var limit transactionLimitResponse
	mustDecode(test, payload, &limit)
	if limit.Outcome != intake.LimitEditOverCeiling || !limit.TransactionLimit.HasError || limit.TransactionLimit.Value != "2500" {
		test.Fatalf("unexpected limit response: %+v", limit)
	}

	status, payload = doRequest(test, server, http.MethodPost, "/api/application/evaluate", cookie, strings.Replace(completeApplication, `"pin": "411001"`, `"pin": "41-1001"`, 1))
	if status != http.StatusOK {
		test.Fatalf("evaluate: expected 200, got %d: %s", status, payload)
	}
	mustDecode(test, payload, &form)
	if form.Evaluation.Submittable || form.RejectedEdits["pin"] != editRejected || form.Evaluation.FieldErrors["pin"] != intake.FieldErrorRequired {
		test.Fatalf("unexpected evaluation: %+v", form)
	}
	if form.PersonalInfo.Name != "Asha Rao" {
		test.Fatalf("expected read-only name to survive, got %q", form.PersonalInfo.Name)
	}

	status, payload = doRequest(test, server, http.MethodPost, "/api/application/submit", cookie, completeApplication)
	if status != http.StatusCreated {
		test.Fatalf("submit: expected 201, got %d: %s", status, payload)
	}
	var receipt submitResponse
	mustDecode(test, payload, &receipt)
	if receipt.ApplicationID == "" || receipt.State != intake.FormStateSubmitted {
		test.Fatalf("unexpected receipt: %+v", receipt)
	}

	status, _ = doRequest(test, server, http.MethodGet, "/api/application", cookie, "")
	if status != http.StatusNotFound {
		test.Fatalf("expected profile to be discarded after submit, got %d", status)
	}

	status, payload = doRequest(test, server, http.MethodGet, "/metrics", nil, "")
	if status != http.StatusOK || !strings.Contains(string(payload), `intake_submissions_total{account_type="savings_account"} 1`) {
		test.Fatalf("expected submission metric, got %d: %s", status, payload)
	}
}

func TestIntakeAPIProfileUploadAndIncompleteSubmit(test *testing.T) {
	test.Parallel()
	server := startTestServer(test)
	cookie := buildSessionCookie(test, testConfig(), "applicant-2")

	status, payload := doRequest(test, server, http.MethodPut, "/api/identity/profile", cookie, `{"name":"Ravi","birthdate":"15/03/1990"}`)
	if status != http.StatusOK {
		test.Fatalf("profile: expected 200, got %d: %s", status, payload)
	}
	var session sessionResponse
	mustDecode(test, payload, &session)
	if session.Profile.Birthdate.Value != "1990-03-15" || session.Overview.AdvertisedLimit != 500 {
		test.Fatalf("unexpected session: %+v", session)
	}

	status, payload = doRequest(test, server, http.MethodPost, "/api/application/submit", cookie, `{"account_type":"student_account","consent":true}`)
	if status != http.StatusUnprocessableEntity {
		test.Fatalf("expected 422, got %d: %s", status, payload)
	}
	var incomplete struct {
		FieldErrors map[string]string `json:"field_errors"`
	}
	mustDecode(test, payload, &incomplete)
	if incomplete.FieldErrors["transaction_limit"] != intake.FieldErrorRequired || incomplete.FieldErrors["channel_access"] != intake.FieldErrorChannelRequired {
		test.Fatalf("unexpected field errors: %v", incomplete.FieldErrors)
	}

	status, _ = doRequest(test, server, http.MethodGet, "/api/application", cookie, "")
	if status != http.StatusOK {
		test.Fatalf("expected profile to survive failed submit, got %d", status)
	}
}

func TestIntakeAPICallbackErrors(test *testing.T) {
	test.Parallel()
	server := startTestServer(test)
	cookie := buildSessionCookie(test, testConfig(), "applicant-3")

	status, payload := doRequest(test, server, http.MethodPost, "/api/identity/callback", cookie, `{"error":"access_denied","error_description":"user cancelled"}`)
	if status != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d: %s", status, payload)
	}
	var forwarded struct {
		ProviderError            string `json:"provider_error"`
		ProviderErrorDescription string `json:"provider_error_description"`
	}
	mustDecode(test, payload, &forwarded)
	if forwarded.ProviderError != "access_denied" || forwarded.ProviderErrorDescription != "user cancelled" {
		test.Fatalf("unexpected forwarded error: %+v", forwarded)
	}

	status, _ = doRequest(test, server, http.MethodPost, "/api/identity/callback", cookie, `{"code":"unknown"}`)
	if status != http.StatusBadGateway {
		test.Fatalf("expected 502 for failed exchange, got %d", status)
	}
	status, _ = doRequest(test, server, http.MethodPost, "/api/identity/callback", cookie, `{}`)
	if status != http.StatusBadRequest {
		test.Fatalf("expected 400 for schema violation, got %d", status)
	}
	status, _ = doRequest(test, server, http.MethodGet, "/api/application", cookie, "")
	if status != http.StatusNotFound {
		test.Fatalf("expected 404 before any profile, got %d", status)
	}
}

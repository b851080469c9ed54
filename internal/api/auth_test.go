package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func setTestAuth(cfg *authConfig) func() {
	prev := auth
	auth = cfg
	return func() { auth = prev }
}

func TestAuthDisabledAllowsEverything(t *testing.T) {
	defer setTestAuth(&authConfig{enabled: false})()

	if IsAuthEnabled() {
		t.Error("auth should be disabled when no credentials are set")
	}

	called := false
	handler := RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("POST", "/calibration/start", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if !called {
		t.Error("handler should be called when auth is disabled")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestRoleEnforcement(t *testing.T) {
	defer setTestAuth(&authConfig{
		adminUser:    "admin",
		adminPass:    "secret",
		operatorUser: "operator",
		operatorPass: "opsecret",
		enabled:      true,
	})()

	if !IsAuthEnabled() {
		t.Fatal("auth should be enabled")
	}

	wrap := map[string]func(http.HandlerFunc) http.HandlerFunc{
		"any":   RequireAnyRole,
		"admin": RequireAdmin,
	}

	tests := []struct {
		name       string
		wrapper    string
		user, pass string
		noCreds    bool
		wantCode   int
		wantCalled bool
	}{
		{name: "no credentials rejected", wrapper: "any", noCreds: true, wantCode: http.StatusUnauthorized},
		{name: "admin passes any-role", wrapper: "any", user: "admin", pass: "secret", wantCode: http.StatusOK, wantCalled: true},
		{name: "operator passes any-role", wrapper: "any", user: "operator", pass: "opsecret", wantCode: http.StatusOK, wantCalled: true},
		{name: "wrong password rejected", wrapper: "any", user: "admin", pass: "wrongpassword", wantCode: http.StatusUnauthorized},
		{name: "unknown user rejected", wrapper: "any", user: "ghost", pass: "secret", wantCode: http.StatusUnauthorized},
		{name: "admin passes admin-only", wrapper: "admin", user: "admin", pass: "secret", wantCode: http.StatusOK, wantCalled: true},
		{name: "operator forbidden on admin-only", wrapper: "admin", user: "operator", pass: "opsecret", wantCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := wrap[tt.wrapper](func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest("POST", "/calibration/start", nil)
			if !tt.noCreds {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			if called != tt.wantCalled {
				t.Errorf("expected called=%v, got %v", tt.wantCalled, called)
			}
			if tt.wantCode == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401")
			}
		})
	}
}

func TestAuthWithOnlyAdminConfigured(t *testing.T) {
	defer setTestAuth(&authConfig{
		adminUser: "admin",
		adminPass: "secret",
		enabled:   true,
	})()

	handler := RequireAnyRole(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Admin works.
	req := httptest.NewRequest("GET", "/operator/parameters", nil)
	req.SetBasicAuth("admin", "secret")
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 for admin, got %d", w.Code)
	}

	// Unconfigured operator role does not.
	req = httptest.NewRequest("GET", "/operator/parameters", nil)
	req.SetBasicAuth("operator", "anything")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 for unconfigured operator, got %d", w.Code)
	}
}

func TestSecureCompare(t *testing.T) {
	if !secureCompare("test", "test") {
		t.Error("identical strings should match")
	}
	if secureCompare("test", "Test") {
		t.Error("different case should not match")
	}
	if secureCompare("test", "test1") {
		t.Error("different strings should not match")
	}
	if secureCompare("", "test") {
		t.Error("empty vs non-empty should not match")
	}
}

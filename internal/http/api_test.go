package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/access-control/internal/testfixtures"
)

type testAPI struct {
	env          *testfixtures.Environment
	router       http.Handler
	manager      testfixtures.UserFixture
	managerToken string
}

func newTestAPI(t *testing.T, opts ...testfixtures.EnvironmentOption) *testAPI {
	t.Helper()

	env := testfixtures.NewEnvironment(t, opts...)
	logger := slog.New(slog.DiscardHandler)
	router := NewRouter(RouterConfig{
		Auth:        NewAuthHandler(env.Sessions, env.Repos.Users, logger),
		Users:       NewUserHandler(env.Users, logger),
		Permissions: NewPermissionHandler(env.Permissions, logger),
		AccessLogs:  NewAccessLogHandler(env.Recorder, logger),
		Gateways:    NewGatewayHandler(env.Gateways, env.Dispatcher, env.Ingestor, logger),
		Reports:     NewReportHandler(env.Reports, logger),
		Sessions:    env.Sessions,
		Directory:   env.Repos.Users,
		Health:      env.Store,
		Logger:      logger,
	})

	manager := testfixtures.NewUserFixture(testfixtures.AsManager())
	env.SeedUser(t, manager)

	return &testAPI{
		env:          env,
		router:       router,
		manager:      manager,
		managerToken: env.Login(t, manager),
	}
}

// student seeds an active student and returns it with a session token.
func (a *testAPI) student(t *testing.T) (testfixtures.UserFixture, string) {
	t.Helper()
	fixture := testfixtures.NewUserFixture()
	a.env.SeedUser(t, fixture)
	return fixture, a.env.Login(t, fixture)
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) errorResponse {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	resp := decodeResponse[errorResponse](t, rec)
	require.Equal(t, code, resp.ErrorCode)
	return resp
}

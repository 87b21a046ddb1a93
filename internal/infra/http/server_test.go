package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masto-digest/internal/domain"
	"masto-digest/internal/usecase/status"
)

type fakeProvider struct {
	runs int
	err  error
}

func (f *fakeProvider) Build(_ context.Context, runs int) (status.Report, error) {
	f.runs = runs
	if f.err != nil {
		return status.Report{}, f.err
	}
	return status.Report{
		Accounts: []status.AccountStatus{{Handle: "alice@x", State: domain.SummaryFresh}},
		Counts:   map[domain.SummaryState]int{domain.SummaryFresh: 1},
	}, nil
}

func (f *fakeProvider) Account(_ context.Context, handle string) (status.AccountStatus, error) {
	if handle != "alice@x" {
		return status.AccountStatus{}, domain.ErrAccountNotFound
	}
	return status.AccountStatus{Handle: handle, State: domain.SummaryStale, Posts: 3}, nil
}

func TestStatusEndpoint(t *testing.T) {
	provider := &fakeProvider{}
	srv := NewServer(zerolog.Nop(), provider)

	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status?runs=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, provider.runs)

	var body struct {
		Accounts []struct {
			Handle string `json:"handle"`
			State  string `json:"state"`
		} `json:"accounts"`
		Counts map[string]int `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Accounts, 1)
	assert.Equal(t, "fresh", body.Accounts[0].State)
	assert.Equal(t, 1, body.Counts["fresh"])
}

func TestStatusEndpointErrors(t *testing.T) {
	srv := NewServer(zerolog.Nop(), &fakeProvider{err: errors.New("db down")})

	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status?runs=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccountEndpoint(t *testing.T) {
	srv := NewServer(zerolog.Nop(), &fakeProvider{})

	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/accounts/alice@x", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"stale"`)

	rec = httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/accounts/ghost@x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := NewServer(zerolog.Nop(), &fakeProvider{})
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, srv.Shutdown(context.Background()))
}

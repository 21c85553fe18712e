package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postCommand(t *testing.T, s *Service, req CommandRequest) (*httptest.ResponseRecorder, CommandResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/v1/command", bytes.NewReader(body))
	r = r.WithContext(testContext(t))
	w := httptest.NewRecorder()

	s.HandleCommand(w, r)

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestHandleCommand_UnknownCommandReturnsInternal(t *testing.T) {
	s := newTestService(t)
	w, resp := postCommand(t, s, CommandRequest{Command: "bogus"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusInternal, resp.Status)
	assert.Contains(t, resp.Message, "unknown command")
}

func TestHandleCommand_MalformedBodyReturnsInternal(t *testing.T) {
	s := newTestService(t)
	r := httptest.NewRequest(http.MethodPost, "/v1/command", bytes.NewReader([]byte("not json")))
	r = r.WithContext(testContext(t))
	w := httptest.NewRecorder()

	s.HandleCommand(w, r)

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusInternal, resp.Status)
}

func TestHandleCommand_FleetOnEmptyDatabaseReturnsOK(t *testing.T) {
	s := newTestService(t)
	_, resp := postCommand(t, s, CommandRequest{Command: "fleet"})

	assert.Equal(t, StatusOK, resp.Status)
	var fr fleetResponse
	require.NoError(t, json.Unmarshal(resp.Data, &fr))
	assert.Empty(t, fr.Groups)
}

func TestHandleCommand_CreateThenRemoveRoundTrip(t *testing.T) {
	s := newTestService(t)

	_, createResp := postCommand(t, s, CommandRequest{
		Command: "create",
		Create: &CreateRequest{
			GroupName: "roundtrip",
			Instances: []InstanceRequest{{Name: "cvd-1"}},
		},
	})
	require.Equal(t, StatusOK, createResp.Status)

	_, removeResp := postCommand(t, s, CommandRequest{
		Command:         "remove",
		SelectorOptions: SelectorOptions{GroupName: "roundtrip"},
	})
	assert.Equal(t, StatusOK, removeResp.Status)
}

func TestNewRouter_ServesCommandAndHealthz(t *testing.T) {
	s := newTestService(t)
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	router := NewRouter(s, log)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	body, err := json.Marshal(CommandRequest{Command: "fleet"})
	require.NoError(t, err)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/command", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)
}

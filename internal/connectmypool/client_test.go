package connectmypool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/poolbridge/internal/pool"
)

// recordingServer answers every request with body and remembers the last request.
type recordingServer struct {
	*httptest.Server
	mu      sync.Mutex
	path    string
	request map[string]any
}

func (rs *recordingServer) last() (string, map[string]any) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.path, rs.request
}

func newServer(t *testing.T, status int, body string) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		rs.mu.Lock()
		rs.path, rs.request = r.URL.Path, req
		rs.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: url + "/", APICode: "CODE", TemperatureScale: pool.ScaleCelsius})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{APICode: "x", TemperatureScale: 3})
	assert.Error(t, err)

	c, err := New(Options{APICode: "x"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
}

func TestFetchConfiguration(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{
		"pool_spa_selection_enabled": true,
		"heat_cool_selection_enabled": false,
		"channels": [{"channel_number": 1, "function": 3, "name": "Filter"}, {"channel_number": "2", "function": "Speed Pump", "name": ""}],
		"valves": [{"valve_number": 1, "name": "Spillway"}],
		"lighting_zones": [{"lighting_zone_number": 1, "name": "Pool Light", "color_enabled": true,
			"colors_available": [{"color_number": 2, "color_name": "Blue"}]}],
		"heaters": [{"heater_number": 1}],
		"solar_systems": [{"solar_number": 1}],
		"favourites": [{"favourite_number": 1, "name": "All Auto"}]
	}`)

	cfg, err := newClient(t, srv.URL).FetchConfiguration(context.Background())
	require.NoError(t, err)
	path, request := srv.last()

	assert.Equal(t, "/api/poolconfig", path)
	assert.Equal(t, "CODE", request["pool_api_code"])

	assert.True(t, cfg.PoolSpaSelectionEnabled)
	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, "3", cfg.Channels[0].Function)
	assert.Equal(t, 2, cfg.Channels[1].Number)
	require.Len(t, cfg.LightingZones, 1)
	assert.Equal(t, []pool.Effect{{Number: 2, Name: "Blue"}}, cfg.LightingZones[0].Colors)
	assert.Equal(t, "All Auto", cfg.Favourites[0].Name)
}

func TestFetchStatus_ListPayload(t *testing.T) {
	srv := newServer(t, http.StatusOK, `[{
		"temperature": 27.5,
		"pool_spa_selection": 1,
		"active_favourite": 255,
		"channels": [{"channel_number": 1, "mode": 2}, {"channel_number": 2}],
		"heaters": [{"heater_number": 1, "mode": 1, "set_temperature": "30", "spa_set_temperature": 38}],
		"lighting_zones": [{"lighting_zone_number": 1, "mode": 0, "color": 4}]
	}]`)

	st, err := newClient(t, srv.URL).FetchStatus(context.Background())
	require.NoError(t, err)
	path, request := srv.last()

	assert.Equal(t, "/api/poolstatus", path)
	assert.EqualValues(t, 0, request["temperature_scale"])

	require.NotNil(t, st.Temperature)
	assert.Equal(t, 27.5, *st.Temperature)
	assert.Equal(t, 255, *st.ActiveFavourite)
	require.Len(t, st.Channels, 1, "channel without mode dropped")
	assert.Equal(t, pool.DeviceStatus{Number: 1, Mode: 2}, st.Channels[0])
	require.NotNil(t, st.Heaters[0].SetTemperature)
	assert.Equal(t, 30.0, *st.Heaters[0].SetTemperature)
	assert.Equal(t, 4, *st.LightingZones[0].Color)
	assert.Nil(t, st.HeatCoolSelection)
}

func TestExecute(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"action_number": 4411}`)

	receipt, err := newClient(t, srv.URL).Execute(context.Background(), pool.Action{
		Code:             pool.ActionSetValveMode,
		DeviceNumber:     2,
		Value:            "1",
		WaitForExecution: true,
	})
	require.NoError(t, err)
	path, request := srv.last()

	assert.Equal(t, 4411, receipt.ActionNumber)
	assert.Equal(t, "/api/poolaction", path)
	assert.EqualValues(t, 2, request["action_code"])
	assert.EqualValues(t, 2, request["device_number"])
	assert.Equal(t, "1", request["value"])
	assert.Equal(t, true, request["wait_for_execution"])
}

func TestActionStatus(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"action_number": 9, "status": "complete"}`)

	out, err := newClient(t, srv.URL).ActionStatus(context.Background(), 9)
	require.NoError(t, err)
	path, request := srv.last()
	assert.Equal(t, "/api/poolactionstatus", path)
	assert.Equal(t, "complete", out["status"])
	assert.EqualValues(t, 9, request["action_number"])
}

func TestFailureMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"invalid api code", http.StatusOK, `{"failure_code": 3, "failure_description": "Invalid API Code"}`, pool.ErrUnauthorized},
		{"api not enabled", http.StatusOK, `{"failure_code": 4, "failure_description": "API Not Enabled"}`, pool.ErrUnauthorized},
		{"throttled", http.StatusOK, `{"failure_code": 6, "failure_description": "Time Throttle Exceeded"}`, pool.ErrThrottled},
		{"throttled as list", http.StatusOK, `[{"failure_code": "6", "failure_description": "Time Throttle Exceeded"}]`, pool.ErrThrottled},
		{"not connected", http.StatusOK, `{"failure_code": 7, "failure_description": "Pool Not Connected"}`, pool.ErrPoolNotConnected},
		{"other failure", http.StatusOK, `{"failure_code": 99, "failure_description": "?"}`, pool.ErrUpstream},
		{"failure body on 4xx", http.StatusBadRequest, `{"failure_code": 6}`, pool.ErrThrottled},
		{"server error", http.StatusInternalServerError, `oops`, pool.ErrUpstream},
		{"garbage", http.StatusOK, `"hello"`, pool.ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.status, tt.body)
			_, err := newClient(t, srv.URL).FetchStatus(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestFailureError_Fields(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"failure_code": 6, "failure_description": "Time Throttle Exceeded"}`)
	_, err := newClient(t, srv.URL).FetchConfiguration(context.Background())

	var fe *FailureError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 6, fe.Code)
	assert.Equal(t, "Time Throttle Exceeded", fe.Description)
}

func TestTransportFailure(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{}`)
	url := srv.URL
	srv.Close()

	_, err := newClient(t, url).FetchStatus(context.Background())
	assert.ErrorIs(t, err, pool.ErrUpstream)
}

func TestEmptyListPayload(t *testing.T) {
	srv := newServer(t, http.StatusOK, `[]`)
	st, err := newClient(t, srv.URL).FetchStatus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st.Temperature)
}

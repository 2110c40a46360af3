package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/adinsight-api/internal/auth"
	"github.com/HanTheDev/adinsight-api/internal/models"
)

type frame struct {
	Status        models.JobStatus `json:"status"`
	Progress      int              `json:"progress"`
	StatusMessage string           `json:"status_message"`
	Result        json.RawMessage  `json:"result"`
}

func dialStream(t *testing.T, srv *httptest.Server, tenantID int, jobID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	token, err := auth.GenerateToken(tenantID, jwtSecret, time.Hour, time.Now())
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/analyses/" + jobID + "/stream"
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var fr frame
	require.NoError(t, conn.ReadJSON(&fr))
	return fr
}

func TestStreamAnalysisPushesProgressUntilDone(t *testing.T) {
	f := newFixture(t, true)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	rec := f.do(t, 1, http.MethodPost, "/api/analyses", `{"url":"acme.example"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job models.AnalysisJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	conn, _, err := dialStream(t, srv, 1, job.ID.String())
	require.NoError(t, err)

	first := readFrame(t, conn)
	assert.Equal(t, models.JobPending, first.Status)
	assert.Zero(t, first.Progress)

	f.jobs.update(job.ID, func(j *models.AnalysisJob) {
		j.Status, j.Progress, j.StatusMessage = models.JobRunning, 45, "Fetching market data"
	})
	second := readFrame(t, conn)
	assert.Equal(t, models.JobRunning, second.Status)
	assert.Equal(t, 45, second.Progress)
	assert.Equal(t, "Fetching market data", second.StatusMessage)

	f.jobs.update(job.ID, func(j *models.AnalysisJob) {
		j.Status, j.Progress, j.StatusMessage = models.JobCompleted, 100, "Analysis complete"
		j.Result = json.RawMessage(`{"profitability_score":72}`)
	})
	last := readFrame(t, conn)
	assert.Equal(t, models.JobCompleted, last.Status)
	assert.JSONEq(t, `{"profitability_score":72}`, string(last.Result))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.Eventually(t, func() bool {
		for _, l := range f.tenants.accessLogs() {
			if strings.HasSuffix(l.Endpoint, "/stream") {
				return l.StatusCode == http.StatusSwitchingProtocols
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestStreamAnalysisClosesImmediatelyForFinishedJob(t *testing.T) {
	f := newFixture(t, true)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	rec := f.do(t, 1, http.MethodPost, "/api/analyses", `{"url":"acme.example"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job models.AnalysisJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	f.jobs.update(job.ID, func(j *models.AnalysisJob) { j.Status = models.JobFailed })

	conn, _, err := dialStream(t, srv, 1, job.ID.String())
	require.NoError(t, err)

	assert.Equal(t, models.JobFailed, readFrame(t, conn).Status)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStreamAnalysisRejectsForeignJob(t *testing.T) {
	f := newFixture(t, true)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	rec := f.do(t, 1, http.MethodPost, "/api/analyses", `{"url":"acme.example"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job models.AnalysisJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	_, resp, err := dialStream(t, srv, 2, job.ID.String())
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

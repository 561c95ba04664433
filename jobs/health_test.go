package jobs

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if info, ok := f.infos[queue]; ok {
		return info, nil
	}
	return nil, asynq.ErrQueueNotFound
}

func serveHealth(inspector QueueInspector) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	NewHandler(inspector, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rec
}

func TestHealthReportsEveryQueue(t *testing.T) {
	rec := serveHealth(fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueCritical: {Queue: QueueCritical, Pending: 2, Latency: 1500 * time.Millisecond},
		QueueDefault:  {Queue: QueueDefault, Retry: 1, Paused: true},
	}})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []QueueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	require.Equal(t, QueueHealth{Queue: QueueCritical, Pending: 2, LatencySeconds: 1.5}, body.Queues[0])
	require.Equal(t, QueueHealth{Queue: QueueDefault, Retry: 1, Paused: true}, body.Queues[1])
}

func TestHealthWithoutInspector(t *testing.T) {
	rec := serveHealth(nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), QueueCritical)
}

func TestHealthTreatsMissingQueueAsEmpty(t *testing.T) {
	rec := serveHealth(fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueDefault: {Queue: QueueDefault, Pending: 4},
	}})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []QueueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []QueueHealth{
		{Queue: QueueCritical},
		{Queue: QueueDefault, Pending: 4},
	}, body.Queues)
}

func TestHealthUnavailable(t *testing.T) {
	rec := serveHealth(fakeInspector{err: errors.New("redis down")})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQueueFor(t *testing.T) {
	require.Equal(t, QueueCritical, QueueFor(TaskCatalogSync))
	require.Equal(t, QueueDefault, QueueFor(TaskSessionSweep))
	require.Equal(t, []string{QueueCritical, QueueDefault}, Queues())
}

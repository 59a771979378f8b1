package invoicing

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	poNumber  string
	positions []int
}

func (f *fakeEnqueuer) EnqueueBatch(ctx context.Context, poNumber string, positions []int, header SubmitHeader) (string, error) {
	f.poNumber = poNumber
	f.positions = positions
	return "task-1", nil
}

func newTestServer(t *testing.T, svc *Service, enqueue BatchEnqueuer) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(testLogger(), svc, enqueue).MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandlerWorkspaceAndSubmit(t *testing.T) {
	svc, finance := newTermFixture()
	srv := newTestServer(t, svc, nil)

	resp := postJSON(t, srv.URL+"/pos/PO-1/workspace", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "PO-1", body["poNumber"])
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	require.Equal(t, "3000000.00", first["amount"])
	require.Equal(t, "ELIGIBLE", first["state"])

	resp = postJSON(t, srv.URL+"/pos/PO-1/selection", map[string]int{"position": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/pos/PO-1/invoices", map[string]string{"invoiceDate": "2025-03-10"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body = decodeBody(t, resp)
	require.NotEmpty(t, body["invoiceId"])
	require.Len(t, finance.submitted, 1)
}

func TestHandlerRejectsOutOfOrderSelection(t *testing.T) {
	svc, _ := newTermFixture()
	srv := newTestServer(t, svc, nil)

	resp := postJSON(t, srv.URL+"/pos/PO-1/workspace", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/pos/PO-1/selection", map[string]int{"position": 2})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "Sequence Violation", body["title"])
}

func TestHandlerRejectsMalformedDate(t *testing.T) {
	svc, _ := newTermFixture()
	srv := newTestServer(t, svc, nil)

	resp := postJSON(t, srv.URL+"/pos/PO-1/workspace", nil)
	resp.Body.Close()
	resp = postJSON(t, srv.URL+"/pos/PO-1/selection", map[string]int{"position": 1})
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/pos/PO-1/invoices", map[string]string{"invoiceDate": "10/03/2025"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHandlerUnknownPO(t *testing.T) {
	svc, _ := newTermFixture()
	srv := newTestServer(t, svc, nil)

	resp := postJSON(t, srv.URL+"/pos/PO-404/workspace", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHandlerAsyncBatchEnqueues(t *testing.T) {
	svc, _ := newPeriodFixture(3)
	enqueue := &fakeEnqueuer{}
	srv := newTestServer(t, svc, enqueue)

	resp := postJSON(t, srv.URL+"/pos/PO-2/workspace", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	for pos := 1; pos <= 2; pos++ {
		resp = postJSON(t, srv.URL+"/pos/PO-2/selection", map[string]int{"position": pos})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp = postJSON(t, srv.URL+"/pos/PO-2/invoices/batch", map[string]any{
		"invoiceDate": "2025-03-10",
		"async":       true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "task-1", body["taskId"])
	require.Equal(t, "PO-2", enqueue.poNumber)
	require.Equal(t, []int{1, 2}, enqueue.positions)
}

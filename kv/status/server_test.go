package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pingcap-incubator/tinytxn/kv/kernel"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource struct {
	status kernel.Status
	txns   map[uint64]*txnlog.CommittedCommandBatch
}

func (s *fixedSource) Status() kernel.Status {
	return s.status
}

func (s *fixedSource) Transaction(id uint64) (*txnlog.CommittedCommandBatch, txnlog.LogPosition, error) {
	b, ok := s.txns[id]
	if !ok {
		return nil, txnlog.LogPosition{}, txnlog.ErrTransactionNotFound
	}
	return b, txnlog.NewLogPosition(0, id*100), nil
}

func get(t *testing.T, src Source, path string) *httptest.ResponseRecorder {
	req, err := http.NewRequest("GET", path, nil)
	require.Nil(t, err)
	rec := httptest.NewRecorder()
	NewRouter(src).ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	src := &fixedSource{status: kernel.Status{Healthy: true, LastCommitted: 7, LastClosed: 5}}
	rec := get(t, src, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	var got kernel.Status
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, src.status, got)

	src.status.Healthy = false
	src.status.Cause = "disk full"
	rec = get(t, src, "/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWatermark(t *testing.T) {
	src := &fixedSource{status: kernel.Status{Healthy: true, LastCommitted: 7, LastClosed: 5}}
	rec := get(t, src, "/watermarks/closed")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", strings.TrimSpace(rec.Body.String()))

	rec = get(t, src, "/watermarks/bogus")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics(t *testing.T) {
	rec := get(t, &fixedSource{}, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTransaction(t *testing.T) {
	src := &fixedSource{txns: map[uint64]*txnlog.CommittedCommandBatch{
		3: txnlog.NewTransactionBatch(3, 4, txnlog.LatestKernelVersion, 30, []txnlog.Command{
			{Op: txnlog.OpPut, CF: "default", Key: []byte("k"), Value: []byte("v")},
		}),
	}}
	rec := get(t, src, "/transactions/3")
	assert.Equal(t, http.StatusOK, rec.Code)
	var got TransactionInfo
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(3), got.TransactionID)
	assert.Equal(t, uint64(4), got.AppendIndex)
	assert.Equal(t, 1, got.Commands)
	assert.Equal(t, txnlog.NewLogPosition(0, 300).String(), got.Position)

	assert.Equal(t, http.StatusNotFound, get(t, src, "/transactions/9").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, src, "/transactions/x").Code)
}

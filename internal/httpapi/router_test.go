package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasquy73/fiware-sth-comet/internal/aggregate"
	"github.com/pasquy73/fiware-sth-comet/internal/catalog"
	"github.com/pasquy73/fiware-sth-comet/internal/collection"
	"github.com/pasquy73/fiware-sth-comet/internal/ingest"
	"github.com/pasquy73/fiware-sth-comet/internal/kpi"
	"github.com/pasquy73/fiware-sth-comet/internal/namespace"
	"github.com/pasquy73/fiware-sth-comet/internal/obs/diag"
	"github.com/pasquy73/fiware-sth-comet/internal/query"
	"github.com/pasquy73/fiware-sth-comet/internal/rawstore"
	"github.com/pasquy73/fiware-sth-comet/internal/sthtest"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

func newTestRouter(t *testing.T) (http.Handler, *sthtest.Fake) {
	t.Helper()
	fake := sthtest.New()
	provider := collection.New(fake, namespace.New(namespace.PathMode))
	raw := rawstore.New(fake)
	agg := aggregate.New(fake)
	coordinator := ingest.New(provider, raw, agg, ingest.Options{Mode: types.Both, IgnoreBlankSpaces: true})
	planner := query.New(provider, raw, agg)
	diagnostics := diag.New()
	diagnostics.Register("store", fake.Ping)

	r := NewRouter(Config{
		Coordinator:            coordinator,
		Planner:                planner,
		Counters:               &kpi.Counters{},
		Diagnostics:            diagnostics,
		AttributeLister:        catalog.New(fake),
		DefaultService:         "test",
		DefaultServicePath:     "/",
		CorrelatorHeader:       "Unica-Correlator",
		EnableAttributeListing: true,
	})
	return r, fake
}

func TestNotifyThenQueryRoundTrip(t *testing.T) {
	r, _ := newTestRouter(t)

	body := `{"contextResponses":[{"contextElement":{"id":"bus-1","type":"Bus","attributes":[{"name":"speed","type":"Number","value":42}]}}]}`
	req := httptest.NewRequest(http.MethodPost, "/notify", bytes.NewBufferString(body))
	req.Header.Set("fiware-service", "smartcity")
	req.Header.Set("fiware-servicepath", "/")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/STH/v1/contextEntities/type/Bus/id/bus-1/attributes/speed?lastN=1", nil)
	req.Header.Set("fiware-service", "smartcity")
	req.Header.Set("fiware-servicepath", "/")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope contextResponseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.ContextResponses, 1)
	assert.Equal(t, "bus-1", envelope.ContextResponses[0].ContextElement.ID)
}

func TestQueryRejectsMissingTenantHeaders(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/STH/v1/contextEntities/type/Bus/id/bus-1/attributes/speed?lastN=1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body validationError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "headers", body.Source)
}

func TestQueryDispatchValidationError(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/STH/v1/contextEntities/type/Bus/id/bus-1/attributes/speed", nil)
	req.Header.Set("fiware-service", "smartcity")
	req.Header.Set("fiware-servicepath", "/")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCorrelatorHeaderIsEchoed(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set("Unica-Correlator", "abc-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("Unica-Correlator"))
}

func TestHealthEndpointReflectsStoreFailure(t *testing.T) {
	r, fake := newTestRouter(t)
	fake.PingErr = assertError{}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type assertError struct{}

func (assertError) Error() string { return "simulated store failure" }

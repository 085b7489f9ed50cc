// Copyright 2023 Telefonica Investigación y Desarrollo, S.A.U
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/pasquy73/fiware-sth-comet/internal/buildinfo"
	"github.com/pasquy73/fiware-sth-comet/internal/ident"
	"github.com/pasquy73/fiware-sth-comet/internal/ingest"
	"github.com/pasquy73/fiware-sth-comet/internal/query"
	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("sth: failed writing response body")
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	log.WithError(err).Error("sth: store error")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// handleQuery serves the data-query endpoint (§6): parse and validate
// query parameters, dispatch through the planner, shape the fixed
// envelope.
func (d *Deps) handleQuery(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityId")
	attrName := chi.URLParam(r, "attrName")
	service, servicePath := tenantFromContext(r.Context())

	params, err := parseQueryParams(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, *err)
		return
	}

	schema, errS := ident.NewSchema(service)
	if errS != nil {
		writeJSON(w, http.StatusBadRequest, validationError{Source: "headers", Keys: []string{"fiware-service"}})
		return
	}

	tuple := types.NamespaceTuple{
		Service: service, ServicePath: servicePath,
		EntityID: entityID, EntityType: entityType, AttrName: attrName,
	}

	result, err := d.planner.Execute(r.Context(), schema, tuple, params)
	if err != nil {
		if ve, ok := err.(*query.ErrValidation); ok {
			writeJSON(w, http.StatusBadRequest, validationError{Source: "query", Keys: ve.Keys})
			return
		}
		if err == types.ErrTypeMismatch {
			writeJSON(w, http.StatusBadRequest, validationError{Source: "query", Keys: []string{"aggrMethod"}})
			return
		}
		writeStoreError(w, err)
		return
	}

	switch result.Path {
	case query.RawPath:
		if result.Raw.Kind == types.File {
			defer result.Raw.Cleanup()
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", "attachment; filename=\""+attrName+".csv\"")
			http.ServeFile(w, r, result.Raw.Path)
			return
		}
		writeJSON(w, http.StatusOK, okEnvelope(entityID, entityType, attrName, rawValues(result.Raw.Events)))
	default:
		method := types.MethodSum
		if params.AggrMethod != nil {
			method = *params.AggrMethod
		}
		filterEmpty := d.filterEmptyDefault
		if params.FilterEmpty != nil {
			filterEmpty = *params.FilterEmpty
		}
		writeJSON(w, http.StatusOK, okEnvelope(entityID, entityType, attrName, bucketValues(result.Aggregated, method, filterEmpty)))
	}
}

// notifyBody mirrors the NGSI9/10 contextResponses shape described in
// the ingestion coordinator's input contract.
type notifyBody struct {
	ContextResponses []struct {
		ContextElement struct {
			ID         string          `json:"id"`
			Type       string          `json:"type"`
			Attributes []notifyAttribute `json:"attributes"`
		} `json:"contextElement"`
	} `json:"contextResponses"`
}

type notifyAttribute struct {
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Value    any            `json:"value"`
	Metadata []notifyMetaItem `json:"metadata"`
}

type notifyMetaItem struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

func (a notifyAttribute) timeInstant() *time.Time {
	for _, m := range a.Metadata {
		if m.Name != "TimeInstant" {
			continue
		}
		s, ok := m.Value.(string)
		if !ok {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil
		}
		return &t
	}
	return nil
}

// handleNotify serves POST /notify.
func (d *Deps) handleNotify(w http.ResponseWriter, r *http.Request) {
	service, servicePath := tenantFromContext(r.Context())

	var body notifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, validationError{Source: "payload", Keys: []string{"contextResponses"}})
		return
	}
	if len(body.ContextResponses) == 0 {
		writeJSON(w, http.StatusBadRequest, validationError{Source: "payload", Keys: []string{"contextResponses"}})
		return
	}

	schema, err := ident.NewSchema(service)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, validationError{Source: "headers", Keys: []string{"fiware-service"}})
		return
	}

	recvTime := time.Now().UTC()
	var firstErr error
	for _, cr := range body.ContextResponses {
		attrs := make([]ingest.Attribute, 0, len(cr.ContextElement.Attributes))
		for _, a := range cr.ContextElement.Attributes {
			attrs = append(attrs, ingest.Attribute{
				Name: a.Name, Type: a.Type, Value: a.Value, TimeInstant: a.timeInstant(),
			})
		}
		el := ingest.ContextElement{ID: cr.ContextElement.ID, Type: cr.ContextElement.Type, Attributes: attrs}

		err := d.coordinator.Ingest(r.Context(), schema, service, servicePath, el, recvTime)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		if ve, ok := firstErr.(*ingest.ErrValidation); ok {
			writeJSON(w, http.StatusBadRequest, validationError{Source: "payload", Keys: ve.Keys})
			return
		}
		writeStoreError(w, firstErr)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleVersion serves GET /version.
func (d *Deps) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": buildinfo.Resolve()})
}

// handleHealth serves the supplementary GET /health endpoint.
func (d *Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy, results := d.diag.Run(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": healthy, "checks": results})
}

// handleAttributes serves the supplementary attribute-listing endpoint,
// gated behind ENABLE_ATTRIBUTE_LISTING.
func (d *Deps) handleAttributes(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityId")
	service, _ := tenantFromContext(r.Context())

	names, err := d.attributeLister.List(r.Context(), service, entityID, entityType)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entityId": entityID, "entityType": entityType, "attributes": names})
}

func parseQueryParams(q map[string][]string) (query.Params, *validationError) {
	get := func(key string) (string, bool) {
		v, ok := q[key]
		if !ok || len(v) == 0 || v[0] == "" {
			return "", false
		}
		return v[0], true
	}

	var p query.Params
	var bad []string

	if s, ok := get("lastN"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			bad = append(bad, "lastN")
		} else {
			p.LastN = &n
		}
	}
	if s, ok := get("hLimit"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			bad = append(bad, "hLimit")
		} else {
			p.HLimit = &n
		}
	}
	if s, ok := get("hOffset"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			bad = append(bad, "hOffset")
		} else {
			p.HOffset = &n
		}
	}
	if s, ok := get("aggrMethod"); ok {
		m, err := types.ParseMethod(s)
		if err != nil {
			bad = append(bad, "aggrMethod")
		} else {
			p.AggrMethod = &m
		}
	}
	if s, ok := get("aggrPeriod"); ok {
		r, err := types.ParseResolution(s)
		if err != nil {
			bad = append(bad, "aggrPeriod")
		} else {
			p.AggrPeriod = &r
		}
	}
	if s, ok := get("dateFrom"); ok {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			bad = append(bad, "dateFrom")
		} else {
			p.From = &t
		}
	}
	if s, ok := get("dateTo"); ok {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			bad = append(bad, "dateTo")
		} else {
			p.To = &t
		}
	}
	if s, ok := get("filetype"); ok {
		if s != "csv" {
			bad = append(bad, "filetype")
		} else {
			p.IsCSV = true
		}
	}
	if s, ok := get("filterEmpty"); ok {
		b, err := strconv.ParseBool(s)
		if err != nil {
			bad = append(bad, "filterEmpty")
		} else {
			p.FilterEmpty = &b
		}
	}

	if len(bad) > 0 {
		return query.Params{}, &validationError{Source: "query", Keys: bad}
	}
	return p, nil
}

// AttributeLister is implemented by internal/catalog for the
// supplementary attribute-listing endpoint.
type AttributeLister interface {
	List(ctx context.Context, service, entityID, entityType string) ([]string, error)
}

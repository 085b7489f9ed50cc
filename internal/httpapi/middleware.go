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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/pasquy73/fiware-sth-comet/internal/kpi"
)

type ctxKey int

const (
	serviceKey ctxKey = iota
	servicePathKey
)

// requireTenantHeaders rejects a query request missing fiware-service
// or fiware-servicepath with a 400 naming the "headers" source, per the
// external interface contract. /notify applies its own default-filling
// middleware instead (defaultTenantHeaders) since it tolerates absence.
func requireTenantHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		service := r.Header.Get("fiware-service")
		servicePath := r.Header.Get("fiware-servicepath")
		var missing []string
		if service == "" {
			missing = append(missing, "fiware-service")
		}
		if servicePath == "" {
			missing = append(missing, "fiware-servicepath")
		}
		if len(missing) > 0 {
			writeJSON(w, http.StatusBadRequest, validationError{Source: "headers", Keys: missing})
			return
		}
		ctx := context.WithValue(r.Context(), serviceKey, service)
		ctx = context.WithValue(ctx, servicePathKey, servicePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// defaultTenantHeaders fills in the configured defaults for /notify
// when the tenant headers are absent, rather than rejecting the
// request.
func defaultTenantHeaders(defaultService, defaultServicePath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			service := r.Header.Get("fiware-service")
			if service == "" {
				service = defaultService
			}
			servicePath := r.Header.Get("fiware-servicepath")
			if servicePath == "" {
				servicePath = defaultServicePath
			}
			ctx := context.WithValue(r.Context(), serviceKey, service)
			ctx = context.WithValue(ctx, servicePathKey, servicePath)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tenantFromContext(ctx context.Context) (service, servicePath string) {
	service, _ = ctx.Value(serviceKey).(string)
	servicePath, _ = ctx.Value(servicePathKey).(string)
	return service, servicePath
}

// echoCorrelator copies the configured correlator header from request
// to response unchanged, a no-op when the client didn't send one.
func echoCorrelator(headerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v := r.Header.Get(headerName); v != "" {
				w.Header().Set(headerName, v)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// countAttended increments the KPI counter once per request, after the
// handler completes, mirroring where the teacher's own request logging
// middleware hooks in (after ServeHTTP, so it sees the final status).
func countAttended(counters *kpi.Counters) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			counters.Attend()
		})
	}
}

// requestLogger is a structured-logging request logger in logrus,
// standing in for chi's default middleware.Logger (which writes
// unstructured lines) to stay consistent with the rest of the server's
// logging.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
			"reqID":    middleware.GetReqID(r.Context()),
		}).Info("sth: request")
	})
}

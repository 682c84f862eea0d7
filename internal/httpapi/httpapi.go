// Package httpapi exposes the entity actions over HTTP at /api/v3/{entity}/{action}.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/envelope"
	"github.com/donorline/donorline-go/internal/params"
	"github.com/donorline/donorline-go/internal/platform/auditlog"
	"github.com/donorline/donorline-go/internal/platform/auth"
	"github.com/donorline/donorline-go/internal/platform/httpserver"
	"github.com/donorline/donorline-go/internal/service/gateway"
)

const maxBodyBytes = 1 << 20

// Executor runs one resolved action.
type Executor interface {
	Execute(ctx context.Context, action gateway.Action, raw params.Bag) envelope.Result
}

type API struct {
	logger    *slog.Logger
	exec      Executor
	validator *requestValidator
	// wrap guards the action route; nil leaves it open.
	wrap func(http.Handler) http.Handler
}

// New builds the API. authMiddleware may be nil when authentication is disabled.
func New(ctx context.Context, logger *slog.Logger, exec Executor, authMiddleware *auth.Middleware) (*API, error) {
	if exec == nil {
		return nil, errors.New("executor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	validator, err := newRequestValidator(ctx)
	if err != nil {
		return nil, err
	}
	api := &API{logger: logger, exec: exec, validator: validator}
	if authMiddleware != nil {
		api.wrap = authMiddleware.Wrap
	}
	return api, nil
}

// Register mounts the API routes on mux.
func (api *API) Register(mux *http.ServeMux) {
	var action http.Handler = http.HandlerFunc(api.handleAction)
	if api.wrap != nil {
		action = api.wrap(action)
	}
	mux.Handle("POST /api/v3/{entity}/{action}", action)
	mux.Handle("GET /api/v3/{entity}/{action}", action)
	mux.HandleFunc("GET /api/v3/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openapiYAML)
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, apierr.Newf(apierr.NotFound, "unknown route %s %s", r.Method, r.URL.Path))
	})
}

func (api *API) handleAction(w http.ResponseWriter, r *http.Request) {
	entity, name := r.PathValue("entity"), r.PathValue("action")
	// The OpenAPI body check reads the whole body, so the cap goes on first.
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := api.validator.Validate(r); err != nil {
		if errors.Is(err, errRouteNotFound) {
			writeError(w, http.StatusNotFound, apierr.New(apierr.NotFound, "unknown route"))
			return
		}
		writeError(w, http.StatusBadRequest, apierr.Wrap(apierr.Validation, "request does not match the API description", err))
		return
	}

	action, ok := gateway.Lookup(entity, name)
	if !ok {
		writeError(w, http.StatusNotFound, apierr.Newf(apierr.NotFound, "API (%s, %s) does not exist", entity, name))
		return
	}
	if r.Method == http.MethodGet && !readOnly(action) {
		writeError(w, http.StatusMethodNotAllowed, apierr.Newf(apierr.Validation, "%s.%s requires POST", action.Entity(), action.Name()))
		return
	}

	raw, err := decodeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, apierr.Wrap(apierr.Validation, "invalid request parameters", err))
		return
	}

	ctx := auditlog.WithMeta(r.Context(), requestMeta(r))
	res := api.exec.Execute(ctx, action, raw)
	if res.IsError {
		api.logger.Debug("action returned error envelope",
			"entity", action.Entity(),
			"action", action.Name(),
			"error_code", string(res.ErrorCode),
		)
	}
	httpserver.WriteJSON(w, http.StatusOK, res)
}

func readOnly(a gateway.Action) bool {
	switch a.Name() {
	case "get", "getfields":
		return true
	}
	return false
}

// decodeParams reads the JSON body of a POST, or the query string of a GET. Numbers are
// kept as json.Number so ids are never rounded through float64.
func decodeParams(r *http.Request) (params.Bag, error) {
	if r.Method == http.MethodGet {
		return queryParams(r)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if strings.TrimSpace(string(body)) == "" {
		return params.Bag{}, nil
	}
	return decodeObject(body)
}

func queryParams(r *http.Request) (params.Bag, error) {
	q := r.URL.Query()
	out := params.Bag{}
	if raw := q.Get("json"); raw != "" {
		decoded, err := decodeObject([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = decoded
	}
	for key, values := range q {
		if key == "json" || len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			out[key] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		out[key] = list
	}
	return out, nil
}

func decodeObject(data []byte) (params.Bag, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if obj == nil {
		return nil, errors.New("parameters must be a JSON object")
	}
	return params.Bag(obj), nil
}

func requestMeta(r *http.Request) auditlog.Meta {
	meta := auditlog.Meta{UserAgent: r.UserAgent()}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		meta.Actor = id.Actor()
	}
	if rid, ok := httpserver.RequestIDFromContext(r.Context()); ok {
		meta.RequestID = rid
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	meta.IP = net.ParseIP(host)
	return meta
}

func writeError(w http.ResponseWriter, status int, err error) {
	httpserver.WriteJSON(w, status, envelope.Error(err))
}

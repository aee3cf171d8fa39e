// Package httpapi wires the gateway's HTTP surface: routing, CORS,
// bearer-token authentication, idempotency, request metrics,
// internal-error logging, and the error envelope. Route table and middleware
// chaining follow the teacher's pkg/ingress request-pipeline shape
// (header manipulation, proxy headers, per-client rate limiting),
// adapted from a reverse proxy onto a REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/meshforge/listings/pkg/apierr"
	"github.com/meshforge/listings/pkg/auth"
	"github.com/meshforge/listings/pkg/health"
	"github.com/meshforge/listings/pkg/idempotency"
	"github.com/meshforge/listings/pkg/listing"
	"github.com/meshforge/listings/pkg/log"
	"github.com/meshforge/listings/pkg/metrics"
	"github.com/meshforge/listings/pkg/readmodel"
	"github.com/meshforge/listings/pkg/types"
	"github.com/meshforge/listings/pkg/upload"
)

type contextKey int

const (
	ctxKeyUser contextKey = iota
	ctxKeyRequestID
)

// Config carries the HTTP layer's tunables.
type Config struct {
	AllowedOrigin string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// Deps are the components the router dispatches into.
type Deps struct {
	Config      Config
	Verifier    *auth.Verifier
	Uploads     *upload.Authorizer
	Listings    *listing.Service
	ReadModel   *readmodel.Assembler
	Idempotency *idempotency.Middleware
	Health      *health.Aggregator
}

// NewRouter builds the mux.Router serving every route in the external
// interface table.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(corsMiddleware(d.Config.AllowedOrigin))

	r.HandleFunc("/health", d.Health.ServeHTTP).Methods(http.MethodGet)

	r.Handle("/listings/{id}", handlerFunc(d.getListing)).Methods(http.MethodGet)
	r.Handle("/listings", d.Idempotency.Wrap(authenticated(d.Verifier, handlerFunc(d.createListing)))).Methods(http.MethodPost)
	r.Handle("/listings", authenticated(d.Verifier, handlerFunc(d.listListings))).Methods(http.MethodGet)
	r.Handle("/listings/{id}", d.Idempotency.Wrap(authenticated(d.Verifier, handlerFunc(d.updateListing)))).Methods(http.MethodPut)
	r.Handle("/listings/{id}", d.Idempotency.Wrap(authenticated(d.Verifier, handlerFunc(d.deleteListing)))).Methods(http.MethodDelete)
	r.Handle("/files/presign", d.Idempotency.Wrap(authenticated(d.Verifier, handlerFunc(d.presignUpload)))).Methods(http.MethodPost)

	r.MethodNotAllowedHandler = handlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		return apierr.Invalid("method not allowed")
	})
	return r
}

// handlerFunc adapts a (w, r) -> error function into an http.Handler,
// centralizing error-envelope rendering.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (f handlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := f(w, r); err != nil {
		writeError(w, r, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierr.As(err)
	if apiErr.Code == apierr.CodeInternal {
		log.WithRequestID(requestIDFrom(r.Context())).Error().Err(apiErr.Cause).
			Str("component", "httpapi").
			Str("path", r.URL.Path).
			Msg("internal error")
	}
	writeJSON(w, apiErr.Code.HTTPStatus(), map[string]any{
		"error_code": apiErr.Code,
		"message":    apiErr.Message,
		"request_id": requestIDFrom(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// --- middleware ---

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routeTemplate(r)
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, statusBucket(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.HTTPRequestDuration, route, r.Method)
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

func statusBucket(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func corsMiddleware(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticated verifies the bearer token and attaches the caller
// identity to the request context.
func authenticated(v *auth.Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, r, apierr.Unauthorized("missing bearer token"))
			return
		}
		user, err := v.Verify(r.Context(), token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(ctx context.Context) (types.AuthenticatedUser, bool) {
	u, ok := ctx.Value(ctxKeyUser).(*types.AuthenticatedUser)
	if !ok || u == nil {
		return types.AuthenticatedUser{}, false
	}
	return *u, true
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// --- handlers ---

func (d Deps) getListing(w http.ResponseWriter, r *http.Request) error {
	id := mux.Vars(r)["id"]
	resp, err := d.ReadModel.Get(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (d Deps) listListings(w http.ResponseWriter, r *http.Request) error {
	user, ok := userFrom(r.Context())
	if !ok {
		return apierr.Unauthorized("missing caller identity")
	}
	listings, files, err := d.Listings.ListBySeller(r.Context(), user.ID)
	if err != nil {
		return err
	}
	responses := make([]*readmodel.Response, 0, len(listings))
	for _, l := range listings {
		resp, err := d.ReadModel.Assemble(r.Context(), l, files[l.ID])
		if err != nil {
			return err
		}
		responses = append(responses, resp)
	}
	writeJSON(w, http.StatusOK, responses)
	return nil
}

type createListingRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
	License     string   `json:"license"`

	PriceMinorUnits int64  `json:"priceMinorUnits"`
	Currency        string `json:"currency"`
	IsFree          bool   `json:"isFree"`

	IsPhysical           bool                `json:"isPhysical"`
	Dimensions           *types.Dimensions   `json:"dimensions"`
	TotalWeightGrams     *float64            `json:"totalWeightGrams"`
	NozzleTempC          *float64            `json:"nozzleTempC"`
	RecommendedMaterials []string            `json:"recommendedMaterials"`
	IsMulticolor         bool                `json:"isMulticolor"`
	RequiresAssembly     bool                `json:"requiresAssembly"`
	HardwareItems        []string            `json:"hardwareItems"`

	AllowsRemixing  bool    `json:"allowsRemixing"`
	ParentListingID *string `json:"parentListingId"`

	IsNSFW        bool   `json:"isNsfw"`
	IsAIGenerated bool   `json:"isAiGenerated"`
	AIModelName   string `json:"aiModelName"`

	Files []types.NewListingFileInput `json:"files"`
}

func (d Deps) createListing(w http.ResponseWriter, r *http.Request) error {
	user, ok := userFrom(r.Context())
	if !ok {
		return apierr.Unauthorized("missing caller identity")
	}

	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.Invalid("malformed request body")
	}

	input := types.NewListingInput{
		Title:                req.Title,
		Description:          req.Description,
		Categories:           req.Categories,
		License:              req.License,
		PriceMinorUnits:      req.PriceMinorUnits,
		Currency:             req.Currency,
		IsFree:               req.IsFree,
		IsPhysical:           req.IsPhysical,
		Dimensions:           req.Dimensions,
		TotalWeightGrams:     req.TotalWeightGrams,
		NozzleTempC:          req.NozzleTempC,
		RecommendedMaterials: req.RecommendedMaterials,
		IsMulticolor:         req.IsMulticolor,
		RequiresAssembly:     req.RequiresAssembly,
		HardwareItems:        req.HardwareItems,
		AllowsRemixing:       req.AllowsRemixing,
		ParentListingID:      req.ParentListingID,
		IsNSFW:               req.IsNSFW,
		IsAIGenerated:        req.IsAIGenerated,
		AIModelName:          req.AIModelName,
		Files:                req.Files,
	}

	traceID := requestIDFrom(r.Context())
	l, files, err := d.Listings.CreateListing(r.Context(), user, input, traceID)
	if err != nil {
		return err
	}

	resp, err := d.ReadModel.Assemble(r.Context(), l, files)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, resp)
	return nil
}

type updateListingRequest struct {
	Title           *string  `json:"title"`
	Description     *string  `json:"description"`
	Categories      []string `json:"categories"`
	License         *string  `json:"license"`
	PriceMinorUnits *int64   `json:"priceMinorUnits"`
	Currency        *string  `json:"currency"`
	IsFree          *bool    `json:"isFree"`
	IsNSFW          *bool    `json:"isNsfw"`
	IsAIGenerated   *bool    `json:"isAiGenerated"`
	AIModelName     *string  `json:"aiModelName"`
	AllowsRemixing  *bool    `json:"allowsRemixing"`
}

func (d Deps) updateListing(w http.ResponseWriter, r *http.Request) error {
	user, ok := userFrom(r.Context())
	if !ok {
		return apierr.Unauthorized("missing caller identity")
	}
	id := mux.Vars(r)["id"]

	var req updateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.Invalid("malformed request body")
	}

	patch := types.ListingPatch{
		Title:           req.Title,
		Description:     req.Description,
		Categories:      req.Categories,
		License:         req.License,
		PriceMinorUnits: req.PriceMinorUnits,
		Currency:        req.Currency,
		IsFree:          req.IsFree,
		IsNSFW:          req.IsNSFW,
		IsAIGenerated:   req.IsAIGenerated,
		AIModelName:     req.AIModelName,
		AllowsRemixing:  req.AllowsRemixing,
	}

	traceID := requestIDFrom(r.Context())
	l, err := d.Listings.UpdateListing(r.Context(), user, id, patch, traceID)
	if err != nil {
		return err
	}
	d.ReadModel.Invalidate(r.Context(), id)

	resp, err := d.ReadModel.Get(r.Context(), l.ID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (d Deps) deleteListing(w http.ResponseWriter, r *http.Request) error {
	user, ok := userFrom(r.Context())
	if !ok {
		return apierr.Unauthorized("missing caller identity")
	}
	id := mux.Vars(r)["id"]

	if err := d.Listings.DeleteListing(r.Context(), user, id); err != nil {
		return err
	}
	d.ReadModel.Invalidate(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type presignRequest struct {
	Kind        string `json:"kind"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	DraftID     string `json:"draftId"`
}

func (d Deps) presignUpload(w http.ResponseWriter, r *http.Request) error {
	user, ok := userFrom(r.Context())
	if !ok {
		return apierr.Unauthorized("missing caller identity")
	}

	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apierr.Invalid("malformed request body")
	}

	policy, err := d.Uploads.Authorize(r.Context(), user.ID, upload.Request{
		Kind:        req.Kind,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		DraftID:     req.DraftID,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uploadUrl":  policy.URL,
		"formFields": policy.FormFields,
		"key":        policy.Key,
	})
	return nil
}

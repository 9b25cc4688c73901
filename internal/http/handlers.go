package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/storefront-console/internal/catalog"
	"github.com/fairyhunter13/storefront-console/internal/config"
	"github.com/fairyhunter13/storefront-console/internal/export"
	httpopenapi "github.com/fairyhunter13/storefront-console/internal/http/openapi"
	"github.com/fairyhunter13/storefront-console/internal/identity"
	"github.com/fairyhunter13/storefront-console/internal/model"
	"github.com/fairyhunter13/storefront-console/internal/notify"
	"github.com/fairyhunter13/storefront-console/internal/obs"
	"github.com/fairyhunter13/storefront-console/internal/session"
	"github.com/fairyhunter13/storefront-console/internal/storefront"
	"github.com/fairyhunter13/storefront-console/internal/upload"
)

// App holds the wiring for the HTTP surface: the public storefront routes
// and the session-gated admin routes.
type App struct {
	Cfg      config.Config
	Session  *session.Manager
	Orch     *catalog.Orchestrator
	Store    *catalog.Store
	Uploads  *upload.Manager
	Notifier *notify.Notifier
	closing  bool
	started  time.Time
}

// ack acknowledges an accepted upload job.
type ack struct {
	Status      string `json:"status"`
	RequestID   string `json:"request_id"`
	Sequence    uint64 `json:"sequence"`
	ReceivedAt  string `json:"received_at"`
	QueueDepth  int    `json:"queue_depth"`
	BacklogSize int    `json:"backlog_size"`
	WorkerCount int    `json:"worker_count"`
}

func NewApp(cfg config.Config, sess *session.Manager, orch *catalog.Orchestrator, st *catalog.Store, up *upload.Manager, n *notify.Notifier) *App {
	return &App{Cfg: cfg, Session: sess, Orch: orch, Store: st, Uploads: up, Notifier: n, started: time.Now()}
}

func (a *App) StartShutdown() {
	a.closing = true
	a.Uploads.CloseIntake()
}

// requireAuthorized gates the admin mutation routes on the session mode.
// Writes the response itself when access is denied.
func (a *App) requireAuthorized(w http.ResponseWriter) bool {
	switch a.Session.Mode() {
	case model.ModeAuthorized:
		return true
	case model.ModeUnauthenticated:
		WriteJSONError(w, http.StatusUnauthorized, "unauthenticated", "sign in first")
	case model.ModeForbidden:
		WriteJSONError(w, http.StatusForbidden, "forbidden", "signed-in user does not own this store")
	default:
		WriteJSONError(w, http.StatusServiceUnavailable, "session_unavailable", string(a.Session.Mode()))
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	err := a.Session.SignIn(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, a.Session.Session())
	case errors.Is(err, session.ErrNotReady):
		WriteJSONError(w, http.StatusServiceUnavailable, "session_unavailable", err.Error())
	case errors.Is(err, identity.ErrRateLimited):
		WriteJSONError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	default:
		// The remaining identity errors are the fixed user-facing texts.
		WriteJSONError(w, http.StatusUnauthorized, "sign_in_failed", err.Error())
	}
}

func (a *App) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	a.Session.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	writeJSON(w, http.StatusOK, a.Session.Session())
}

func (a *App) toastHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	t, ok := a.Notifier.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type formView struct {
	Form      model.FormState `json:"form"`
	EditingID string          `json:"editing_id,omitempty"`
}

func (a *App) currentForm() formView {
	f, id := a.Orch.Form()
	return formView{Form: f, EditingID: id}
}

func (a *App) formHandler(w http.ResponseWriter, r *http.Request) {
	if !a.requireAuthorized(w) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.currentForm())
	case http.MethodPost:
		var u catalog.FormUpdate
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&u); err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		a.Orch.SetForm(u)
		writeJSON(w, http.StatusOK, a.currentForm())
	default:
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
	}
}

func (a *App) formImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if !a.requireAuthorized(w) {
		return
	}
	if a.closing || a.Uploads.IsShuttingDown() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	// An extra megabyte of headroom so the size limit is enforced by
	// validation, not by a parse failure.
	if err := r.ParseMultipartForm(a.Cfg.UploadMaxBytes + 1<<20); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_multipart", err.Error())
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "image file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := a.Uploads.Validate(contentType, header.Size); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_multipart", err.Error())
		return
	}
	seq, ok := a.Uploads.Submit(header.Filename, contentType, data, a.Session.Session().UserID)
	if !ok {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	ac := ack{
		Status:      "accepted",
		RequestID:   RequestIDFromContext(r.Context()),
		Sequence:    seq,
		ReceivedAt:  time.Now().UTC().Format(time.RFC3339),
		QueueDepth:  a.Uploads.QueueDepth(),
		BacklogSize: a.Uploads.BacklogSize(),
		WorkerCount: a.Uploads.WorkerCount(),
	}
	writeJSON(w, http.StatusAccepted, ac)
	obs.Logger.Info("upload_accepted",
		"request_id", ac.RequestID,
		"sequence", ac.Sequence,
		"filename", header.Filename,
		"queue_depth", ac.QueueDepth,
		"backlog_size", ac.BacklogSize,
		"worker_count", ac.WorkerCount,
	)
}

func (a *App) formSubmitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if !a.requireAuthorized(w) {
		return
	}
	p, err := a.Orch.Submit()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, p)
	case errors.Is(err, catalog.ErrProductNotFound):
		WriteJSONError(w, http.StatusNotFound, "not_found", "edited product no longer exists")
	default:
		WriteJSONError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	}
}

func (a *App) formEditHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if !a.requireAuthorized(w) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/admin/form/edit/")
	if id == "" {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	if err := a.Orch.StartEdit(id); err != nil {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, a.currentForm())
}

func (a *App) formCancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if !a.requireAuthorized(w) {
		return
	}
	a.Orch.CancelEdit()
	writeJSON(w, http.StatusOK, a.currentForm())
}

func (a *App) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	q := r.URL.Query()
	products := storefront.FilterProducts(a.Store.List(), storefront.Filter{
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Sort:     q.Get("sort"),
	})
	writeJSON(w, http.StatusOK, products)
}

func (a *App) exportProductsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	e, err := export.NewExporter(r.URL.Query().Get("format"))
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", e.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="products.`+e.Extension()+`"`)
	if err := e.Export(a.Store.List(), w); err != nil {
		obs.Logger.Error("export_failed", "error", err)
	}
}

func (a *App) productHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/products/")
	if id == "" {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	switch r.Method {
	case http.MethodGet:
		p, ok := a.Store.Get(id)
		if !ok {
			WriteJSONError(w, http.StatusNotFound, "not_found", "")
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if !a.requireAuthorized(w) {
			return
		}
		if _, err := a.Orch.Delete(r.Context(), id); err != nil {
			WriteJSONError(w, http.StatusNotFound, "not_found", "")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
	}
}

func (a *App) cartQuoteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var req struct {
		Items []model.CartItem `json:"items"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	quote, err := storefront.Quote(a.Store, req.Items)
	if err != nil {
		WriteJSONError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	enq, proc, backlog, depth := a.Uploads.QueueMetrics()
	m := map[string]any{
		"uploads_enqueued":  enq,
		"uploads_processed": proc,
		"backlog_size":      backlog,
		"queue_depth":       depth,
		"worker_count":      a.Uploads.WorkerCount(),
		"product_count":     a.Store.Len(),
		"session_mode":      a.Session.Mode(),
		"uptime_sec":        time.Since(a.started).Seconds(),
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *App) openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(httpopenapi.YAML)
}

func (a *App) docsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	html := `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui'
      });
    </script>
  </body>
</html>`
	_, _ = w.Write([]byte(html))
}

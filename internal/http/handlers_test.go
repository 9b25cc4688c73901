package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/fairyhunter13/storefront-console/internal/api"
	"github.com/fairyhunter13/storefront-console/internal/catalog"
	"github.com/fairyhunter13/storefront-console/internal/config"
	"github.com/fairyhunter13/storefront-console/internal/identity"
	"github.com/fairyhunter13/storefront-console/internal/model"
	"github.com/fairyhunter13/storefront-console/internal/notify"
	"github.com/fairyhunter13/storefront-console/internal/session"
	"github.com/fairyhunter13/storefront-console/internal/upload"
)

type stubBackend struct {
	owner bool
}

func (s *stubBackend) FetchProviderConfig(ctx context.Context) (api.ProviderConfig, error) {
	return api.ProviderConfig{APIKey: "k", ProjectID: "proj-1"}, nil
}

func (s *stubBackend) VerifyProjectOwner(ctx context.Context, userID, projectID string) (bool, error) {
	return s.owner, nil
}

type stubProvider struct {
	states chan identity.State
}

func (s *stubProvider) SignIn(ctx context.Context, email, password string) error {
	if password == "wrong" {
		return identity.ErrInvalidCredentials
	}
	s.states <- identity.State{SignedIn: true, UserID: "u-1", Email: email}
	return nil
}

func (s *stubProvider) SignOut(ctx context.Context) error {
	s.states <- identity.State{}
	return nil
}

func (s *stubProvider) Subscribe(ctx context.Context) (<-chan identity.State, error) {
	s.states <- identity.State{}
	return s.states, nil
}

type stubKV struct{}

func (stubKV) PutKV(key, value string) error { return nil }
func (stubKV) DeleteKV(key string) error     { return nil }

type stubUploader struct{}

func (stubUploader) UploadProductImage(ctx context.Context, ur api.UploadRequest) (*api.UploadResult, error) {
	return &api.UploadResult{Success: true, DriveURL: "https://drive/img-1", FileID: "f-1"}, nil
}

func setupApp(t *testing.T, owner bool) (*App, http.Handler, func()) {
	t.Helper()
	t.Setenv("PROJECT_ID", "proj-1")
	t.Setenv("TOAST_TTL", "1m")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	store := catalog.NewStore(nil)
	notifier := notify.New(cfg.ToastTTL)
	orch := catalog.NewOrchestrator(store, notifier, nil, cfg.ProjectID)

	q := upload.NewQueue(16)
	mgr := upload.NewManager(cfg, q, upload.NewPipeline(stubUploader{}, orch, cfg.ProjectID, cfg.UploadMaxBytes))
	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	sess := session.New(&stubBackend{owner: owner}, stubKV{}, func(pc api.ProviderConfig) (identity.Provider, error) {
		return &stubProvider{states: make(chan identity.State, 8)}, nil
	}, cfg.ProjectID)
	if err := sess.Initialize(context.Background()); err != nil {
		cancel()
		t.Fatalf("initialize session: %v", err)
	}
	// The initial signed-out state is consumed asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sess.Mode() == model.ModeInitializing {
		time.Sleep(5 * time.Millisecond)
	}

	app := NewApp(cfg, sess, orch, store, mgr, notifier)
	cleanup := func() {
		mgr.Stop()
		cancel()
		sess.Close()
	}
	return app, NewRouter(app), cleanup
}

func doJSON(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func waitAuthorized(t *testing.T, app *App) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if app.Session.Mode() == model.ModeAuthorized {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session mode = %q, want authorized", app.Session.Mode())
}

func signIn(t *testing.T, app *App, mux http.Handler) {
	t.Helper()
	rr := doJSON(t, mux, http.MethodPost, "/admin/login", map[string]string{"email": "owner@shop.test", "password": "pw"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rr.Code, rr.Body.String())
	}
	waitAuthorized(t, app)
}

func TestSessionLifecycle(t *testing.T) {
	app, mux, cleanup := setupApp(t, true)
	defer cleanup()

	// Before sign-in the admin surface is unauthorized.
	if rr := doJSON(t, mux, http.MethodGet, "/admin/form", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 before sign-in, got %d", rr.Code)
	}

	signIn(t, app, mux)
	if rr := doJSON(t, mux, http.MethodGet, "/admin/form", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after sign-in, got %d", rr.Code)
	}

	if rr := doJSON(t, mux, http.MethodPost, "/admin/logout", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", rr.Code)
	}
	if rr := doJSON(t, mux, http.MethodGet, "/admin/form", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	_, mux, cleanup := setupApp(t, true)
	defer cleanup()

	rr := doJSON(t, mux, http.MethodPost, "/admin/login", map[string]string{"email": "a@b.c", "password": "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Invalid email or password") {
		t.Fatalf("expected fixed credential message, got %s", rr.Body.String())
	}
}

func TestNonOwnerIsForbidden(t *testing.T) {
	app, mux, cleanup := setupApp(t, false)
	defer cleanup()

	rr := doJSON(t, mux, http.MethodPost, "/admin/login", map[string]string{"email": "other@x.test", "password": "pw"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d", rr.Code)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if app.Session.Mode() == model.ModeForbidden {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rr := doJSON(t, mux, http.MethodGet, "/admin/form", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestFormSubmitAndListing(t *testing.T) {
	app, mux, cleanup := setupApp(t, true)
	defer cleanup()
	signIn(t, app, mux)

	rr := doJSON(t, mux, http.MethodPost, "/admin/form", map[string]string{
		"name": "Zesty Sauce", "price": "9.50", "category": "Sauces",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("set form: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, mux, http.MethodPost, "/admin/form/submit", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rr.Code, rr.Body.String())
	}
	var p model.Product
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if p.ID == "" || p.Price != 9.5 {
		t.Fatalf("unexpected product: %+v", p)
	}

	rr = doJSON(t, mux, http.MethodGet, "/products?category=sauces", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d", rr.Code)
	}
	var listed []model.Product
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != p.ID {
		t.Fatalf("unexpected listing: %+v", listed)
	}

	rr = doJSON(t, mux, http.MethodGet, "/admin/toast", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "added successfully") {
		t.Fatalf("toast: %d %s", rr.Code, rr.Body.String())
	}
}

func TestFormSubmitValidation(t *testing.T) {
	app, mux, cleanup := setupApp(t, true)
	defer cleanup()
	signIn(t, app, mux)

	doJSON(t, mux, http.MethodPost, "/admin/form", map[string]string{"name": "X", "price": "abc"})
	if rr := doJSON(t, mux, http.MethodPost, "/admin/form/submit", nil); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestEditAndCancel(t *testing.T) {
	app, mux, cleanup := setupApp(t, true)
	defer cleanup()
	signIn(t, app, mux)

	doJSON(t, mux, http.MethodPost, "/admin/form", map[string]string{"name": "Original", "price": "5"})
	rr := doJSON(t, mux, http.MethodPost, "/admin/form/submit", nil)
	var p model.Product
	_ = json.Unmarshal(rr.Body.Bytes(), &p)

	rr = doJSON(t, mux, http.MethodPost, "/admin/form/edit/"+p.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("edit: %d", rr.Code)
	}
	var fv struct {
		Form      model.FormState `json:"form"`
		EditingID string          `json:"editing_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &fv); err != nil {
		t.Fatalf("decode form view: %v", err)
	}
	if fv.EditingID != p.ID || fv.Form.Name != "Original" {
		t.Fatalf("unexpected form view: %+v", fv)
	}

	rr = doJSON(t, mux, http.MethodPost, "/admin/form/cancel", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &fv); err != nil {
		t.Fatalf("decode form view: %v", err)
	}
	if fv.EditingID != "" || fv.Form.Name != "" || !fv.Form.InStock {
		t.Fatalf("form not reset: %+v", fv)
	}

	if rr := doJSON(t, mux, http.MethodPost, "/admin/form/edit/missing", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown edit target, got %d", rr.Code)
	}
}

func multipartImage(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestImageUploadAccepted(t *testing.T) {
	app, mux, cleanup := setupApp(t, true)
	defer cleanup()
	signIn(t, app, mux)

	body, ct := multipartImage(t, "image", "a.png", "image/png", []byte("png-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/admin/form/image", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", rr.Code, rr.Body.String())
	}
	var ac ack
	if err := json.Unmarshal(rr.Body.Bytes(), &ac); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ac.Status != "accepted" || ac.Sequence == 0 || ac.RequestID == "" {
		t.Fatalf("unexpected ack: %+v", ac)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if !app.Uploads.DrainUntil(ctx) {
		t.Fatalf("drain timeout")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f, _ := app.Orch.Form()
		if f.Image == "https://drive/img-1" {
			if f.DriveFileID == nil || *f.DriveFileID != "f-1" {
				t.Fatalf("file reference missing: %+v", f)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	f, _ := app.Orch.Form()
	t.Fatalf("remote image not applied: %+v", f)
}

func TestImageUploadRejectsNonImage(t *testing.T) {
	app, mux, cleanup := setupApp(t, true)
	defer cleanup()
	signIn(t, app, mux)

	body, ct := multipartImage(t, "image", "a.pdf", "application/pdf", []byte("%PDF"))
	req := httptest.NewRequest(http.MethodPost, "/admin/form/image", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestProductDelete(t *testing.T) {
	app, mux, cleanup := setupApp(t, true)
	defer cleanup()
	signIn(t, app, mux)

	doJSON(t, mux, http.MethodPost, "/admin/form", map[string]string{"name": "Doomed", "price": "1"})
	rr := doJSON(t, mux, http.MethodPost, "/admin/form/submit", nil)
	var p model.Product
	_ = json.Unmarshal(rr.Body.Bytes(), &p)

	if rr := doJSON(t, mux, http.MethodDelete, "/products/"+p.ID, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	if rr := doJSON(t, mux, http.MethodDelete, "/products/"+p.ID, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rr.Code)
	}
	if rr := doJSON(t, mux, http.MethodGet, "/admin/toast", nil); !strings.Contains(rr.Body.String(), "has been deleted") {
		t.Fatalf("toast: %s", rr.Body.String())
	}
}

func TestCartQuote(t *testing.T) {
	app, mux, cleanup := setupApp(t, true)
	defer cleanup()
	signIn(t, app, mux)

	doJSON(t, mux, http.MethodPost, "/admin/form", map[string]string{"name": "Sauce", "price": "10"})
	rr := doJSON(t, mux, http.MethodPost, "/admin/form/submit", nil)
	var p model.Product
	_ = json.Unmarshal(rr.Body.Bytes(), &p)

	rr = doJSON(t, mux, http.MethodPost, "/cart/quote", map[string]any{
		"items": []map[string]any{{"product_id": p.ID, "quantity": 2}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("quote: %d %s", rr.Code, rr.Body.String())
	}
	var q model.CartQuote
	if err := json.Unmarshal(rr.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if q.Subtotal != 20 || q.Tax != 1.6 || q.Total != 21.6 || q.Shipping != 0 {
		t.Fatalf("unexpected quote: %+v", q)
	}

	rr = doJSON(t, mux, http.MethodPost, "/cart/quote", map[string]any{
		"items": []map[string]any{{"product_id": "missing", "quantity": 1}},
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestExportFormats(t *testing.T) {
	app, mux, cleanup := setupApp(t, true)
	defer cleanup()
	signIn(t, app, mux)

	doJSON(t, mux, http.MethodPost, "/admin/form", map[string]string{"name": "Sauce", "price": "10"})
	doJSON(t, mux, http.MethodPost, "/admin/form/submit", nil)

	rr := doJSON(t, mux, http.MethodGet, "/products/export?format=yaml", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("yaml export: %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-yaml" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "name: Sauce") {
		t.Fatalf("unexpected yaml body: %s", rr.Body.String())
	}

	if rr := doJSON(t, mux, http.MethodGet, "/products/export?format=csv", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for csv, got %d", rr.Code)
	}
}

func TestShutdownClosesUploadIntake(t *testing.T) {
	app, mux, cleanup := setupApp(t, true)
	defer cleanup()
	signIn(t, app, mux)

	app.StartShutdown()
	body, ct := multipartImage(t, "image", "a.png", "image/png", []byte("png"))
	req := httptest.NewRequest(http.MethodPost, "/admin/form/image", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 during shutdown, got %d", rr.Code)
	}
}

func TestOpenAPIServed(t *testing.T) {
	_, mux, cleanup := setupApp(t, true)
	defer cleanup()
	req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("openapi:")) {
		t.Fatalf("expected openapi content")
	}
}

func TestDocsServed(t *testing.T) {
	_, mux, cleanup := setupApp(t, true)
	defer cleanup()
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "swagger-ui") {
		t.Fatalf("expected swagger-ui in docs body")
	}
}

func TestHealthz(t *testing.T) {
	_, mux, cleanup := setupApp(t, true)
	defer cleanup()
	if rr := doJSON(t, mux, http.MethodGet, "/healthz", nil); rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}
}

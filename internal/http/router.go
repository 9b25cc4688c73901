package httpapi

import (
	"expvar"
	"net/http"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(app *App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/login", app.loginHandler)
	mux.HandleFunc("/admin/logout", app.logoutHandler)
	mux.HandleFunc("/admin/session", app.sessionHandler)
	mux.HandleFunc("/admin/toast", app.toastHandler)
	mux.HandleFunc("/admin/form", app.formHandler)
	mux.HandleFunc("/admin/form/image", app.formImageHandler)
	mux.HandleFunc("/admin/form/submit", app.formSubmitHandler)
	mux.HandleFunc("/admin/form/edit/", app.formEditHandler)
	mux.HandleFunc("/admin/form/cancel", app.formCancelHandler)
	mux.HandleFunc("/products", app.listProductsHandler)
	mux.HandleFunc("/products/export", app.exportProductsHandler)
	mux.HandleFunc("/products/", app.productHandler)
	mux.HandleFunc("/cart/quote", app.cartQuoteHandler)
	mux.HandleFunc("/healthz", app.healthHandler)
	mux.HandleFunc("/debug/metrics", app.metricsHandler)
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/openapi.yaml", app.openapiHandler)
	mux.HandleFunc("/docs", app.docsHandler)
	return WithRequestID(WithLogging(WithRecovery(mux)))
}

package router

import (
	"net/http"
	"strings"

	"github.com/docvivid/backend/internal/handlers"
	"github.com/docvivid/backend/internal/middleware"
)

// New returns an http.Handler that serves the API under /api/v1.
// The payment webhook and the plan listing are unauthenticated; everything
// else sits behind bearer auth, and /admin additionally behind AdminOnly.
func New(
	video *handlers.VideoHandler,
	credit *handlers.CreditHandler,
	webhook *handlers.WebhookHandler,
	authn func(http.Handler) http.Handler,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc(base+"/plans", methodGET(handlers.ListPlans))
	mux.HandleFunc(base+"/webhooks/payment", methodPOST(webhook.HandlePayment))

	authed := http.NewServeMux()
	authed.HandleFunc(base+"/videos", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			video.Submit(w, r)
		case http.MethodGet:
			video.List(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	authed.HandleFunc(base+"/videos/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/cancel"):
			video.Cancel(w, r)
		case r.Method == http.MethodGet:
			video.Get(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	authed.HandleFunc(base+"/credits/balance", methodGET(credit.GetBalance))
	authed.HandleFunc(base+"/credits/transactions", methodGET(credit.ListTransactions))
	authed.HandleFunc(base+"/credits/redeem", methodPOST(credit.Redeem))

	admin := http.NewServeMux()
	admin.HandleFunc(base+"/admin/credits/grant", methodPOST(credit.AdminGrant))
	admin.HandleFunc(base+"/admin/redeem-codes", methodPOST(credit.MintCodes))
	authed.Handle(base+"/admin/", middleware.AdminOnly(admin))

	mux.Handle(base+"/videos", authn(authed))
	mux.Handle(base+"/videos/", authn(authed))
	mux.Handle(base+"/credits/", authn(authed))
	mux.Handle(base+"/admin/", authn(authed))

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

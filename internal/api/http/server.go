package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/opinio/internal/api/dto"
	"github.com/radieske/opinio/internal/auth"
	"github.com/radieske/opinio/internal/contact"
	"github.com/radieske/opinio/internal/ledger"
	"github.com/radieske/opinio/internal/market"
)

// API expõe os endpoints REST de eventos, votos e autenticação
type API struct {
	Log          *zap.Logger
	Market       *market.Service
	Ledger       *ledger.Ledger
	Auth         *auth.Service
	Contact      *contact.Service // opcional; habilita POST /contact
	JWT          auth.JWT
	Cookies      auth.Cookies
	WS           http.Handler      // /ws (opcional)
	Limiter      *auth.RateLimiter // opcional; aplicado aos endpoints de credencial
	AllowOrigins []string
}

// Router retorna o roteador HTTP com os endpoints REST
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(a.cors)
	r.Use(auth.Middleware(a.JWT, a.Cookies.Name))

	if a.WS != nil {
		r.Get("/ws", a.WS.ServeHTTP) // conexão longa, fora do timeout
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))

		r.Route("/events", func(r chi.Router) {
			r.Get("/", a.listEvents)
			r.With(requireUser).Post("/", a.createEvent)
			r.With(requireUser).Get("/user/voted", a.votedEvents)
			r.Get("/{id}", a.getEvent)
			r.With(requireUser).Delete("/{id}", a.deleteEvent)
			r.With(requireUser).Patch("/{id}/vote", a.vote)
			r.With(requireUser).Post("/{id}/resolve", a.resolveEvent)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if a.Limiter != nil {
					r.Use(a.Limiter.Limit)
				}
				r.Post("/signup", a.signup)
				r.Post("/login", a.login)
				r.Post("/forgot-password", a.forgotPassword)
				r.Post("/reset-password/{token}", a.resetPassword)
			})
			r.Post("/logout", a.logout)
			r.With(requireUser).Get("/me", a.me)
			r.With(requireUser).Post("/recharge", a.recharge)
		})

		if a.Contact != nil {
			r.Group(func(r chi.Router) {
				if a.Limiter != nil {
					r.Use(a.Limiter.Limit)
				}
				r.Post("/contact", a.contact)
			})
		}
	})
	return r
}

// requireUser devolve 401 quando não há sessão válida
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.UserID(r.Context()) == "" {
			writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Message: "Unauthorized - no token provided"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog registra método, rota, status e latência de cada requisição
func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.Log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// cors libera as origens configuradas com credenciais (cookie de sessão)
func (a *API) cors(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(a.AllowOrigins))
	for _, o := range a.AllowOrigins {
		allowed[o] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if _, ok := allowed[origin]; ok {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AllowOrigin é usado pelo Hub WebSocket para validar a origem do upgrade
func AllowOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == origin || o == "*" {
				return true
			}
		}
		return false
	}
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON lê o corpo com limite de tamanho; corpo vazio é aceito
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return market.Validationf("invalid JSON body")
	}
	return nil
}

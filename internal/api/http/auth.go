package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/radieske/opinio/internal/api/dto"
	"github.com/radieske/opinio/internal/auth"
)

// forgotPasswordMessage é sempre a mesma, exista ou não a conta
const forgotPasswordMessage = "If your account exists, you will receive an email with reset instructions."

func (a *API) signup(w http.ResponseWriter, r *http.Request) {
	var req dto.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	u, tok, err := a.Auth.Signup(r.Context(), auth.SignupRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.Cookies.Set(w, tok)
	writeJSON(w, http.StatusCreated, dto.AuthResponse{Message: "User created successfully", User: dto.FromUser(u)})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	u, tok, err := a.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.Cookies.Set(w, tok)
	writeJSON(w, http.StatusOK, dto.AuthResponse{Message: "Logged in successfully", User: dto.FromUser(u)})
}

func (a *API) logout(w http.ResponseWriter, _ *http.Request) {
	a.Cookies.Clear(w)
	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: "Logged out successfully"})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	u, err := a.Auth.Me(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromUser(u))
}

func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.Username != "" {
		a.Auth.ForgotPassword(r.Context(), req.Username)
	}
	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: forgotPasswordMessage})
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.Auth.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: "Password reset successful"})
}

// recharge credita a recompensa fixa e devolve o novo saldo
func (a *API) recharge(w http.ResponseWriter, r *http.Request) {
	bal, err := a.Ledger.Recharge(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.RechargeResponse{Message: "Balance recharged", NewBalance: bal.InexactFloat64()})
}

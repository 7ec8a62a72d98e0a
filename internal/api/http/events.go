package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/radieske/opinio/internal/api/dto"
	"github.com/radieske/opinio/internal/auth"
	"github.com/radieske/opinio/internal/market"
)

// listEvents aceita ?status=active|ended
func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := a.Market.ListEvents(r.Context(), market.Status(r.URL.Query().Get("status")))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromEvents(evs))
}

// getEvent retorna o evento com o histórico de preços
func (a *API) getEvent(w http.ResponseWriter, r *http.Request) {
	d, err := a.Market.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromDetail(d))
}

func (a *API) createEvent(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	ev, err := a.Market.CreateEvent(r.Context(), market.CreateEventRequest{
		Question:    req.Question,
		Description: req.Description,
		Category:    req.Category,
		EndingAt:    req.EndingAt.Time,
		CreatedBy:   auth.UserID(r.Context()),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromEvent(ev))
}

func (a *API) votedEvents(w http.ResponseWriter, r *http.Request) {
	vs, err := a.Market.VotedEvents(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromVotedEvents(vs))
}

func (a *API) vote(w http.ResponseWriter, r *http.Request) {
	var req dto.VoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.Market.CastVote(r.Context(), market.VoteRequest{
		UserID:   auth.UserID(r.Context()),
		EventID:  chi.URLParam(r, "id"),
		Side:     market.Side(req.Vote),
		Quantity: req.Quantity,
		IsUpdate: req.IsUpdate,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromVote(res))
}

func (a *API) deleteEvent(w http.ResponseWriter, r *http.Request) {
	actor, err := a.Auth.Me(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.Market.DeleteEvent(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: "Event deleted successfully"})
}

// resolveEvent encerra o evento com o resultado informado (apenas admin)
func (a *API) resolveEvent(w http.ResponseWriter, r *http.Request) {
	var req dto.ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	actor, err := a.Auth.Me(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	ev, err := a.Market.EndEvent(r.Context(), chi.URLParam(r, "id"), market.Side(req.Outcome), actor)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromEvent(ev))
}

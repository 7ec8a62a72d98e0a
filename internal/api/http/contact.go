package httpapi

import (
	"net/http"

	"github.com/radieske/opinio/internal/api/dto"
	"github.com/radieske/opinio/internal/contact"
)

func (a *API) contact(w http.ResponseWriter, r *http.Request) {
	var req dto.ContactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	err := a.Contact.Send(r.Context(), contact.Message{
		Name:    req.Name,
		Email:   req.Email,
		Subject: req.Subject,
		Body:    req.Message,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: "Message sent successfully!"})
}

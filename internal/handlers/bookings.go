package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetBooking returns a booking to its payer or trainer.
func (h *RPCHandler) GetBooking() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "getBooking"
		c, err := caller(r)
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}

		b, err := h.Bookings.Get(r.Context(), chi.URLParam(r, "id"), c.ID)
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

package order

import (
	"net/http"

	"github.com/aquamarinepk/aqm"

	"github.com/appetiteclub/delivery/pkg/actor"
)

// authenticate resolves the bearer credential into an actor on the request
// context. Requests without a valid credential never reach a handler.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := actor.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			aqm.RespondError(w, http.StatusUnauthorized, "Missing or invalid token")
			return
		}

		a, err := actor.ParseToken(token, h.jwtSecret)
		if err != nil {
			h.log(r).Debug("rejected credential", "error", err)
			aqm.RespondError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), a)))
	})
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (actor.Actor, bool) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		aqm.RespondError(w, http.StatusUnauthorized, "Missing actor")
		return actor.Actor{}, false
	}
	return a, true
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nollettan-menu/models"
	"nollettan-menu/services"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleGetMenu(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Snapshot())
}

type todayResponse struct {
	Day      string                     `json:"day"`
	Found    bool                       `json:"found"`
	Meals    []models.WeeklyMeal        `json:"meals"`
	Pricing  models.LunchPricing        `json:"pricing"`
	Included []models.LunchIncludedItem `json:"included"`
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	now := s.deps.Now().In(s.cfg.Location)
	m := s.deps.Engine.Snapshot()
	day, ok := services.TodaysMenu(m, now)
	resp := todayResponse{
		Day:      day.Day,
		Found:    ok,
		Meals:    day.Meals,
		Pricing:  m.LunchPricing,
		Included: m.LunchIncluded,
	}
	if resp.Meals == nil {
		resp.Meals = []models.WeeklyMeal{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePutMenu(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, services.CodeSessionExpired, "missing bearer token")
		return
	}
	var snap models.MenuSnapshot
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid menu JSON: "+err.Error())
		return
	}
	if err := s.deps.Engine.SaveWithRetry(r.Context(), token, snap); err != nil {
		writeError(w, statusForSyncError(err), services.ErrorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Engine.Snapshot())
}

// statusForSyncError maps failure codes to HTTP statuses.
func statusForSyncError(err error) int {
	switch services.ErrorCode(err) {
	case services.CodeSessionExpired:
		return http.StatusUnauthorized
	case services.CodeNotAdmin:
		return http.StatusForbidden
	case services.CodeInvalidSnapshot:
		return http.StatusUnprocessableEntity
	case services.CodeTimeout:
		return http.StatusGatewayTimeout
	case services.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if s.deps.Accounts == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "sign-in is not configured")
		return
	}
	var req signInRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON")
		return
	}
	sess, err := s.deps.Accounts.SignIn(r.Context(), req.Email, req.Password)
	var throttled *services.ThrottledError
	switch {
	case errors.As(err, &throttled):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(throttled.Wait.Seconds()))))
		writeError(w, http.StatusTooManyRequests, "THROTTLED", err.Error())
		return
	case errors.Is(err, services.ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, "BAD_CREDENTIALS", err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Msg("sign in")
		writeError(w, http.StatusInternalServerError, "SIGN_IN_FAILED", "sign-in failed")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" || s.deps.Accounts == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.deps.Accounts.SignOut(r.Context(), token); err != nil {
		s.log.Error().Err(err).Msg("sign out")
		writeError(w, http.StatusInternalServerError, "SIGN_OUT_FAILED", "sign-out failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "menuId": s.deps.Engine.MenuID()}
	if s.deps.Pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.Pinger.Ping(ctx); err != nil {
			body["status"] = "unavailable"
			body["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

package handlers

import (
	"context"
	"net/http"
	"strings"

	"social-app/internal/auth"
	"social-app/internal/models"
	"social-app/pkg/logger"

	"github.com/goccy/go-json"
)

const bearerProtocolPrefix = "bearer."

type principalKey struct{}

// PrincipalFrom returns the principal attached by RequireAuth.
func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(models.Principal)
	return p, ok
}

// RequireAuth authenticates the request bearer token and attaches the principal.
func RequireAuth(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _ := tokenFromRequest(r)
			principal, err := authService.Authenticate(r.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
		})
	}
}

// tokenFromRequest looks for a bearer token in the Authorization header, the
// token query parameter, then a "bearer.<token>" websocket subprotocol. The
// matched subprotocol is returned so the upgrade can echo it.
func tokenFromRequest(r *http.Request) (token, subprotocol string) {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:]), ""
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, ""
	}
	for _, proto := range websocketProtocols(r) {
		if strings.HasPrefix(proto, bearerProtocolPrefix) {
			return strings.TrimPrefix(proto, bearerProtocolPrefix), proto
		}
	}
	return "", ""
}

func websocketProtocols(r *http.Request) []string {
	var out []string
	for _, h := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(h, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindAuthentication:
		return http.StatusUnauthorized
	case models.KindAuthorization:
		return http.StatusForbidden
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	e := models.Classify(err)
	status := statusFor(e.Kind)
	if status >= http.StatusInternalServerError {
		logger.Errorw().Err(err).Str("code", e.Code).Msg("request failed")
	}
	body := models.NewErrorBody(err, "")
	writeJSON(w, status, errorResponse{Error: body.Code, Message: body.Message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response: %v", err)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &models.Error{Kind: models.KindValidation, Code: "invalid_request", Message: "invalid request body", Err: err}
	}
	return nil
}

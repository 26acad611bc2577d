package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jrsteele09/go-oidc-gateway/sessions"
)

const (
	// sessionCookieName is the cookie binding a browser to its server-side
	// session record.
	sessionCookieName = "oidc_session_id"

	contentTypeJSON = "application/json"
)

// sessionCookieMaxAge mirrors the session record's lifetime in the store.
var sessionCookieMaxAge = int(sessions.DefaultSessionTTL / time.Second)

// sessionID reads the session cookie; empty string when absent.
func sessionID(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   sessionCookieMaxAge,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func writeJSONError(w http.ResponseWriter, errorMsg, description string, statusCode int) {
	body := map[string]string{"error": errorMsg}
	if description != "" {
		body["description"] = description
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

package auth

import (
	"net/http"
	"strings"
)

// ExtractToken returns the bearer credential of a request. The "token"
// query parameter wins over an "Authorization: Bearer" header.
func ExtractToken(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		if token = strings.TrimSpace(token); token != "" {
			return token, nil
		}
	}
	return "", ErrMissingToken
}

// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package apihttp

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
)

// AuthMiddleware rejects any request not carrying a valid
// "Authorization: Basic base64(user:secret)" header matching secret,
// skipping paths in skipPaths (health checks). Username is forwarded
// downstream via X-Auth-Username for logging.
func AuthMiddleware(secret string, skipPaths map[string]bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			slog.Warn("missing auth header", "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "missing authentication header", "")
			return
		}

		username, gotSecret := decodeBasicAuth(authHeader)
		if gotSecret != secret {
			slog.Warn("invalid auth secret", "username", username, "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "invalid credentials", "")
			return
		}

		r.Header.Set("X-Auth-Username", username)
		next.ServeHTTP(w, r)
	})
}

func decodeBasicAuth(header string) (username, secret string) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", ""
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", ""
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

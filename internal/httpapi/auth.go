package httpapi

import (
	"net/http"
	"strings"
)

const operatorHeader = "X-Operator-ID"

func operatorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(operatorHeader))
}

// requireOperator rejects mutating requests that do not identify the
// operator driving the scan station.
func requireOperator(w http.ResponseWriter, r *http.Request) (string, bool) {
	operator := operatorID(r)
	if operator == "" {
		writeError(w, http.StatusUnauthorized, "missing_operator", "X-Operator-ID header is required")
		return "", false
	}
	return operator, true
}

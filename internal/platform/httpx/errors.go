package httpx

import (
	"net/http"

	"github.com/odyssey-erp/audithub/internal/shared"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind shared.Kind) int {
	switch kind {
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindAuthorization:
		return http.StatusForbidden
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindConflict, shared.KindDuplicate, shared.KindSequence:
		return http.StatusConflict
	case shared.KindPrecondition:
		return http.StatusPreconditionFailed
	case shared.KindSourceData, shared.KindSnapshot:
		return http.StatusServiceUnavailable
	case shared.KindIntegrity, shared.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps tagged domain errors to RFC7807 responses. Untagged errors
// never leak their message.
func RespondError(w http.ResponseWriter, err error) {
	kind := shared.KindOf(err)
	status := StatusFor(kind)
	detail := err.Error()
	if kind == shared.KindInternal {
		detail = ""
	}
	writeProblem(w, ProblemDetail{
		Type:   "urn:audithub:error:" + string(kind),
		Title:  http.StatusText(status),
		Status: status,
		Kind:   string(kind),
		Module: shared.ModuleOf(err),
		Detail: detail,
	})
}

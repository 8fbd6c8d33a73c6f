package web

import (
	stderrors "errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gautam20feb/jupyterhub/internal/platform/errors"
)

type errorView struct {
	Status  int
	Reason  string
	Message string
}

// StatusFor maps an error to the HTTP status its page should carry.
func StatusFor(err error) int {
	var domainErr *errors.Error
	if stderrors.As(err, &domainErr) {
		return domainErr.Code.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// RenderError writes an HTML error page for status. The reason line prefers
// the structured error's Reason over the standard status phrase, and a
// status-specific template (e.g. 404.html) is used when one exists, falling
// back to the generic error page. Rendering never propagates a failure to
// the caller: this is the last boundary before the response.
func RenderError(w http.ResponseWriter, status int, cause error) {
	view := errorView{
		Status: status,
		Reason: http.StatusText(status),
	}
	var domainErr *errors.Error
	switch {
	case stderrors.As(cause, &domainErr):
		if domainErr.Reason != "" {
			view.Reason = domainErr.Reason
		}
		view.Message = domainErr.Message
	case cause != nil:
		view.Message = cause.Error()
	}

	name := fmt.Sprintf("%d.html", status)
	if templates.Lookup(name) == nil {
		name = "error.html"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, view); err != nil {
		log.Printf("render %s: %v", name, err)
	}
}

package inbound

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/herohooks/pkg/contextkeys"
	"github.com/platinummonkey/herohooks/pkg/httputil"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/sirupsen/logrus"
)

// AcknowledgeHandler answers 200 {"status": "processed"} for a verified
// webhook. It is the terminal handler when no business handler is mounted.
func AcknowledgeHandler(logger logrus.FieldLogger) http.Handler {
	logger = observability.OrNop(logger)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		eventID := EventIDFromContext(r.Context())
		logger.WithFields(logrus.Fields{
			"event_id":   eventID,
			"path":       r.URL.Path,
			"request_id": observability.GetRequestID(r.Context()),
			"tenant_id":  contextkeys.GetTenant(r.Context()),
		}).Info("Inbound webhook accepted")

		_ = httputil.WriteSuccess(w, map[string]string{
			"status":   "processed",
			"event_id": eventID,
		})
	})
}

// RegisterRoutes mounts POST /webhooks/{name} for each guard, wrapping
// handler (AcknowledgeHandler when nil)
func RegisterRoutes(router *mux.Router, guards map[string]*Guard, handler http.Handler, logger logrus.FieldLogger) {
	if handler == nil {
		handler = AcknowledgeHandler(logger)
	}
	for name, guard := range guards {
		router.Handle("/webhooks/"+name, guard.Wrap(handler)).Methods(http.MethodPost)
	}
}

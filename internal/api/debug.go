package api

import (
	"net/http"

	"github.com/JakeFAU/crawler-sentinel/internal/classifier"
	"github.com/JakeFAU/crawler-sentinel/internal/reqinfo"
)

type debugResponse struct {
	UserAgent      string `json:"user_agent"`
	XForwardedFor  string `json:"x_forwarded_for"`
	IPAddress      string `json:"ip_address"`
	Classification string `json:"classification"`
}

// debugMiddleware answers requests carrying param with the resolved request attributes
// instead of the page. Such requests are not passed on to detection.
func debugMiddleware(param string, cls *classifier.Classifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !r.URL.Query().Has(param) {
				next.ServeHTTP(w, r)
				return
			}
			ua := reqinfo.UserAgent(r)
			w.Header().Set("Cache-Control", "no-store")
			writeJSON(w, http.StatusOK, debugResponse{
				UserAgent:      ua,
				XForwardedFor:  r.Header.Get("X-Forwarded-For"),
				IPAddress:      reqinfo.ClientIP(r),
				Classification: string(cls.Classify(ua)),
			})
		})
	}
}

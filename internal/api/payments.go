package api

import (
	"html/template"
	"net/http"

	"github.com/rajasatyajit/EstateHub/internal/billing"
	"github.com/rajasatyajit/EstateHub/internal/logger"
	"github.com/rajasatyajit/EstateHub/internal/upgrade"
)

// callbackHandler serves a server-to-server channel. The gateway always gets
// its protocol's acknowledgement, whatever the outcome.
func (h *Handler) callbackHandler(ch billing.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := h.provider(r)
		if !ok {
			h.writeErrorResponse(w, r, http.StatusNotFound, "unknown gateway")
			return
		}

		n, err := provider.ParseRequest(r, ch)
		if err != nil {
			logger.WithContext(r.Context()).Warn("Unreadable gateway callback",
				"gateway", provider.Name(), "channel", ch, "error", err)
			n = billing.Notification{Gateway: provider.Name(), Channel: ch}
			provider.WriteAck(w, n, billing.OutcomeMalformed)
			return
		}

		res := h.deps.Processor.Process(r.Context(), provider, n)
		provider.WriteAck(w, n, res.Outcome)
	}
}

// returnHandler serves the payer's browser coming back from the gateway
func (h *Handler) returnHandler(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(r)
	if !ok {
		h.writeErrorResponse(w, r, http.StatusNotFound, "unknown gateway")
		return
	}

	n, err := provider.ParseRequest(r, billing.ChannelReturn)
	if err != nil {
		h.renderReturn(w, r, http.StatusBadRequest, upgrade.Result{Outcome: billing.OutcomeMalformed})
		return
	}

	res := h.deps.Processor.Process(r.Context(), provider, n)
	status := http.StatusOK
	if res.Outcome == billing.OutcomeVerificationFailed {
		status = http.StatusBadRequest
	}
	h.renderReturn(w, r, status, res)
}

type returnPage struct {
	Title    string
	Message  string
	OrderRef string
	Plan     string
	Success  bool
}

func returnPageFor(res upgrade.Result) returnPage {
	p := returnPage{OrderRef: res.OrderRef}
	switch res.Outcome {
	case billing.OutcomeApplied, billing.OutcomeSkipped:
		p.Success = true
		p.Title = "Payment successful"
		p.Message = "Your purchase is active on your account."
	case billing.OutcomeInProgress, billing.OutcomeRetry:
		p.Success = true
		p.Title = "Payment received"
		p.Message = "We are confirming your payment. Your account will update in a few minutes."
	case billing.OutcomeDeclined:
		p.Title = "Payment not completed"
		p.Message = "The payment was cancelled or declined. You have not been charged."
	default:
		p.Title = "We could not confirm this payment"
		p.Message = "If you were charged, contact support with the reference below."
	}
	if res.Order.Plan.Valid() {
		p.Plan = string(res.Order.Plan)
	}
	return p
}

var returnTemplate = template.Must(template.New("return").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} | EstateHub</title>
</head>
<body>
<main class="{{if .Success}}success{{else}}failure{{end}}">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{- if .Plan}}
<p>Plan: <strong>{{.Plan}}</strong></p>
{{- end}}
{{- if .OrderRef}}
<p>Reference: <code>{{.OrderRef}}</code></p>
{{- end}}
<p><a href="/">Back to EstateHub</a></p>
</main>
</body>
</html>
`))

func (h *Handler) renderReturn(w http.ResponseWriter, r *http.Request, status int, res upgrade.Result) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := returnTemplate.Execute(w, returnPageFor(res)); err != nil {
		logger.WithContext(r.Context()).Error("Failed to render return page", "error", err)
	}
}

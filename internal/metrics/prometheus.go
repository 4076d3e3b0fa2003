package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Finalize outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeCancel    = "cancel"
	OutcomeError     = "error"
	OutcomeNoMatch   = "no_match"
	OutcomeDuplicate = "duplicate"
)

// Webhook results.
const (
	WebhookDelivered = "delivered"
	WebhookRejected  = "rejected"
	WebhookFailed    = "failed"
)

// Counters are created eagerly so packages can use them before (or without)
// registration, e.g. in tests.
var (
	OnboardInitiatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_onboard_initiated_total",
		Help: "Total number of onboarding initiations, by result type.",
	}, []string{"type"})
	OnboardFinalizedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_onboard_finalized_total",
		Help: "Total number of onboarding finalizations, by outcome.",
	}, []string{"outcome"})
	WebhookCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_webhook_calls_total",
		Help: "Total number of partner webhook calls, by result.",
	}, []string{"result"})
	AuditErrorsLoggedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_audit_errors_logged_total",
		Help: "Total number of error records written to the bridge account.",
	})
	PluginHookFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_plugin_hook_failures_total",
		Help: "Total number of failed plugin new-user hooks, by plugin.",
	}, []string{"plugin"})
	StatusChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_user_status_changes_total",
		Help: "Total number of user activation changes, by new state.",
	}, []string{"active"})
)

// Register registers the bridge metrics with reg.
// It should be called once at application startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	collectors := map[string]prometheus.Collector{
		"OnboardInitiatedTotal":   OnboardInitiatedTotal,
		"OnboardFinalizedTotal":   OnboardFinalizedTotal,
		"WebhookCallsTotal":       WebhookCallsTotal,
		"AuditErrorsLoggedTotal":  AuditErrorsLoggedTotal,
		"PluginHookFailuresTotal": PluginHookFailuresTotal,
		"StatusChangesTotal":      StatusChangesTotal,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msgf("Failed to register %s metric", name)
		}
	}
}

// Package metrics holds the Prometheus collectors of the research engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLMCalls counts provider calls by provider and result ("ok" or "error").
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kresearch",
		Name:      "llm_calls_total",
		Help:      "LLM provider calls by provider and result.",
	}, []string{"provider", "result"})

	CredentialFailovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kresearch",
		Name:      "credential_failovers_total",
		Help:      "Times a failed call was retried with the next credential.",
	}, []string{"provider"})

	Iterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kresearch",
		Name:      "iterations_total",
		Help:      "Completed worker/verifier cycles by research mode.",
	}, []string{"mode"})

	PolicyOverrides = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kresearch",
		Name:      "policy_overrides_total",
		Help:      "Iteration policy decisions that contradicted the manager.",
	}, []string{"kind"})

	// Runs counts runs reaching complete, failed or paused.
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kresearch",
		Name:      "runs_total",
		Help:      "Runs by the state they stopped in.",
	}, []string{"state"})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kresearch",
		Name:      "active_runs",
		Help:      "Runs currently executing.",
	})
)

// Package metrics holds Prometheus instruments that are used across the
// redirect pipeline.  All collectors are registered with the global registry,
// so importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RedirectMatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "redirect_match_total",
			Help: "Cumulative number of requests matched to a redirect rule.",
		})

	RedirectServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redirect_served_total",
			Help: "Cumulative number of redirect responses, by status code.",
		}, []string{"code"})

	RedirectLoopTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redirect_loop_total",
			Help: "Cumulative number of requests refused by the loop guard, by caller class.",
		}, []string{"bot"})

	UsageWriteErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "redirect_usage_write_errors_total",
			Help: "Cumulative number of failed hit-counter updates.",
		})
)

func init() {
	prometheus.MustRegister(
		RedirectMatchTotal,
		RedirectServedTotal,
		RedirectLoopTotal,
		UsageWriteErrorsTotal,
	)
}

package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uvdm",
		Subsystem: "license",
		Name:      "verifications_total",
		Help:      "License verification outcomes by status.",
	}, []string{"status"})

	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uvdm",
		Subsystem: "webhook",
		Name:      "received_total",
		Help:      "Webhook dispatch outcomes by provider and result.",
	}, []string{"provider", "result"})
)

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ticksCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "controller_scheduler_ticks_total",
	Help: "counter of controller job ticks, by catalog type and outcome",
}, []string{"type", "outcome"})

var queueDepthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "controller_scheduler_due_jobs",
	Help: "gauge of controller jobs currently due to run, as observed at the start of each tick",
}, []string{})

package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paysettle_settlements_total",
	Help: "Settlement operations by operation and result code",
}, []string{"operation", "result"})

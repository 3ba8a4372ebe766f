// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package health

import "github.com/luxfi/metric"

type healthMetrics struct {
	failing     metric.Gauge
	checkFailed metric.GaugeVec
	runs        metric.Counter
}

func newMetrics(namespace string, registry metric.Registry) (*healthMetrics, error) {
	metricsInstance := metric.NewWithRegistry(namespace, registry)
	return &healthMetrics{
		failing: metricsInstance.NewGauge(
			"checks_failing",
			"number of currently failing health checks",
		),
		checkFailed: metricsInstance.NewGaugeVec(
			"check_failed",
			"1 if the named check failed on its last run",
			[]string{"check"},
		),
		runs: metricsInstance.NewCounter(
			"runs",
			"number of times the checks were run",
		),
	}, nil
}

func (m *healthMetrics) observe(name string, failed bool) {
	value := 0.0
	if failed {
		value = 1
	}
	m.checkFailed.WithLabelValues(name).Set(value)
}

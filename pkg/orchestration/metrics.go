// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestration

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts scenario outcomes.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the scenario collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "provcheck",
			Subsystem: "scenario",
			Name:      "runs_total",
			Help:      "Scenarios run, by outcome.",
		}, []string{"scenario", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "provcheck",
			Subsystem: "scenario",
			Name:      "duration_seconds",
			Help:      "Duration of a scenario, teardown included.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"scenario"}),
	}

	for _, c := range []prometheus.Collector{m.outcomes, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(scenario, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(scenario, status).Inc()
	m.duration.WithLabelValues(scenario).Observe(d.Seconds())
}

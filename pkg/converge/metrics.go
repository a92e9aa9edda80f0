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

package converge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records convergence attempts and durations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the convergence collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "provcheck",
			Subsystem: "convergence",
			Name:      "attempts_total",
			Help:      "Number of remote queries issued while waiting for convergence.",
		}, []string{"wait"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "provcheck",
			Subsystem: "convergence",
			Name:      "duration_seconds",
			Help:      "Time spent waiting for convergence.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"wait", "converged"}),
	}

	for _, c := range []prometheus.Collector{m.attempts, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observeAttempt(name string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(name).Inc()
}

func (m *Metrics) observeDone(name string, elapsed time.Duration, converged bool) {
	if m == nil {
		return
	}
	label := "false"
	if converged {
		label = "true"
	}
	m.duration.WithLabelValues(name, label).Observe(elapsed.Seconds())
}

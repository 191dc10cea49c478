//go:build linux && (amd64 || arm64)

/*
 *
 * Copyright 2025 ItJustWorksTM
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package tower

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	handshakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastipc_tower_handshakes_total",
		Help: "Completed handshakes by requester type.",
	}, []string{"requester"})

	handshakeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastipc_tower_handshake_errors_total",
		Help: "Handshakes dropped without a reply, by failure stage.",
	}, []string{"reason"})

	channelsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fastipc_tower_channels",
		Help: "Live channel segments owned by the tower.",
	})
)

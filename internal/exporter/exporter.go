// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package exporter publishes decoded register values as Prometheus metrics.
package exporter

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ffutop/modbus-dispenser/internal/dispenser"
	"github.com/ffutop/modbus-dispenser/internal/register"
)

// Exporter is a dispenser.Observer backed by its own registry.
type Exporter struct {
	registry *prometheus.Registry

	values    *prometheus.GaugeVec
	updated   *prometheus.GaugeVec
	status    prometheus.Gauge
	connected prometheus.Gauge
	messages  prometheus.Counter
}

var _ dispenser.Observer = (*Exporter)(nil)

// New creates an Exporter with all metrics registered.
func New() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispenser_register_value",
			Help: "Last decoded numeric value of a polled register.",
		}, []string{"register"}),
		updated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispenser_register_updated_timestamp_seconds",
			Help: "Unix time of the last successful read of a register.",
		}, []string{"register"}),
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispenser_device_status",
			Help: "Device status code (0 waiting, 10 ready, 20 dispensing, 30 paused, 40 ready after pause, 50 full, 60 error).",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispenser_connected",
			Help: "1 while the transport to the device is open.",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispenser_log_messages_total",
			Help: "Session log messages emitted.",
		}),
	}
	e.registry.MustRegister(e.values, e.updated, e.status, e.connected, e.messages)
	return e
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) OnDecodedValue(name string, v register.Value) {
	n, ok := v.Number()
	if !ok {
		return
	}
	if v.Type == register.StatusCode {
		e.status.Set(n)
	}
	e.values.WithLabelValues(name).Set(n)
	e.updated.WithLabelValues(name).SetToCurrentTime()
}

func (e *Exporter) OnLogMessage(text string) {
	e.messages.Inc()
}

func (e *Exporter) OnConnectionStateChanged(s dispenser.State) {
	if s == dispenser.Connected {
		e.connected.Set(1)
		return
	}
	e.connected.Set(0)
}

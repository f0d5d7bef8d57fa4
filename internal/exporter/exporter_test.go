// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package exporter

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ffutop/modbus-dispenser/internal/dispenser"
	"github.com/ffutop/modbus-dispenser/internal/register"
)

func TestExporter_Values(t *testing.T) {
	e := New()
	e.OnConnectionStateChanged(dispenser.Connected)
	e.OnDecodedValue("deviceStatus", register.Value{Name: "deviceStatus", Type: register.StatusCode, Status: register.StatusDispensing})
	e.OnDecodedValue("totalVolume", register.Value{Name: "totalVolume", Type: register.ASCII, Text: "00001234.567"})
	e.OnDecodedValue("density", register.Value{Name: "density", Type: register.Float32, Float: 0.5})
	e.OnDecodedValue("raw", register.Value{Name: "raw", Type: register.RawHex, Text: "0A FF"})
	e.OnLogMessage("Connected")

	if got := testutil.ToFloat64(e.status); got != 20 {
		t.Errorf("status = %v, want 20", got)
	}
	if got := testutil.ToFloat64(e.connected); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(e.values.WithLabelValues("totalVolume")); got != 1234.567 {
		t.Errorf("totalVolume = %v", got)
	}
	if got := testutil.ToFloat64(e.values.WithLabelValues("density")); got != 0.5 {
		t.Errorf("density = %v", got)
	}
	if got := testutil.CollectAndCount(e.values); got != 3 {
		t.Errorf("%d register series, want 3", got)
	}

	e.OnConnectionStateChanged(dispenser.Disconnected)
	if got := testutil.ToFloat64(e.connected); got != 0 {
		t.Errorf("connected = %v, want 0", got)
	}
}

func TestExporter_Handler(t *testing.T) {
	e := New()
	e.OnDecodedValue("deviceId", register.Value{Name: "deviceId", Type: register.UInt16, Uint: 3349})

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `dispenser_register_value{register="deviceId"} 3349`) {
		t.Fatalf("metrics output missing deviceId:\n%s", body)
	}
}

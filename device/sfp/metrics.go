package sfp

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the telemetry gauges of one tool run. The registry is written
// to a node-exporter textfile rather than served.
type Metrics struct {
	Registry *prometheus.Registry

	temperature  *prometheus.GaugeVec
	voltage      *prometheus.GaugeVec
	rxPower      *prometheus.GaugeVec
	txPower      *prometheus.GaugeVec
	laserCurrent *prometheus.GaugeVec
	txDisabled   *prometheus.GaugeVec
	state        *prometheus.GaugeVec
}

var metricLabels = []string{"device", "sfp"}

func newGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pdt",
		Subsystem: "sfp",
		Name:      name,
		Help:      help,
	}, metricLabels)
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry:     prometheus.NewRegistry(),
		temperature:  newGauge("temperature_celsius", "Calibrated SFP temperature"),
		voltage:      newGauge("supply_voltage_volts", "Calibrated SFP supply voltage"),
		rxPower:      newGauge("rx_power_microwatts", "Calibrated SFP receive power"),
		txPower:      newGauge("tx_power_microwatts", "Calibrated SFP transmit power"),
		laserCurrent: newGauge("laser_bias_milliamps", "Calibrated SFP laser bias current"),
		txDisabled:   newGauge("tx_disabled", "Soft TX_DISABLE register state"),
		state:        newGauge("state", "0 unreachable, 1 DDM unsupported, 2 address change needed, 3 controllable"),
	}
	m.Registry.MustRegister(m.temperature, m.voltage, m.rxPower, m.txPower, m.laserCurrent, m.txDisabled, m.state)
	return m
}

func (m *Metrics) Observe(device string, sfpNumber int, s *Status) {
	l := prometheus.Labels{"device": device, "sfp": strconv.Itoa(sfpNumber)}
	m.state.With(l).Set(float64(s.State))
	if s.Telemetry != nil {
		m.temperature.With(l).Set(s.Telemetry.Temperature)
		m.voltage.With(l).Set(s.Telemetry.Voltage)
		m.rxPower.With(l).Set(s.Telemetry.RxPower)
		m.txPower.With(l).Set(s.Telemetry.TxPower)
		m.laserCurrent.With(l).Set(s.Telemetry.LaserCurrent)
	}
	if s.Tx != nil {
		m.txDisabled.With(l).Set(float64(b2i(s.Tx.RegDisabled)))
	}
}

func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

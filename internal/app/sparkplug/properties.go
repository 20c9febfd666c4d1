package sparkplug

import (
	"time"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

// Node property metric names carried in NBIRTH.
const (
	MetricHardwareMake    = "Properties/Hardware Make"
	MetricOS              = "Properties/OS"
	MetricOSVersion       = "Properties/OS Version"
	MetricBootTime        = "Device/Boot Time"
	MetricFirmwareVersion = "Device/Firmware/Version"
	MetricFirmwareDate    = "Device/Firmware/Last Updated"
	MetricMACAddress      = "Device/Network/Mac Address"
	MetricLocationLat     = "Device/Location/Lat"
	MetricLocationLong    = "Device/Location/Long"
	MetricLocationSource  = "Device/Location/Source"
)

// PropertiesConfig holds the node properties an operator sets by hand.
// Anything left empty is detected from the host where possible.
type PropertiesConfig struct {
	HardwareMake    string    `yaml:"hardware_make"`
	FirmwareVersion string    `yaml:"firmware_version"`
	FirmwareDate    time.Time `yaml:"firmware_date"`
	Location        *Location `yaml:"location"`
}

type Location struct {
	Lat    float64 `yaml:"lat"`
	Long   float64 `yaml:"long"`
	Source string  `yaml:"source"`
}

// NodeProperties describe the edge node itself. Zero fields are not announced.
type NodeProperties struct {
	HardwareMake    string
	OS              string
	OSVersion       string
	BootTime        time.Time
	FirmwareVersion string
	FirmwareDate    time.Time
	MACAddress      string
	Location        *Location
}

// Metrics renders the properties as birth metrics stamped with ts.
func (p NodeProperties) Metrics(ts time.Time) []ports.Metric {
	var out []ports.Metric
	text := func(name, v string) {
		if v != "" {
			out = append(out, ports.Metric{Name: name, Type: domain.DataTypeString, Value: domain.StringValue(v), Timestamp: ts})
		}
	}
	date := func(name string, v time.Time) {
		if !v.IsZero() {
			out = append(out, ports.Metric{Name: name, Type: domain.DataTypeDateTime, Value: domain.NumberValue(float64(v.UnixMilli())), Timestamp: ts})
		}
	}

	text(MetricHardwareMake, p.HardwareMake)
	text(MetricOS, p.OS)
	text(MetricOSVersion, p.OSVersion)
	date(MetricBootTime, p.BootTime)
	text(MetricFirmwareVersion, p.FirmwareVersion)
	date(MetricFirmwareDate, p.FirmwareDate)
	text(MetricMACAddress, p.MACAddress)
	if l := p.Location; l != nil {
		out = append(out,
			ports.Metric{Name: MetricLocationLat, Type: domain.DataTypeDouble, Value: domain.NumberValue(l.Lat), Timestamp: ts},
			ports.Metric{Name: MetricLocationLong, Type: domain.DataTypeDouble, Value: domain.NumberValue(l.Long), Timestamp: ts},
		)
		text(MetricLocationSource, l.Source)
	}
	return out
}

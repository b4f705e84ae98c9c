package sim

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iio-remote/iiod-go/pkg/model"
)

// Config describes the simulated context.
type Config struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Attrs       map[string]string `yaml:"attrs"`
	Devices     []DeviceConfig    `yaml:"devices"`

	// Logger is used for debug logging. If nil, logging is disabled.
	Logger *slog.Logger `yaml:"-"`
}

// DeviceConfig describes one simulated device.
type DeviceConfig struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Label       string            `yaml:"label"`
	Attrs       map[string]string `yaml:"attrs"`
	DebugAttrs  map[string]string `yaml:"debug_attrs"`
	BufferAttrs map[string]string `yaml:"buffer_attrs"`
	Channels    []ChannelConfig   `yaml:"channels"`

	// Trigger is the ID of the trigger initially associated.
	Trigger string `yaml:"trigger"`

	// SampleRate throttles input buffers, in samples per second. Zero
	// produces samples as fast as they are asked for.
	SampleRate float64 `yaml:"sample_rate"`

	// EventInterval makes the device emit an event periodically while an
	// event stream is open. Zero disables it.
	EventInterval time.Duration `yaml:"event_interval"`
}

// ChannelConfig describes one simulated channel.
type ChannelConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Output bool   `yaml:"output"`

	// Index is the scan index. Channels without one cannot be streamed.
	Index *int `yaml:"index"`

	// Format is the scan-element data format, e.g. "le:s12/16>>0".
	Format string            `yaml:"format"`
	Scale  *float64          `yaml:"scale"`
	Attrs  map[string]string `yaml:"attrs"`
}

// LoadConfig reads a YAML context description.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML context description.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("sim: parse config: %w", err)
	}
	return &cfg, nil
}

func intp(i int) *int { return &i }

// DefaultConfig returns a small context: a four channel ADC with a
// timestamp, a two channel DAC and a trigger.
func DefaultConfig() *Config {
	adcFormat := "le:s12/16>>0"
	return &Config{
		Name:        "sim",
		Description: "simulated IIO context",
		Attrs:       map[string]string{"hw_model": "iiod-go simulator"},
		Devices: []DeviceConfig{
			{
				ID:          "iio:device0",
				Name:        "sim-adc",
				Attrs:       map[string]string{"sampling_frequency": "1000"},
				DebugAttrs:  map[string]string{"direct_reg_access": "0x0"},
				BufferAttrs: map[string]string{"length_align_bytes": "8", "watermark": "1"},
				Channels: []ChannelConfig{
					{ID: "voltage0", Index: intp(0), Format: adcFormat, Attrs: map[string]string{"raw": "100", "scale": "0.5"}},
					{ID: "voltage1", Index: intp(1), Format: adcFormat, Attrs: map[string]string{"raw": "200", "scale": "0.5"}},
					{ID: "voltage2", Index: intp(2), Format: adcFormat, Attrs: map[string]string{"raw": "300", "scale": "0.5"}},
					{ID: "voltage3", Index: intp(3), Format: adcFormat, Attrs: map[string]string{"raw": "400", "scale": "0.5"}},
					{ID: "timestamp", Index: intp(4), Format: "le:s64/64>>0"},
					{ID: "temp", Attrs: map[string]string{"input": "25000"}},
				},
				Trigger: "trigger0",
			},
			{
				ID:   "iio:device1",
				Name: "sim-dac",
				Channels: []ChannelConfig{
					{ID: "voltage0", Output: true, Index: intp(0), Format: "le:u16/16>>0", Attrs: map[string]string{"raw": "0"}},
					{ID: "voltage1", Output: true, Index: intp(1), Format: "le:u16/16>>0", Attrs: map[string]string{"raw": "0"}},
				},
			},
			{
				ID:    "trigger0",
				Name:  "sim-trigger",
				Attrs: map[string]string{"sampling_frequency": "100"},
			},
		},
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func attrsOf(m map[string]string) []model.Attr {
	var attrs []model.Attr
	for _, k := range sortedKeys(m) {
		attrs = append(attrs, model.Attr{Name: k})
	}
	return attrs
}

// buildContext turns the configuration into a model and the initial
// attribute values.
func (cfg *Config) buildContext() (*model.Context, map[attrKey][]byte, error) {
	ctx := &model.Context{Name: cfg.Name, Description: cfg.Description}
	for _, k := range sortedKeys(cfg.Attrs) {
		ctx.Attrs = append(ctx.Attrs, model.ContextAttr{Name: k, Value: cfg.Attrs[k]})
	}

	values := make(map[attrKey][]byte)
	for di, dc := range cfg.Devices {
		if dc.ID == "" {
			return nil, nil, fmt.Errorf("sim: device %d has no id", di)
		}
		d := &model.Device{
			ID:          dc.ID,
			Name:        dc.Name,
			Label:       dc.Label,
			Attrs:       attrsOf(dc.Attrs),
			DebugAttrs:  attrsOf(dc.DebugAttrs),
			BufferAttrs: attrsOf(dc.BufferAttrs),
		}
		for kind, m := range map[model.AttrKind]map[string]string{
			model.AttrDevice: dc.Attrs,
			model.AttrDebug:  dc.DebugAttrs,
			model.AttrBuffer: dc.BufferAttrs,
		} {
			for i, k := range sortedKeys(m) {
				values[attrKey{kind: kind, dev: di, attr: i}] = []byte(m[k])
			}
		}

		for ci, cc := range dc.Channels {
			ch := &model.Channel{
				ID:     cc.ID,
				Name:   cc.Name,
				Output: cc.Output,
				Index:  -1,
				Attrs:  attrsOf(cc.Attrs),
			}
			if cc.Index != nil {
				f, err := model.ParseDataFormat(cc.Format)
				if err != nil {
					return nil, nil, fmt.Errorf("sim: %s/%s: %w", dc.ID, cc.ID, err)
				}
				if cc.Scale != nil {
					f.WithScale = true
					f.Scale = *cc.Scale
				}
				ch.ScanElement = true
				ch.Index = *cc.Index
				ch.Format = f
			}
			for i, k := range sortedKeys(cc.Attrs) {
				values[attrKey{kind: model.AttrChannel, dev: di, chn: ci, attr: i}] = []byte(cc.Attrs[k])
			}
			d.Channels = append(d.Channels, ch)
		}
		ctx.Devices = append(ctx.Devices, d)
	}

	ctx.Index()
	return ctx, values, nil
}

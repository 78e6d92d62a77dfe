package main

import (
	"flag"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/basicflag"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// ProcessConfig is the process-level configuration: everything that is
// not device state and therefore does not belong in config.Store
// (§1 Ambient Stack). Device state (Steinhart-Hart, PID, limits,
// centerpoint, postfilter, fan curve, network) lives in flash and is
// reached only through the command interface.
type ProcessConfig struct {
	Listen     string `koanf:"listen"`
	StatusAddr string `koanf:"status_addr"`
	FlashFile  string `koanf:"flash_file"`
	ADCSerial  string `koanf:"adc_serial"`
	DACSerial0 string `koanf:"dac_serial0"`
	DACSerial1 string `koanf:"dac_serial1"`
	HWRev      string `koanf:"hwrev"`
	HasFan     bool   `koanf:"has_fan"`
}

// DefaultProcessConfig mirrors multiserver's Config{} defaults: a
// struct literal fed into koanf as the first, lowest-priority layer.
// Leaving the serial addresses empty selects the in-memory simulated
// buses, which is what every non-bench deployment of this binary uses.
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		Listen:     ":23",
		StatusAddr: ":8080",
		FlashFile:  "tecsrv.flash",
		HWRev:      "rev-b",
		HasFan:     true,
	}
}

// loadConfig builds the same defaults -> yaml file -> env -> flags
// precedence chain cmd/multiserver/main.go builds from koanf, here with
// env and flag layers added on top (golaborate's multiserver only goes
// as far as file; §1 of this spec's ambient stack calls for the fuller
// chain).
func loadConfig(configFile string, fs *flag.FlagSet) (ProcessConfig, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultProcessConfig(), "koanf"), nil); err != nil {
		return ProcessConfig{}, err
	}

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such file") {
				return ProcessConfig{}, err
			}
		}
	}

	if err := k.Load(env.Provider("TECSRV_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "TECSRV_"))
	}), nil); err != nil {
		return ProcessConfig{}, err
	}

	if fs != nil {
		if err := k.Load(basicflag.Provider(fs, "."), nil); err != nil {
			return ProcessConfig{}, err
		}
	}

	var c ProcessConfig
	if err := k.Unmarshal("", &c); err != nil {
		return ProcessConfig{}, err
	}
	return c, nil
}

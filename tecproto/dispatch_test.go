package tecproto

import (
	"encoding/json"
	"testing"

	"github.com/nasa-jpl/tecsrv/channel"
	"github.com/nasa-jpl/tecsrv/config"
	"github.com/nasa-jpl/tecsrv/dac"
	"github.com/nasa-jpl/tecsrv/fancurve"
	"github.com/nasa-jpl/tecsrv/pwmlimit"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store := config.New(config.NewFlash(config.NewMemBackend()))
	var chans [2]*channel.Channel
	for i := range chans {
		rec := store.Channel(i)
		d := dac.New(dac.NewSimBus(0, 3.0), dac.DefaultBoard())
		pwm := pwmlimit.New(pwmlimit.DefaultBoard())
		c := channel.New(i, d, pwm)
		if err := c.SetSteinhartParams(rec.SH); err != nil {
			t.Fatal(err)
		}
		if err := c.SetPIDParams(rec.PP); err != nil {
			t.Fatal(err)
		}
		chans[i] = c
	}
	return &Dispatcher{
		Store:    store,
		Channels: chans,
		Fan:      fancurve.NewController(),
		HWRev:    HWRev{Rev: "rev-test", Fan: true},
	}
}

func decode(t *testing.T, b []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
}

func TestUnknownCommandIsInvalidCommand(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch("frobnicate", &Session{})
	var e errorResponse
	decode(t, resp, &e)
	if e.Error != InvalidCommand {
		t.Fatalf("error = %v, want InvalidCommand", e.Error)
	}
}

func TestReportTogglesPerSession(t *testing.T) {
	d := newTestDispatcher(t)
	sessA := &Session{}
	sessB := &Session{}

	d.Dispatch("report on", sessA)
	if !sessA.ReportOn {
		t.Fatal("session A should have report on")
	}
	if sessB.ReportOn {
		t.Fatal("session B should be unaffected by session A's report command")
	}
}

func TestPIDSetAndQuery(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch("pid 0 kp 2.5", &Session{})
	resp := d.Dispatch("pid 0", &Session{})
	var p pidResponse
	decode(t, resp, &p)
	if p.Kp != 2.5 {
		t.Fatalf("kp = %v, want 2.5", p.Kp)
	}
}

func TestPIDBadLimitsLeaveStoreUntouched(t *testing.T) {
	d := newTestDispatcher(t)
	before := d.Store.Channel(0).PP

	resp := d.Dispatch("pid 0 output_min 5", &Session{}) // output_max defaults to 1 < 5
	var e errorResponse
	decode(t, resp, &e)
	if e.Error != OutOfRange {
		t.Fatalf("error = %v, want OutOfRange", e.Error)
	}

	after := d.Store.Channel(0).PP
	if before != after {
		t.Fatalf("store mutated despite rejected command: before=%+v after=%+v", before, after)
	}
}

func TestSHInvalidParamRejected(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch("s-h 0 r0 -5", &Session{})
	var e errorResponse
	decode(t, resp, &e)
	if e.Error != InvalidParam {
		t.Fatalf("error = %v, want InvalidParam", e.Error)
	}
}

func TestUnknownChannelRejected(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch("pid 7", &Session{})
	var e errorResponse
	decode(t, resp, &e)
	if e.Error != UnknownChannel {
		t.Fatalf("error = %v, want UnknownChannel", e.Error)
	}
}

func TestPWMISetSwitchesToOpenLoop(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch("pwm 0 i_set 0.2", &Session{})
	if d.Channels[0].Mode() != channel.OpenLoop {
		t.Fatalf("mode = %v, want OpenLoop", d.Channels[0].Mode())
	}
	if d.Channels[0].ISetOpenLoop() != 0.2 {
		t.Fatalf("i_set = %v, want 0.2", d.Channels[0].ISetOpenLoop())
	}
}

func TestPWMPidSwitchesToClosed(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch("pwm 0 i_set 0.2", &Session{})
	d.Dispatch("pwm 0 pid", &Session{})
	if d.Channels[0].Mode() != channel.Closed {
		t.Fatalf("mode = %v, want Closed", d.Channels[0].Mode())
	}
}

func TestIPv4SetAndQuery(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch("ipv4 10.0.0.5/24 10.0.0.1", &Session{})
	var got ipv4Response
	decode(t, resp, &got)
	if got.Address != "10.0.0.5" || got.Prefix != 24 || got.Gateway != "10.0.0.1" {
		t.Fatalf("unexpected response: %+v", got)
	}

	resp = d.Dispatch("ipv4", &Session{})
	decode(t, resp, &got)
	if got.Address != "10.0.0.5" {
		t.Fatalf("query after set = %+v", got)
	}
}

func TestIPv4BadAddressIsNetworkConfigError(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch("ipv4 999.0.0.1/24", &Session{})
	var e errorResponse
	decode(t, resp, &e)
	if e.Error != NetworkConfig {
		t.Fatalf("error = %v, want NetworkConfig", e.Error)
	}
}

func TestFanManualOutOfRange(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch("fan 150", &Session{})
	var e errorResponse
	decode(t, resp, &e)
	if e.Error != OutOfRange {
		t.Fatalf("error = %v, want OutOfRange", e.Error)
	}
}

func TestFcurveSetAndDefault(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch("fcurve 2 3 4", &Session{})
	resp := d.Dispatch("fcurve", &Session{})
	var got fcurveResponse
	decode(t, resp, &got)
	if got.A != 2 || got.B != 3 || got.C != 4 {
		t.Fatalf("fcurve = %+v", got)
	}

	d.Dispatch("fcurve default", &Session{})
	resp = d.Dispatch("fcurve", &Session{})
	decode(t, resp, &got)
	if got.A != 1 || got.B != 0 || got.C != 0 {
		t.Fatalf("fcurve after default = %+v", got)
	}
}

func TestHWRev(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch("hwrev", &Session{})
	var got HWRev
	decode(t, resp, &got)
	if got.Rev != "rev-test" || !got.Fan {
		t.Fatalf("hwrev = %+v", got)
	}
}

func TestResetSetsFlag(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch("reset", &Session{})
	if !d.ResetRequested {
		t.Fatal("expected ResetRequested after \"reset\" command")
	}
}

func TestDFUSetsFlag(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch("dfu", &Session{})
	if !d.DFURequested {
		t.Fatal("expected DFURequested after \"dfu\" command")
	}
}

func TestSaveLoadRoundTripsThroughDispatcher(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch("pid 0 kp 7.5", &Session{})
	resp := d.Dispatch("save", &Session{})
	var ok okResponse
	decode(t, resp, &ok)
	if !ok.OK {
		t.Fatalf("save failed: %s", resp)
	}

	d.Dispatch("pid 0 kp 1.0", &Session{})
	resp = d.Dispatch("load", &Session{})
	decode(t, resp, &ok)
	if !ok.OK {
		t.Fatalf("load failed: %s", resp)
	}
	if d.Channels[0].PIDParams().Kp != 7.5 {
		t.Fatalf("kp after load = %v, want 7.5", d.Channels[0].PIDParams().Kp)
	}
}

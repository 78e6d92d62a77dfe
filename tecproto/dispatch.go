package tecproto

import (
	"strconv"
	"strings"

	"github.com/nasa-jpl/tecsrv/adc"
	"github.com/nasa-jpl/tecsrv/channel"
	"github.com/nasa-jpl/tecsrv/config"
	"github.com/nasa-jpl/tecsrv/dac"
	"github.com/nasa-jpl/tecsrv/fancurve"
	"github.com/nasa-jpl/tecsrv/pid"
	"github.com/nasa-jpl/tecsrv/steinhart"
)

// HWRev describes the hardware this firmware image is running on.
type HWRev struct {
	Rev string `json:"rev"`
	Fan bool   `json:"fan"`
}

// Dispatcher parses command lines against the §6 grammar and applies
// them to the shared config.Store and channel.Channel state machines. A
// Dispatcher is driven entirely from the event loop's single goroutine
// (§5, §9): it never touches the ADC/DAC bus directly, only the
// in-memory config and a channel's mode, so its effects are visible no
// later than that channel's next control tick.
type Dispatcher struct {
	Store    *config.Store
	Channels [2]*channel.Channel
	Fan      *fancurve.Controller
	HWRev    HWRev

	// ResetRequested and DFURequested are set by the "reset" and "dfu"
	// commands; the event loop checks them once per iteration, after that
	// iteration's response lines have been written, and acts on them then.
	ResetRequested bool
	DFURequested   bool
}

// Dispatch parses and executes one command line, returning exactly one
// JSON-encoded response line (without a trailing newline). Parse and
// validation failures never mutate any state (§4.8 atomicity).
func (d *Dispatcher) Dispatch(line string, sess *Session) []byte {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return encodeError(InvalidCommand)
	}

	var (
		resp interface{}
		err  error
	)

	switch fields[0] {
	case "report":
		resp, err = d.doReport(fields[1:], sess)
	case "pwm":
		resp, err = d.doPWM(fields[1:])
	case "center":
		resp, err = d.doCenter(fields[1:])
	case "pid":
		resp, err = d.doPID(fields[1:])
	case "s-h":
		resp, err = d.doSH(fields[1:])
	case "postfilter":
		resp, err = d.doPostfilter(fields[1:])
	case "load":
		resp, err = d.doLoad(fields[1:])
	case "save":
		resp, err = d.doSave(fields[1:])
	case "reset":
		d.ResetRequested = true
		resp = okResponse{OK: true}
	case "dfu":
		d.DFURequested = true
		resp = okResponse{OK: true}
	case "ipv4":
		resp, err = d.doIPv4(fields[1:])
	case "fan":
		resp, err = d.doFan(fields[1:])
	case "fcurve":
		resp, err = d.doFcurve(fields[1:])
	case "hwrev":
		resp = d.HWRev
	default:
		err = Err(InvalidCommand)
	}

	if err != nil {
		return encodeErrorFrom(err)
	}
	return encode(resp)
}

type okResponse struct {
	OK bool `json:"ok"`
}

func parseChannel(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 1 {
		return 0, Err(UnknownChannel)
	}
	return n, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, Err(InvalidParam)
	}
	return v, nil
}

// --- report ---

func (d *Dispatcher) doReport(args []string, sess *Session) (interface{}, error) {
	if len(args) > 0 && args[0] == "mode" {
		args = args[1:]
	}
	if len(args) == 0 {
		return reportStateResponse{On: sess.ReportOn}, nil
	}
	switch args[0] {
	case "on":
		sess.ReportOn = true
	case "off":
		sess.ReportOn = false
	default:
		return nil, Err(InvalidParam)
	}
	return reportStateResponse{On: sess.ReportOn}, nil
}

type reportStateResponse struct {
	On bool `json:"report"`
}

// --- pwm ---

type pwmResponse struct {
	Channel int     `json:"channel"`
	MaxV    float64 `json:"max_v"`
	MaxIPos float64 `json:"max_i_pos"`
	MaxINeg float64 `json:"max_i_neg"`
	Mode    string  `json:"mode"`
	ISet    float64 `json:"i_set"`
}

func (d *Dispatcher) pwmView(ch int) pwmResponse {
	c := d.Channels[ch]
	pwm := c.PWM()
	return pwmResponse{
		Channel: ch,
		MaxV:    pwm.MaxV(),
		MaxIPos: pwm.MaxIPos(),
		MaxINeg: pwm.MaxINeg(),
		Mode:    c.Mode().String(),
		ISet:    c.ISetOpenLoop(),
	}
}

func (d *Dispatcher) doPWM(args []string) (interface{}, error) {
	if len(args) == 0 {
		return []pwmResponse{d.pwmView(0), d.pwmView(1)}, nil
	}
	ch, err := parseChannel(args[0])
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		return d.pwmView(ch), nil
	}
	if len(args) < 2 {
		return nil, Err(InvalidCommand)
	}

	switch args[1] {
	case "pid":
		d.Channels[ch].SetClosed()
		return d.pwmView(ch), nil
	case "i_set":
		if len(args) != 3 {
			return nil, Err(InvalidCommand)
		}
		v, err := parseFloat(args[2])
		if err != nil {
			return nil, err
		}
		d.Channels[ch].SetOpenLoop(v)
		return d.pwmView(ch), nil
	case "max_v", "max_i_pos", "max_i_neg":
		if len(args) != 3 {
			return nil, Err(InvalidCommand)
		}
		v, err := parseFloat(args[2])
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, Err(OutOfRange)
		}
		mErr := d.Store.MutateChannel(ch, func(rec *config.ChannelRecord) error {
			switch args[1] {
			case "max_v":
				rec.MaxV = v
			case "max_i_pos":
				rec.MaxIPos = v
			case "max_i_neg":
				rec.MaxINeg = v
			}
			return nil
		})
		if mErr != nil {
			return nil, mErr
		}
		// programming a limit pin can fail the MAX1968 safe-operating-area
		// check immediately; apply it against the live output now so a bad
		// value is rejected rather than silently queued for the next tick.
		pwm := d.Channels[ch].PWM()
		var applyErr error
		switch args[1] {
		case "max_v":
			applyErr = pwm.SetMaxV(v)
		case "max_i_pos":
			applyErr = pwm.SetMaxIPos(v)
		case "max_i_neg":
			applyErr = pwm.SetMaxINeg(v)
		}
		if applyErr != nil {
			d.Channels[ch].SetDisabled()
			return nil, Err(OutOfRange)
		}
		return d.pwmView(ch), nil
	default:
		return nil, Err(InvalidCommand)
	}
}

// --- center ---

type centerResponse struct {
	Channel int     `json:"channel"`
	Vref    bool    `json:"vref"`
	Fixed   float64 `json:"fixed"`
}

func (d *Dispatcher) doCenter(args []string) (interface{}, error) {
	if len(args) == 0 {
		return nil, Err(InvalidCommand)
	}
	ch, err := parseChannel(args[0])
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		c := d.Channels[ch].Center()
		return centerResponse{Channel: ch, Vref: c.UseVref, Fixed: c.Fixed}, nil
	}
	if len(args) != 2 {
		return nil, Err(InvalidCommand)
	}

	var center dac.Center
	if args[1] == "vref" {
		center = dac.Center{UseVref: true}
	} else {
		v, err := parseFloat(args[1])
		if err != nil {
			return nil, err
		}
		center = dac.Center{UseVref: false, Fixed: v}
	}

	if err := d.Store.MutateChannel(ch, func(rec *config.ChannelRecord) error {
		rec.CenterUseVref = center.UseVref
		rec.CenterFixed = center.Fixed
		return nil
	}); err != nil {
		return nil, err
	}
	d.Channels[ch].SetCenter(center)
	return centerResponse{Channel: ch, Vref: center.UseVref, Fixed: center.Fixed}, nil
}

// --- pid ---

type pidResponse struct {
	Channel     int     `json:"channel"`
	Target      float64 `json:"target"`
	Kp          float64 `json:"kp"`
	Ki          float64 `json:"ki"`
	Kd          float64 `json:"kd"`
	OutputMin   float64 `json:"output_min"`
	OutputMax   float64 `json:"output_max"`
	IntegralMin float64 `json:"integral_min"`
	IntegralMax float64 `json:"integral_max"`
}

func pidView(ch int, p pid.Params) pidResponse {
	return pidResponse{
		Channel:     ch,
		Target:      p.Target,
		Kp:          p.Kp,
		Ki:          p.Ki,
		Kd:          p.Kd,
		OutputMin:   p.Output.Min,
		OutputMax:   p.Output.Max,
		IntegralMin: p.Integral.Min,
		IntegralMax: p.Integral.Max,
	}
}

func (d *Dispatcher) doPID(args []string) (interface{}, error) {
	if len(args) == 0 {
		return []pidResponse{
			pidView(0, d.Channels[0].PIDParams()),
			pidView(1, d.Channels[1].PIDParams()),
		}, nil
	}
	ch, err := parseChannel(args[0])
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		return pidView(ch, d.Channels[ch].PIDParams()), nil
	}
	if len(args) != 3 {
		return nil, Err(InvalidCommand)
	}
	v, err := parseFloat(args[2])
	if err != nil {
		return nil, err
	}

	mErr := d.Store.MutateChannel(ch, func(rec *config.ChannelRecord) error {
		p := rec.PP
		switch args[1] {
		case "target":
			p.Target = v
		case "kp":
			p.Kp = v
		case "ki":
			p.Ki = v
		case "kd":
			p.Kd = v
		case "output_min":
			p.Output.Min = v
		case "output_max":
			p.Output.Max = v
		case "integral_min":
			p.Integral.Min = v
		case "integral_max":
			p.Integral.Max = v
		default:
			return Err(InvalidCommand)
		}
		if p.Output.Min > p.Output.Max || p.Integral.Min > p.Integral.Max {
			return Err(OutOfRange)
		}
		rec.PP = p
		return nil
	})
	if mErr != nil {
		return nil, mErr
	}
	if err := d.Channels[ch].SetPIDParams(d.Store.Channel(ch).PP); err != nil {
		return nil, Err(OutOfRange)
	}
	return pidView(ch, d.Channels[ch].PIDParams()), nil
}

// --- s-h ---

type shResponse struct {
	Channel int     `json:"channel"`
	T0      float64 `json:"t0"`
	R0      float64 `json:"r0"`
	B       float64 `json:"b"`
}

// shView reports t0 in °C (§3: "Input to s-h command is in °C; internal
// storage is in kelvin"), inverting the conversion doSH applies on set.
func shView(ch int, p steinhart.Params) shResponse {
	return shResponse{Channel: ch, T0: steinhart.KelvinToCelsius(p.T0), R0: p.R0, B: p.B}
}

func (d *Dispatcher) doSH(args []string) (interface{}, error) {
	if len(args) == 0 {
		return []shResponse{
			shView(0, d.Channels[0].SteinhartParams()),
			shView(1, d.Channels[1].SteinhartParams()),
		}, nil
	}
	ch, err := parseChannel(args[0])
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		return shView(ch, d.Channels[ch].SteinhartParams()), nil
	}
	if len(args) != 3 {
		return nil, Err(InvalidCommand)
	}
	v, err := parseFloat(args[2])
	if err != nil {
		return nil, err
	}

	mErr := d.Store.MutateChannel(ch, func(rec *config.ChannelRecord) error {
		p := rec.SH
		switch args[1] {
		case "t0":
			p.T0 = steinhart.CelsiusToKelvin(v)
		case "r0":
			p.R0 = v
		case "b":
			p.B = v
		default:
			return Err(InvalidCommand)
		}
		if err := p.Validate(); err != nil {
			return Err(InvalidParam)
		}
		rec.SH = p
		return nil
	})
	if mErr != nil {
		return nil, mErr
	}
	if err := d.Channels[ch].SetSteinhartParams(d.Store.Channel(ch).SH); err != nil {
		return nil, Err(InvalidParam)
	}
	return shView(ch, d.Channels[ch].SteinhartParams()), nil
}

// --- postfilter ---

type postfilterResponse struct {
	Channel int    `json:"channel"`
	Rate    string `json:"rate"`
}

func (d *Dispatcher) doPostfilter(args []string) (interface{}, error) {
	if len(args) == 0 {
		return []postfilterResponse{
			{Channel: 0, Rate: d.Store.Channel(0).Postfilter.String()},
			{Channel: 1, Rate: d.Store.Channel(1).Postfilter.String()},
		}, nil
	}
	ch, err := parseChannel(args[0])
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		rec := d.Store.Channel(ch)
		return postfilterResponse{Channel: ch, Rate: rec.Postfilter.String()}, nil
	}

	var rate adc.Rate
	if args[1] == "off" {
		rate = adc.RateOff
	} else if args[1] == "rate" {
		if len(args) != 3 {
			return nil, Err(InvalidCommand)
		}
		hz, err := parseFloat(args[2])
		if err != nil {
			return nil, err
		}
		rate, err = adc.ParseRate(hz)
		if err != nil {
			return nil, Err(InvalidParam)
		}
	} else {
		return nil, Err(InvalidCommand)
	}

	if err := d.Store.MutateChannel(ch, func(rec *config.ChannelRecord) error {
		rec.Postfilter = rate
		return nil
	}); err != nil {
		return nil, err
	}
	return postfilterResponse{Channel: ch, Rate: rate.String()}, nil
}

// --- load / save ---

func parseOptionalChannel(args []string) (*int, error) {
	if len(args) == 0 {
		return nil, nil
	}
	ch, err := parseChannel(args[0])
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (d *Dispatcher) doLoad(args []string) (interface{}, error) {
	ch, err := parseOptionalChannel(args)
	if err != nil {
		return nil, err
	}
	if err := d.Store.Load(ch); err != nil {
		return nil, flashErr(err)
	}
	d.SyncChannelsFromStore(ch)
	return okResponse{OK: true}, nil
}

func (d *Dispatcher) doSave(args []string) (interface{}, error) {
	ch, err := parseOptionalChannel(args)
	if err != nil {
		return nil, err
	}
	if err := d.Store.Save(ch); err != nil {
		return nil, flashErr(err)
	}
	return okResponse{OK: true}, nil
}

// flashErr maps the config package's flash sentinel errors onto the §7
// error kinds the wire protocol reports; any other error is passed
// through InvalidCommand's fallback in encodeErrorFrom.
func flashErr(err error) error {
	switch err {
	case config.ErrFlashBusy:
		return Err(FlashBusy)
	case config.ErrFlashCorrupt:
		return Err(FlashCorrupt)
	case config.ErrNoSavedConfig:
		return Err(NoSavedConfig)
	default:
		return err
	}
}

// SyncChannelsFromStore pushes the persisted-config view for ch (or both
// channels, if nil) into the live channel.Channel runtime objects. It is
// used after a "load" command and once at boot, once the store has been
// populated from flash, to push the saved configuration into the
// Disabled channels created at startup (§3, §4.6 "Boot -> Disabled until
// configuration is loaded"). Mode and the open-loop setpoint are runtime
// state, not persisted config, and are left untouched.
func (d *Dispatcher) SyncChannelsFromStore(ch *int) {
	apply := func(i int) {
		rec := d.Store.Channel(i)
		_ = d.Channels[i].SetSteinhartParams(rec.SH)
		_ = d.Channels[i].SetPIDParams(rec.PP)
		d.Channels[i].SetCenter(rec.CenterOf())
		pwm := d.Channels[i].PWM()
		_ = pwm.SetMaxV(rec.MaxV)
		_ = pwm.SetMaxIPos(rec.MaxIPos)
		_ = pwm.SetMaxINeg(rec.MaxINeg)
	}
	if ch == nil {
		apply(0)
		apply(1)
		return
	}
	apply(*ch)
}

// --- ipv4 ---

type ipv4Response struct {
	Address string `json:"address"`
	Prefix  uint8  `json:"prefix"`
	Gateway string `json:"gateway,omitempty"`
}

func (d *Dispatcher) doIPv4(args []string) (interface{}, error) {
	dev := d.Store.Device()
	if len(args) == 0 {
		resp := ipv4Response{Address: config.FmtIPv4(dev.IPv4), Prefix: dev.Prefix}
		if dev.HasGW {
			resp.Gateway = config.FmtIPv4(dev.Gateway)
		}
		return resp, nil
	}

	addrPrefix := strings.SplitN(args[0], "/", 2)
	if len(addrPrefix) != 2 {
		return nil, Err(InvalidParam)
	}
	addr, err := parseIPv4(addrPrefix[0])
	if err != nil {
		return nil, Err(NetworkConfig)
	}
	prefix, err := strconv.Atoi(addrPrefix[1])
	if err != nil || prefix < 0 || prefix > 32 {
		return nil, Err(NetworkConfig)
	}

	var gw [4]byte
	hasGW := false
	if len(args) == 2 {
		gw, err = parseIPv4(args[1])
		if err != nil {
			return nil, Err(NetworkConfig)
		}
		hasGW = true
	}

	mErr := d.Store.MutateDevice(func(rec *config.DeviceRecord) error {
		rec.IPv4 = addr
		rec.Prefix = uint8(prefix)
		rec.HasGW = hasGW
		rec.Gateway = gw
		return nil
	})
	if mErr != nil {
		return nil, mErr
	}

	resp := ipv4Response{Address: config.FmtIPv4(addr), Prefix: uint8(prefix)}
	if hasGW {
		resp.Gateway = config.FmtIPv4(gw)
	}
	return resp, nil
}

func parseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return out, Err(NetworkConfig)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return out, Err(NetworkConfig)
		}
		out[i] = byte(n)
	}
	return out, nil
}

// --- fan ---

type fanResponse struct {
	Mode  string  `json:"mode"`
	Power float64 `json:"power"`
}

func (d *Dispatcher) doFan(args []string) (interface{}, error) {
	if len(args) == 0 {
		mode := "auto"
		if d.Fan.Mode == fancurve.Manual {
			mode = "manual"
		}
		return fanResponse{Mode: mode, Power: d.Fan.Power(0)}, nil
	}
	if args[0] == "auto" {
		d.Fan.SetAuto()
		return fanResponse{Mode: "auto"}, nil
	}
	pct, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, Err(InvalidParam)
	}
	if err := d.Fan.SetManual(pct); err != nil {
		return nil, Err(OutOfRange)
	}
	return fanResponse{Mode: "manual", Power: d.Fan.Power(0)}, nil
}

// --- fcurve ---

type fcurveResponse struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

func (d *Dispatcher) doFcurve(args []string) (interface{}, error) {
	if len(args) == 0 {
		c := d.Fan.Curve
		return fcurveResponse{A: c.A, B: c.B, C: c.C}, nil
	}
	if args[0] == "default" {
		d.Fan.Curve = fancurve.Default()
		if err := d.Store.MutateDevice(func(rec *config.DeviceRecord) error {
			rec.FanA, rec.FanB, rec.FanC = d.Fan.Curve.A, d.Fan.Curve.B, d.Fan.Curve.C
			return nil
		}); err != nil {
			return nil, err
		}
		return fcurveResponse{A: d.Fan.Curve.A, B: d.Fan.Curve.B, C: d.Fan.Curve.C}, nil
	}
	if len(args) != 3 {
		return nil, Err(InvalidCommand)
	}
	a, err := parseFloat(args[0])
	if err != nil {
		return nil, err
	}
	b, err := parseFloat(args[1])
	if err != nil {
		return nil, err
	}
	c, err := parseFloat(args[2])
	if err != nil {
		return nil, err
	}

	if err := d.Store.MutateDevice(func(rec *config.DeviceRecord) error {
		rec.FanA, rec.FanB, rec.FanC = a, b, c
		return nil
	}); err != nil {
		return nil, err
	}
	d.Fan.Curve = fancurve.Curve{A: a, B: b, C: c}
	return fcurveResponse{A: a, B: b, C: c}, nil
}

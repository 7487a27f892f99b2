package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"clockd/internal/movement"
	logx "clockd/pkg/logx"
)

const (
	// presetSteps is the stepper count for one full sweep; stop sends zero.
	presetSteps = 2048

	defaultDispatchTimeout = 12 * time.Second
	defaultProbeTimeout    = 5 * time.Second
)

// Options tunes the dispatcher's two HTTP clients. Zero values pick the
// defaults above.
type Options struct {
	DispatchTimeout time.Duration
	ProbeTimeout    time.Duration
}

// Result is what a dispatch or probe produced, shaped for both the execution
// log and the admin API.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Kind    FailureKind     `json:"-"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Dispatcher delivers resolved movement commands to the actuator over HTTP.
//
// Commands are sent exactly once: a firing that fails is logged as failed,
// never retried. Retrying a motion command can double-move the hands.
type Dispatcher struct {
	client *resty.Client
	probe  *resty.Client
	log    logx.Logger

	dispatchTimeout time.Duration
	probeTimeout    time.Duration
}

func NewDispatcher(opts Options, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = defaultDispatchTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	return &Dispatcher{
		client: resty.New().
			SetTimeout(opts.DispatchTimeout).
			SetHeader("Content-Type", "application/json"),
		probe: resty.New().
			SetTimeout(opts.ProbeTimeout).
			SetHeader("Accept", "application/json"),
		log:             log.With(logx.String("component", "device")),
		dispatchTimeout: opts.DispatchTimeout,
		probeTimeout:    opts.ProbeTimeout,
	}
}

// Send transmits cmd to the device described by cfg. The returned Result is
// always usable; a failed dispatch carries the classified, operator-facing
// message rather than a raw transport error.
func (d *Dispatcher) Send(ctx context.Context, cfg Config, cmd movement.Command) Result {
	if !cfg.Configured() {
		return Result{Message: "no device configured; set the device IP first"}
	}

	var (
		resp *resty.Response
		err  error
	)
	switch {
	case cmd.Kind == movement.KindPreset && cfg.Type == TypePrototype:
		resp, err = d.client.R().SetContext(ctx).
			SetBody(prototypeMove{
				Direction: presetDirection(cmd.Name),
				Speed:     movement.ClampSpeed(cmd.Hours.Speed),
				Steps:     presetStepCount(cmd.Name),
			}).
			Post(deviceURL(cfg.IP, "/move"))
	case cmd.Kind == movement.KindPreset:
		// Standard firmware runs presets from a bare GET on the preset path.
		resp, err = d.client.R().SetContext(ctx).
			Get(deviceURL(cfg.IP, "/"+cmd.Name))
	case cfg.Type == TypePrototype:
		resp, err = d.client.R().SetContext(ctx).
			SetBody(prototypeCustom{
				HoursDirection:   cmd.Hours.Direction,
				MinutesDirection: cmd.Minutes.Direction,
				HoursSpeed:       movement.ClampSpeed(cmd.Hours.Speed),
				MinutesSpeed:     movement.ClampSpeed(cmd.Minutes.Speed),
				DurationMS:       cmd.Duration * 1000,
			}).
			Post(deviceURL(cfg.IP, "/custom"))
	default:
		body := standardCustom{
			Nombre:   cmd.Name,
			Duracion: cmd.Duration,
		}
		body.Movimiento.DireccionGeneral = cmd.General
		body.Movimiento.Horas = axisPayload{
			Direccion: cmd.Hours.Direction,
			Velocidad: movement.ClampSpeed(cmd.Hours.Speed),
			Angulo:    cmd.Hours.Angle,
		}
		body.Movimiento.Minutos = axisPayload{
			Direccion: cmd.Minutes.Direction,
			Velocidad: movement.ClampSpeed(cmd.Minutes.Speed),
			Angulo:    cmd.Minutes.Angle,
		}
		resp, err = d.client.R().SetContext(ctx).
			SetBody(body).
			Post(deviceURL(cfg.IP, "/custom"))
	}

	res := d.finish(cfg.IP, d.dispatchTimeout, resp, err)
	if res.Success {
		res.Message = fmt.Sprintf("movement %q sent to %s", cmd.Name, cfg.IP)
	}
	d.log.Info("dispatch finished",
		logx.String("ip", cfg.IP),
		logx.String("movement", cmd.Name),
		logx.String("kind", cmd.Kind.String()),
		logx.Bool("success", res.Success),
		logx.String("outcome", res.Kind.String()),
	)
	return res
}

// Ping checks device liveness via GET /status.
func (d *Dispatcher) Ping(ctx context.Context, ip string) Result {
	resp, err := d.probe.R().SetContext(ctx).Get(deviceURL(ip, "/status"))
	res := d.finish(ip, d.probeTimeout, resp, err)
	if res.Success {
		res.Message = fmt.Sprintf("device at %s is reachable", ip)
	}
	return res
}

// Info fetches the device's self-description via GET /info.
func (d *Dispatcher) Info(ctx context.Context, ip string) Result {
	resp, err := d.probe.R().SetContext(ctx).Get(deviceURL(ip, "/info"))
	res := d.finish(ip, d.probeTimeout, resp, err)
	if res.Success {
		res.Message = fmt.Sprintf("device info from %s", ip)
		res.Data = json.RawMessage(resp.Body())
	}
	return res
}

func (d *Dispatcher) finish(ip string, timeout time.Duration, resp *resty.Response, err error) Result {
	if err != nil {
		kind := classify(err)
		return Result{Kind: kind, Message: failureMessage(kind, ip, timeout, err)}
	}
	if resp.IsError() {
		msg := strings.TrimSpace(string(resp.Body()))
		if msg == "" {
			msg = resp.Status()
		}
		return Result{
			Kind:    FailureRejected,
			Message: fmt.Sprintf("device at %s rejected the request (HTTP %d): %s", ip, resp.StatusCode(), msg),
		}
	}
	return Result{Success: true}
}

func deviceURL(ip, path string) string {
	return "http://" + ip + path
}

// presetDirection maps a preset name to the prototype firmware's direction
// token. Unknown names fall back to clockwise.
func presetDirection(name string) string {
	switch name {
	case "left", "crazy":
		return "CCW"
	case "stop":
		return "STOP"
	default: // right, normal, swing
		return "CW"
	}
}

func presetStepCount(name string) int {
	if name == "stop" {
		return 0
	}
	return presetSteps
}

type prototypeMove struct {
	Direction string `json:"direction"`
	Speed     int    `json:"speed"`
	Steps     int    `json:"steps"`
}

type axisPayload struct {
	Direccion string `json:"direccion"`
	Velocidad int    `json:"velocidad"`
	Angulo    int    `json:"angulo"`
}

type standardCustom struct {
	Nombre     string `json:"nombre"`
	Duracion   int    `json:"duracion"`
	Movimiento struct {
		DireccionGeneral string      `json:"direccionGeneral"`
		Horas            axisPayload `json:"horas"`
		Minutos          axisPayload `json:"minutos"`
	} `json:"movimiento"`
}

type prototypeCustom struct {
	HoursDirection   string `json:"hoursDirection"`
	MinutesDirection string `json:"minutesDirection"`
	HoursSpeed       int    `json:"hoursSpeed"`
	MinutesSpeed     int    `json:"minutesSpeed"`
	DurationMS       int    `json:"duration_ms"`
}

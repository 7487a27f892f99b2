package movement

import (
	"context"
	"fmt"
	"strings"

	"clockd/internal/storage"
	logx "clockd/pkg/logx"
)

// Getter is the slice of the store the resolver needs.
type Getter interface {
	MovementByID(ctx context.Context, id string) (storage.MovementDefinition, error)
}

// Resolver turns a schedule's movement reference into a dispatch-ready
// Command. A missing definition is an error; the firing is aborted rather
// than dispatched with guessed parameters.
type Resolver struct {
	store Getter
	log   logx.Logger
}

func NewResolver(store Getter, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{store: store, log: log.With(logx.String("component", "movement"))}
}

// Resolve loads the definition and normalizes it.
//
// Normalization fills the gaps a stored profile may have: axis directions
// default to the general direction (or clockwise), unset speeds default to
// DefaultSpeed then get clamped, an unset duration becomes DefaultDuration.
func (r *Resolver) Resolve(ctx context.Context, movementID string) (Command, error) {
	def, err := r.store.MovementByID(ctx, movementID)
	if err != nil {
		return Command{}, fmt.Errorf("load movement %q: %w", movementID, err)
	}
	cmd := Normalize(def)
	r.log.Debug("movement resolved",
		logx.String("movement_id", def.ID),
		logx.String("name", cmd.Name),
		logx.String("kind", cmd.Kind.String()),
	)
	return cmd, nil
}

// Normalize converts a stored definition into a Command with every field
// populated. It never fails: whatever is missing gets a usable default.
func Normalize(def storage.MovementDefinition) Command {
	name := strings.ToLower(strings.TrimSpace(def.Name))

	general := strings.TrimSpace(def.General)
	if general == "" {
		general = DirectionCW
	}

	cmd := Command{
		Name:     name,
		Duration: def.Duration,
		General:  general,
		Hours:    normalizeAxis(def.Hours, general),
		Minutes:  normalizeAxis(def.Minutes, general),
	}
	if cmd.Duration <= 0 {
		cmd.Duration = DefaultDuration
	}
	if IsPreset(name) {
		cmd.Kind = KindPreset
	} else {
		cmd.Kind = KindCustom
	}
	return cmd
}

func normalizeAxis(a storage.AxisProfile, general string) Axis {
	dir := strings.TrimSpace(a.Direction)
	if dir == "" {
		dir = general
	}
	speed := a.Speed
	if speed == 0 {
		speed = DefaultSpeed
	}
	return Axis{
		Direction: dir,
		Speed:     ClampSpeed(speed),
		Angle:     a.Angle,
	}
}

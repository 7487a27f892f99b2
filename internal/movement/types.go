package movement

// Direction values as the actuator firmware understands them.
const (
	DirectionCW  = "horario"
	DirectionCCW = "antihorario"
)

const (
	// DefaultSpeed is used when a profile leaves an axis speed unset.
	DefaultSpeed = 50
	// DefaultDuration (seconds) is used when a custom profile has no duration.
	DefaultDuration = 60
)

// presets is the fixed vocabulary of firmware-native motions. A definition
// whose name matches (case-insensitively) is dispatched by name; everything
// else is a custom profile.
var presets = map[string]struct{}{
	"left":   {},
	"right":  {},
	"crazy":  {},
	"normal": {},
	"stop":   {},
	"swing":  {},
}

// IsPreset reports whether name is one of the firmware-native motions.
func IsPreset(name string) bool {
	_, ok := presets[name]
	return ok
}

// Kind distinguishes the two dispatch shapes.
type Kind int

const (
	KindPreset Kind = iota
	KindCustom
)

func (k Kind) String() string {
	if k == KindPreset {
		return "preset"
	}
	return "custom"
}

// Axis is one hand's resolved motion parameters. Direction is always
// populated after resolution; Speed is in [1,100].
type Axis struct {
	Direction string
	Speed     int
	Angle     int
}

// Command is a fully resolved, dispatch-ready motion. For presets only Name
// and Speed matter; for customs the per-axis fields carry the profile.
type Command struct {
	Kind     Kind
	Name     string
	Duration int // seconds
	General  string
	Hours    Axis
	Minutes  Axis
}

// ClampSpeed bounds a speed to the actuator's accepted range [1,100].
func ClampSpeed(v int) int {
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

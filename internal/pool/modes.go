package pool

import (
	"strconv"
	"strings"
)

// Mode is one position in a channel's cyclic mode sequence.
type Mode struct {
	Code  int    `json:"code"`
	Label string `json:"label"`
}

// ModeSequence is the ordered set of modes a channel cycles through.
// A cycle command always advances to the next element, wrapping at the end.
type ModeSequence []Mode

// Mode codes reported by the controller for general channels.
const (
	ModeOff         = 0
	ModeAuto        = 1
	ModeOn          = 2
	ModeLowSpeed    = 3
	ModeMediumSpeed = 4
	ModeHighSpeed   = 5
)

// ChannelModeLabels names every channel mode code the controller reports.
var ChannelModeLabels = map[int]string{
	ModeOff:         "Off",
	ModeAuto:        "Auto",
	ModeOn:          "On",
	ModeLowSpeed:    "Low Speed",
	ModeMediumSpeed: "Medium Speed",
	ModeHighSpeed:   "High Speed",
}

// Built-in sequences. Callers receive clones, never these slices.
var (
	triModes      = ModeSequence{{0, "Off"}, {1, "Auto"}, {2, "On"}}
	speedModes    = ModeSequence{{0, "Off"}, {3, "Low Speed"}, {4, "Medium Speed"}, {5, "High Speed"}}
	heaterModes   = ModeSequence{{0, "Off"}, {1, "On"}}
	poolSpaModes  = ModeSequence{{0, "Spa"}, {1, "Pool"}}
	heatCoolModes = ModeSequence{{0, "Cooling"}, {1, "Heating"}}
)

// TriModes returns the Off/Auto/On sequence used by most channels.
func TriModes() ModeSequence { return triModes.Clone() }

// SpeedModes returns the Off/Low/Medium/High sequence of variable-speed pumps.
func SpeedModes() ModeSequence { return speedModes.Clone() }

// HeaterModes returns the Off/On heater sequence.
func HeaterModes() ModeSequence { return heaterModes.Clone() }

// PoolSpaModes returns the Spa/Pool selection sequence.
func PoolSpaModes() ModeSequence { return poolSpaModes.Clone() }

// HeatCoolModes returns the Cooling/Heating selection sequence.
func HeatCoolModes() ModeSequence { return heatCoolModes.Clone() }

// SequenceFromCodes builds a sequence from channel mode codes, labelling
// unknown codes with their number.
func SequenceFromCodes(codes []int) ModeSequence {
	seq := make(ModeSequence, 0, len(codes))
	for _, code := range codes {
		label, ok := ChannelModeLabels[code]
		if !ok {
			label = "Mode " + strconv.Itoa(code)
		}
		seq = append(seq, Mode{Code: code, Label: label})
	}
	return seq
}

// Clone returns an independent copy.
func (s ModeSequence) Clone() ModeSequence {
	out := make(ModeSequence, len(s))
	copy(out, s)
	return out
}

// IndexOf returns the position of the mode with the given code, or -1.
func (s ModeSequence) IndexOf(code int) int {
	for i, m := range s {
		if m.Code == code {
			return i
		}
	}
	return -1
}

// Resolve finds a mode by label (case-insensitive) or by numeric code and
// returns its index, or -1 if nothing matches.
func (s ModeSequence) Resolve(ref string) int {
	ref = strings.TrimSpace(ref)
	for i, m := range s {
		if strings.EqualFold(m.Label, ref) {
			return i
		}
	}
	if code, err := strconv.Atoi(ref); err == nil {
		return s.IndexOf(code)
	}
	return -1
}

// At returns the mode at index i.
func (s ModeSequence) At(i int) (Mode, bool) {
	if i < 0 || i >= len(s) {
		return Mode{}, false
	}
	return s[i], true
}

// Label returns the label at index i, or "" when i is out of range.
func (s ModeSequence) Label(i int) string {
	m, ok := s.At(i)
	if !ok {
		return ""
	}
	return m.Label
}

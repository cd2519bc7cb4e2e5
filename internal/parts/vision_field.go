package parts

import (
	"time"

	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/simpletalk/kernel/internal/core/part"
	"go.uber.org/zap"
)

const (
	defaultVisionURL = "http://localhost:5000"
	visionWidth      = 848.0
	visionHeight     = 480.0
)

// VisionField models a camera-backed field. While "polling" is true the
// poller delivers one frame of coordinates per poll interval.
type VisionField struct {
	deps *Deps
}

func (v *VisionField) Kind() part.Kind { return part.KindVisionField }

func (v *VisionField) AcceptedChildKinds() []part.Kind { return nil }

func (v *VisionField) DeclareProperties(p *part.Part) error {
	src := defaultVisionURL
	if v.deps != nil && v.deps.VisionURL != "" {
		src = v.deps.VisionURL
	}
	if err := declare(p,
		prop{"src", src},
		prop{"pollTime", 100.0}, // ms
		prop{"polling", false},
		prop{"coordinates", [][]float64{}},
	); err != nil {
		return err
	}
	// Fixed frame size of the vision service.
	if err := p.Set("width", visionWidth); err != nil {
		return err
	}
	return p.Set("height", visionHeight)
}

func (v *VisionField) OnPropertyChanged(p *part.Part, name string, value any) {
	if name != "polling" || !v.deps.polls() {
		return
	}
	if truthy(value) {
		v.start(p)
	} else {
		v.deps.stopPolling(p.ID())
	}
}

// Restored resumes polling for a field saved while it was polling.
func (v *VisionField) Restored(p *part.Part) {
	if on, _ := p.Get("polling"); truthy(on) && v.deps.polls() {
		v.start(p)
	}
}

func (v *VisionField) start(p *part.Part) {
	src, _ := p.Get("src")
	url, _ := src.(string)
	pt, _ := p.Get("pollTime")
	v.deps.startPolling(p.ID(), url, time.Duration(number(pt, 100))*time.Millisecond)
}

// Respond applies poller readings addressed to this part.
func (v *VisionField) Respond(p *part.Part, msg message.Message) bool {
	if msg.TargetID != p.ID() {
		return false
	}
	switch msg.Type {
	case message.TypeCoordinate:
		setOrLog(p, "coordinates", msg.Points)
	case message.TypeEmpty:
		setOrLog(p, "coordinates", [][]float64{})
	case message.TypeStopped:
		if v.deps.staleStop(p.ID()) {
			return true
		}
		setOrLog(p, "polling", false)
	case message.TypeError:
		if msg.ErrorName == message.CommandFailed {
			return false
		}
		p.Logger().Warn("vision polling failed",
			zap.String("error", msg.ErrorName),
			zap.String("detail", msg.ErrorMessage),
		)
		setOrLog(p, "polling", false)
	default:
		return false
	}
	return true
}

func (v *VisionField) OnDestroy(p *part.Part) {
	if !v.deps.polls() {
		return
	}
	if on, _ := p.Get("polling"); truthy(on) {
		v.deps.stopPolling(p.ID())
	}
}

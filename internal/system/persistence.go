package system

import (
	"bytes"
	"context"
	"time"

	"github.com/simpletalk/kernel/internal/core/event"
	"github.com/simpletalk/kernel/internal/core/part"
	coresys "github.com/simpletalk/kernel/internal/core/system"
	"go.uber.org/zap"
)

// Saver is the part of a snapshot store autosave needs.
type Saver interface {
	Save(ctx context.Context, name string, data []byte, partCount int) error
}

// AutosaveSystem periodically serializes the world and saves it when it
// changed since the last save. Phase 3 (Persist).
type AutosaveSystem struct {
	factory   *part.Factory
	store     Saver
	name      string
	bus       *event.Bus
	log       *zap.Logger
	tickCount int
	interval  int // save every N ticks
	last      []byte
}

func NewAutosaveSystem(factory *part.Factory, store Saver, name string, bus *event.Bus, log *zap.Logger, intervalTicks int) *AutosaveSystem {
	return &AutosaveSystem{
		factory:  factory,
		store:    store,
		name:     name,
		bus:      bus,
		log:      log,
		interval: intervalTicks,
	}
}

func (s *AutosaveSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *AutosaveSystem) Update(_ time.Duration) {
	if s.interval <= 0 {
		return
	}
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	if _, err := s.save(false); err != nil {
		s.log.Error("autosave failed", zap.String("snapshot", s.name), zap.Error(err))
	}
}

// SaveNow saves unconditionally. Called for graceful shutdown.
func (s *AutosaveSystem) SaveNow() error {
	_, err := s.save(true)
	return err
}

// MarkSaved records data as the last saved state, e.g. after a restore.
func (s *AutosaveSystem) MarkSaved(data []byte) {
	s.last = data
}

func (s *AutosaveSystem) save(force bool) (bool, error) {
	world := s.factory.World()
	if world == nil {
		return false, nil
	}
	data, err := part.Serialize(world)
	if err != nil {
		return false, err
	}
	if !force && bytes.Equal(data, s.last) {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, s.name, data, s.factory.Len()); err != nil {
		event.Emit(s.bus, event.SnapshotFailed{Name: s.name, Err: err})
		return false, err
	}
	s.last = data
	event.Emit(s.bus, event.SnapshotSaved{Name: s.name, PartCount: s.factory.Len(), Bytes: len(data)})
	s.log.Debug("snapshot saved",
		zap.String("snapshot", s.name),
		zap.Int("parts", s.factory.Len()),
		zap.Int("bytes", len(data)),
	)
	return true, nil
}

package bootstrap

import (
	"sync"

	"github.com/qdl-go/qdl/internal/core"
	"github.com/qdl-go/qdl/internal/filetype"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStaging   Phase = "staging"
	PhaseOpening   Phase = "opening device"
	PhaseHandshake Phase = "handshake"
	PhaseFlashing  Phase = "flashing"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

type StagedFile struct {
	Path string
	Kind filetype.Kind
}

// Snapshot is a copy of the run state, safe to hand to other goroutines.
type Snapshot struct {
	Phase  Phase
	Staged []StagedFile
	Device *core.Candidate
	Err    string
}

// State tracks the progress of a run. A nil *State ignores updates.
type State struct {
	mutex  sync.Mutex
	phase  Phase
	staged []StagedFile
	device *core.Candidate
	err    string
}

func NewState() *State {
	return &State{phase: PhaseIdle}
}

func (s *State) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{Phase: PhaseIdle}
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	snap := Snapshot{
		Phase:  s.phase,
		Staged: append([]StagedFile(nil), s.staged...),
		Err:    s.err,
	}
	if s.device != nil {
		d := *s.device
		snap.Device = &d
	}
	return snap
}

func (s *State) setPhase(p Phase) {
	if s == nil {
		return
	}
	s.mutex.Lock()
	s.phase = p
	s.mutex.Unlock()
}

func (s *State) addStaged(path string, kind filetype.Kind) {
	if s == nil {
		return
	}
	s.mutex.Lock()
	s.staged = append(s.staged, StagedFile{Path: path, Kind: kind})
	s.mutex.Unlock()
}

func (s *State) setDevice(c core.Candidate) {
	if s == nil {
		return
	}
	s.mutex.Lock()
	s.device = &c
	s.mutex.Unlock()
}

func (s *State) fail(err error) {
	if s == nil {
		return
	}
	s.mutex.Lock()
	s.phase = PhaseFailed
	s.err = err.Error()
	s.mutex.Unlock()
}

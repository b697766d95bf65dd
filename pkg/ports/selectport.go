package ports

import (
	"context"
	"fmt"

	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

// Select is an enumerated selector with labelled positions.
type Select struct {
	base
	backend Backend

	posCount uint16
	position *uint16
	labels   map[uint16]string
}

// NewSelect creates a select port with posCount positions.
func NewSelect(backend Backend, info Info, posCount uint16) *Select {
	s := &Select{backend: backend, posCount: posCount, labels: make(map[uint16]string)}
	s.init(info, KindSelect)
	return s
}

// PosCount returns the number of positions.
func (s *Select) PosCount() uint16 { return s.posCount }

// Position returns the selected position, always below PosCount.
func (s *Select) Position(ctx context.Context) (uint16, error) {
	s.mu.Lock()
	if s.position != nil {
		pos := *s.position
		s.mu.Unlock()
		return pos, nil
	}
	s.mu.Unlock()
	return s.Load(ctx)
}

// Load requests the current position from the device.
func (s *Select) Load(ctx context.Context) (uint16, error) {
	gen := s.begin()
	pos, err := s.backend.SelectPosition(ctx, s.info.ID)
	if err != nil {
		return 0, s.fail(err)
	}
	if pos >= s.posCount {
		return 0, s.mismatch(pos)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.position = &pos
	}
	return pos, nil
}

// SetPosition selects pos.
func (s *Select) SetPosition(ctx context.Context, pos uint16) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if pos >= s.posCount {
		return s.invalidf("position %d outside 0..%d", pos, int(s.posCount)-1)
	}

	gen := s.begin()
	got, err := s.backend.SetSelectPosition(ctx, s.info.ID, pos)
	if err != nil {
		return s.fail(err)
	}
	if got >= s.posCount {
		return s.mismatch(got)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.position = &got
	}
	return nil
}

// Label returns the label of pos, requesting it once and caching it.
func (s *Select) Label(ctx context.Context, pos uint16) (string, error) {
	if pos >= s.posCount {
		return "", s.invalidf("position %d outside 0..%d", pos, int(s.posCount)-1)
	}
	s.mu.Lock()
	if label, ok := s.labels[pos]; ok {
		s.mu.Unlock()
		return label, nil
	}
	s.mu.Unlock()

	gen := s.begin()
	label, err := s.backend.SelectLabel(ctx, s.info.ID, pos)
	if err != nil {
		return "", s.fail(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.labels[pos] = label
	}
	return label, nil
}

// Labels returns all position labels in order.
func (s *Select) Labels(ctx context.Context) ([]string, error) {
	labels := make([]string, 0, s.posCount)
	for pos := uint16(0); pos < s.posCount; pos++ {
		label, err := s.Label(ctx, pos)
		if err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}
	return labels, nil
}

// Refresh drops the cached position and labels.
func (s *Select) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidate()
	s.position = nil
	s.labels = make(map[uint16]string)
}

func (s *Select) mismatch(pos uint16) error {
	return fmt.Errorf("%w: port %s: device reported position %d of %d", wire.ErrProtocolMismatch, s.info.ID, pos, s.posCount)
}

func (s *Select) String() string {
	return fmt.Sprintf("SelectPort id=%s name=%q positions=%d", s.info.ID, s.info.Name, s.posCount)
}

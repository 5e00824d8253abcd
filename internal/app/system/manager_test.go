package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	name    string
	order   *[]string
	failing bool
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(_ context.Context) error {
	if s.failing {
		return errors.New("start failed")
	}
	*s.order = append(*s.order, "start:"+s.name)
	return nil
}

func (s *recordingService) Stop(_ context.Context) error {
	*s.order = append(*s.order, "stop:"+s.name)
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	var order []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recordingService{name: name, order: &order}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestManagerStartFailureRollsBack(t *testing.T) {
	var order []string
	m := NewManager()
	_ = m.Register(&recordingService{name: "ok", order: &order})
	_ = m.Register(&recordingService{name: "bad", order: &order, failing: true})

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	if len(order) != 2 || order[1] != "stop:ok" {
		t.Fatalf("expected rollback stop of started services, got %v", order)
	}
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	var order []string
	m := NewManager()
	if err := m.Register(&recordingService{name: "dup", order: &order}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := m.Register(&recordingService{name: "dup", order: &order}); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

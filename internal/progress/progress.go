// Package progress smooths the pipeline's stepwise percentages into an eased
// display value. The smoothing is cosmetic only; the underlying run state is
// never delayed by it.
package progress

import (
	"sync"
	"time"
)

const (
	tickInterval = 33 * time.Millisecond
	easeFactor   = 0.2
	minStep      = 0.5
)

// Update is one smoothed sample for a run.
type Update struct {
	Token   uint64
	Percent float64
	Status  string
}

// Smoother advances each run's displayed percentage toward its latest target
// a fraction at a time. Displayed values only move forward; a new run token
// starts over from zero.
type Smoother struct {
	mu      sync.Mutex
	runs    map[uint64]*smoothState
	publish func(Update)
	stop    chan struct{}
	done    chan struct{}
}

type smoothState struct {
	target    float64
	displayed float64
	status    string
	terminal  bool
}

func NewSmoother(publish func(Update)) *Smoother {
	return &Smoother{
		runs:    make(map[uint64]*smoothState),
		publish: publish,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *Smoother) Start() {
	go s.loop()
}

func (s *Smoother) Stop() {
	close(s.stop)
	<-s.done
}

// Set records the latest real percentage for a run. terminal marks the run's
// final sample; once its display catches up the run is dropped.
func (s *Smoother) Set(token uint64, percent float64, status string, terminal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.runs[token]
	if st == nil {
		st = &smoothState{}
		s.runs[token] = st
	}
	if percent > st.target {
		st.target = percent
	}
	st.status = status
	st.terminal = terminal
}

func (s *Smoother) loop() {
	defer close(s.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.step()
		}
	}
}

func (s *Smoother) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, st := range s.runs {
		delta := st.target - st.displayed
		if delta <= 0 {
			if st.terminal {
				delete(s.runs, token)
			}
			continue
		}
		step := delta * easeFactor
		if step < minStep {
			step = minStep
		}
		if step > delta {
			step = delta
		}
		st.displayed += step
		if s.publish != nil {
			s.publish(Update{Token: token, Percent: st.displayed, Status: st.status})
		}
	}
}

package dispenser

import (
	"errors"
	"sync"
)

var ErrOutOfStock = errors.New("out of candy")

// Stock is the candy counter the machine's guard consults.
type Stock struct {
	mu    sync.Mutex
	count int
}

func NewStock(n int) *Stock {
	if n < 0 {
		n = 0
	}
	return &Stock{count: n}
}

func (s *Stock) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Stock) Take() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return ErrOutOfStock
	}
	s.count--
	return nil
}

func (s *Stock) Refill(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.count += n
	}
	return s.count
}

package finmodel

import (
	"strconv"
	"sync"
)

// fakeStore is an in-memory stand-in for the store subpackage's
// collaborators, used by calculator/validator/orchestrator tests so the
// core package's tests don't need to import its own external consumer.
// It is safe for concurrent use, since RunMany shares it across scenarios.
type fakeStore struct {
	mu        sync.Mutex
	drivers   map[string]float64
	lineItems map[string]float64
	rates     map[string]float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		drivers:   make(map[string]float64),
		lineItems: make(map[string]float64),
		rates:     make(map[string]float64),
	}
}

func fakeKey(entity, scenario string, period int, code string) string {
	return entity + "|" + scenario + "|" + strconv.Itoa(period) + "|" + code
}

func (s *fakeStore) SetDriver(entity, scenario string, period int, code string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[fakeKey(entity, scenario, period, code)] = v
}

func (s *fakeStore) GetDriver(entity, scenario string, period int, code string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.drivers[fakeKey(entity, scenario, period, code)]
	return v, ok, nil
}

func (s *fakeStore) PutLineItem(entity, scenario string, period int, code string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineItems[fakeKey(entity, scenario, period, code)] = value
	return nil
}

func (s *fakeStore) GetLineItem(entity, scenario string, period int, code string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lineItems[fakeKey(entity, scenario, period, code)]
	return v, ok, nil
}

func (s *fakeStore) SetRate(from, to, rateType string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[from+"_"+to+"_"+rateType] = rate
}

func (s *fakeStore) GetRate(from, to, rateType string, ctx Context) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rates[from+"_"+to+"_"+rateType]
	return v, ok, nil
}

package remotecontent

import (
	"context"
	"sync"

	"github.com/eugenenazirov/launchkitd/internal/remoteflow"
)

// StaticFetcher serves flows from memory. It backs offline runs and tests.
type StaticFetcher struct {
	mu    sync.RWMutex
	flows map[string]remoteflow.Content
}

// NewStaticFetcher copies flows into a new fetcher.
func NewStaticFetcher(flows map[string]remoteflow.Content) *StaticFetcher {
	s := &StaticFetcher{flows: make(map[string]remoteflow.Content, len(flows))}
	for id, c := range flows {
		s.flows[id] = c
	}
	return s
}

// Put adds or replaces a flow.
func (s *StaticFetcher) Put(c remoteflow.Content) {
	s.mu.Lock()
	s.flows[c.FlowID] = c
	s.mu.Unlock()
}

// Fetch implements remoteflow.Fetcher.
func (s *StaticFetcher) Fetch(ctx context.Context, flowID string) (*remoteflow.Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, remoteflow.NewLoadError(remoteflow.KindNetwork, "", err)
	}

	s.mu.RLock()
	c, ok := s.flows[flowID]
	s.mu.RUnlock()
	if !ok {
		return nil, remoteflow.NewLoadError(remoteflow.KindNoContentAvailable, "", nil)
	}
	return &c, nil
}

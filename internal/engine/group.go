package engine

import (
	"sync"
	"time"

	"github.com/fluencelabs/go-client/internal/particle"
	"github.com/fluencelabs/go-client/internal/utils"
)

// group serializes AVM invocations for every item sharing one particle's
// signature: prevData is read and written only between two successive
// invocations of the same group, never concurrently.
type group struct {
	sigKey string

	mu       sync.Mutex
	prevData []byte

	ch chan *queueItem

	armTimer  sync.Once
	timer     *time.Timer
	onExpired func()

	logger *utils.Logger
}

func newGroup(sigKey string, logger *utils.Logger) *group {
	return &group{
		sigKey: sigKey,
		ch:     make(chan *queueItem, 32),
		logger: logger,
	}
}

// arm starts the group's single TTL timer on the first item observed: a
// one-shot timer at getActualTTL(p) that calls onExpireParticle.
func (g *group) arm(p *particle.Particle, onExpired func()) {
	g.armTimer.Do(func() {
		g.onExpired = onExpired
		g.timer = time.AfterFunc(particle.GetActualTTL(p), func() {
			g.logger.Debug("group ttl timer fired", utils.String("particleId", p.ID))
			onExpired()
		})
	})
}

// stopTimer cancels the group's TTL timer, e.g. once the lineage has fully
// completed and no further expiration handling is meaningful.
func (g *group) stopTimer() {
	if g.timer != nil {
		g.timer.Stop()
	}
}

// readPrevData returns the group-local AVM state for the next invocation.
func (g *group) readPrevData() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]byte, len(g.prevData))
	copy(out, g.prevData)
	return out
}

// commitPrevData applies the critical-section invariant: prevData advances
// only when the invocation returned with retCode==0, independent of any
// delivery or expiration outcome decided afterward.
func (g *group) commitPrevData(newData []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prevData = newData
}

package freespace

import (
	"context"

	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/internal/storage/layout"
	"github.com/yndnr/pagevault-go/pkg/flash"
)

// flushEvery bounds how many renewals may complete before the pool
// record is persisted. A crash loses at most this many renewed-bit
// updates; the affected pages stay out of the pool (a bounded space
// leak, never a correctness fault).
const flushEvery = 32

// renewLoop rewrites freed pages with fresh filler, rate-limited to
// bound wear, and returns them to the allocatable pool.
func (m *Manager) renewLoop() {
	defer close(m.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-m.stopCh
		cancel()
	}()

	sinceFlush := 0
	for {
		a, ok := m.takePending()
		if !ok {
			if sinceFlush > 0 {
				if err := m.Flush(); err != nil {
					m.logger.Error("free-pool flush failed", "error", err)
				}
				sinceFlush = 0
			}
			select {
			case <-m.stopCh:
				return
			case <-m.renewCh:
				continue
			}
		}

		if err := m.limiter.Wait(ctx); err != nil {
			return // shutting down
		}

		if err := m.renewPage(a); err != nil {
			// A page we cannot re-randomize must never re-enter the
			// pool; log and drop it.
			m.logger.Error("page renewal failed",
				"page", uint64(a),
				"error", err,
			)
			m.metrics.IncMediaFaults()
			continue
		}

		m.markRenewed(a)
		m.metrics.IncPagesRenewed()
		sinceFlush++
		if sinceFlush >= flushEvery {
			if err := m.Flush(); err != nil {
				m.logger.Error("free-pool flush failed", "error", err)
			}
			sinceFlush = 0
		}
	}
}

func (m *Manager) takePending() (domain.PhysAddr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return 0, false
	}
	a := m.pending[0]
	m.pending = m.pending[1:]
	return a, true
}

func (m *Manager) renewPage(a domain.PhysAddr) error {
	filler := make([]byte, m.medium.Geometry().PageSize)
	if err := m.entropy.Fill(filler); err != nil {
		return err
	}
	if err := flash.RewritePage(m.medium, uint64(a), filler); err != nil {
		return err
	}
	m.metrics.AddPagesProgrammed(1)
	return nil
}

func (m *Manager) markRenewed(a domain.PhysAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	layout.SetBit(m.bitmap, uint64(a-m.regions.DataFirst), true)
	m.dirty = true
}

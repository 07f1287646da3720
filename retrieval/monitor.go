package retrieval

import "github.com/poiesic/folio/core"

// Monitor receives callbacks at each stage of ranking.
type Monitor interface {
	Start(question string)
	AfterVariants(variants []string)
	AfterMerge(matches []core.Match)
	Fallback()
	Suppressed(match core.Match)
	Finish(refs []core.Reference)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)            {}
func (n *noopMonitor) AfterVariants(_ []string)  {}
func (n *noopMonitor) AfterMerge(_ []core.Match) {}
func (n *noopMonitor) Fallback()                 {}
func (n *noopMonitor) Suppressed(_ core.Match)   {}
func (n *noopMonitor) Finish(_ []core.Reference) {}

package catalog

import "sync/atomic"

// staleFlag signals other UI surfaces that cached catalog views should be
// refetched after a successful metadata report.
type staleFlag struct {
	v atomic.Bool
}

func (f *staleFlag) Mark()     { f.v.Store(true) }
func (f *staleFlag) Get() bool { return f.v.Load() }

func (f *staleFlag) Consume() bool {
	return f.v.Swap(false)
}

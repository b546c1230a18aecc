package subscription

import (
	"sync/atomic"

	"github.com/EthanQC/imsync/internal/ports/in"
)

type delegateBox struct {
	d in.Delegate
}

// DelegateSlot 可撤销的委托槽位；会话不拥有委托，断开时撤销即可，不需要弱引用
type DelegateSlot struct {
	p atomic.Pointer[delegateBox]
}

func NewDelegateSlot(d in.Delegate) *DelegateSlot {
	s := &DelegateSlot{}
	s.Set(d)
	return s
}

func (s *DelegateSlot) Set(d in.Delegate) {
	if d == nil {
		s.p.Store(nil)
		return
	}
	s.p.Store(&delegateBox{d: d})
}

// Get 撤销后返回空实现
func (s *DelegateSlot) Get() in.Delegate {
	if b := s.p.Load(); b != nil {
		return b.d
	}
	return in.NoopDelegate{}
}

func (s *DelegateSlot) Revoke() {
	s.p.Store(nil)
}

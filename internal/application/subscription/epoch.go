package subscription

import "sync/atomic"

// Epoch 会话代数，断开连接时递增，持有旧代数的处理器不再修改共享状态
type Epoch struct {
	v atomic.Uint64
}

// Token 当前代数
func (e *Epoch) Token() uint64 {
	return e.v.Load()
}

func (e *Epoch) Valid(token uint64) bool {
	return e.v.Load() == token
}

// Advance 使之前发出的所有 token 失效
func (e *Epoch) Advance() uint64 {
	return e.v.Add(1)
}

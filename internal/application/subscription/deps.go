package subscription

import (
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/application/coordinator"
	"github.com/EthanQC/imsync/internal/application/reconcile"
	"github.com/EthanQC/imsync/internal/application/store"
	"github.com/EthanQC/imsync/internal/ports/in"
)

// Deps 一个会话里所有处理器共享的依赖
type Deps struct {
	Stores      *store.Stores
	Engine      *reconcile.Engine
	Coordinator *coordinator.Coordinator
	Delegate    *DelegateSlot
	Epoch       *Epoch
	Logger      *zap.Logger
}

func (d *Deps) delegate() in.Delegate {
	return d.Delegate.Get()
}

// reportError 把错误交给委托
func (d *Deps) reportError(token uint64) func(error) {
	return func(err error) {
		if d.Epoch.Valid(token) {
			d.delegate().OnError(err)
		}
	}
}

func (d *Deps) newDispatcher(stream string, table map[string]eventFunc) *dispatcher {
	token := d.Epoch.Token()
	return &dispatcher{
		stream: stream,
		epoch:  d.Epoch,
		token:  token,
		table:  table,
		onErr:  d.reportError(token),
		logger: d.Logger.With(zap.String("stream", stream)),
	}
}

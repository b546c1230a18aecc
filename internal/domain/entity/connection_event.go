package entity

// ConnectionEventKind 连接事件类型
type ConnectionEventKind int

const (
	UserSubscriptionInit ConnectionEventKind = iota + 1
	PresenceSubscriptionInit
	CursorSubscriptionInit
)

func (k ConnectionEventKind) String() string {
	switch k {
	case UserSubscriptionInit:
		return "user_subscription_init"
	case PresenceSubscriptionInit:
		return "presence_subscription_init"
	case CursorSubscriptionInit:
		return "cursor_subscription_init"
	default:
		return "unknown"
	}
}

// AllConnectionEventKinds 一次完整连接需要的全部事件
func AllConnectionEventKinds() []ConnectionEventKind {
	return []ConnectionEventKind{UserSubscriptionInit, PresenceSubscriptionInit, CursorSubscriptionInit}
}

// ConnectionEvent 某个订阅初始化完成（或失败）的事件
// 同一个周期内同类事件最多一个，判等只看 Kind
type ConnectionEvent struct {
	Kind   ConnectionEventKind
	Result any
	Err    error
}

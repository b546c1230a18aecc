package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/application/coalesce"
	"github.com/EthanQC/imsync/internal/application/coordinator"
	"github.com/EthanQC/imsync/internal/application/enrich"
	"github.com/EthanQC/imsync/internal/application/reconcile"
	"github.com/EthanQC/imsync/internal/application/store"
	"github.com/EthanQC/imsync/internal/application/subscription"
	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/internal/ports/in"
	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
	"github.com/EthanQC/imsync/pkg/zlog"
)

const DefaultMessageLimit = 20

// Options 会话的时间参数，零值使用默认值
type Options struct {
	CursorDebounce time.Duration
	TypingTTL      time.Duration
	TypingLeeway   time.Duration
	MessageLimit   int
}

func (o Options) withDefaults() Options {
	if o.CursorDebounce <= 0 {
		o.CursorDebounce = 500 * time.Millisecond
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = coalesce.DefaultTypingTTL
	}
	if o.TypingLeeway <= 0 || o.TypingLeeway >= o.TypingTTL {
		o.TypingLeeway = coalesce.DefaultTypingLeeway
	}
	if o.MessageLimit <= 0 {
		o.MessageLimit = DefaultMessageLimit
	}
	return o
}

// ConnectFunc 连接结果，只回调一次
type ConnectFunc func(user *entity.User, err error)

type handler interface {
	Handle(ev out.Event)
	HandleError(err error)
}

// Session 当前用户的一次连接会话
// 会话拥有三个实体仓库、所有订阅流和出站合并器；Disconnect 之后不可再用
type Session struct {
	id        string
	userID    entity.UserID
	opts      Options
	transport out.Transport
	logger    *zap.Logger

	deps      *subscription.Deps
	messages  *enrich.MessageEnricher
	typing    *coalesce.TypingAggregator
	throttler *coalesce.TypingThrottler

	ctx    context.Context
	cancel context.CancelFunc

	connectOnce sync.Once
	connectCB   ConnectFunc

	mu          sync.Mutex
	connected   bool
	closed      bool
	userSub     out.Subscription
	cursorSub   out.Subscription
	presence    map[entity.UserID]out.Subscription
	memberships map[entity.RoomID]out.Subscription
	roomStreams map[entity.RoomID]out.Subscription
	debouncers  map[entity.RoomID]*coalesce.CursorDebouncer
}

func New(transport out.Transport, userID entity.UserID, opts Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.L()
	}
	opts = opts.withDefaults()
	id := uuid.NewString()
	ctx, logger := zlog.With(zlog.WithContext(context.Background(), logger),
		zap.String("user_id", string(userID)), zap.String("session", id))

	stores := store.NewStores(transport, logger)
	s := &Session{
		id:          id,
		userID:      userID,
		opts:        opts,
		transport:   transport,
		logger:      logger,
		presence:    make(map[entity.UserID]out.Subscription),
		memberships: make(map[entity.RoomID]out.Subscription),
		roomStreams: make(map[entity.RoomID]out.Subscription),
		debouncers:  make(map[entity.RoomID]*coalesce.CursorDebouncer),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.deps = &subscription.Deps{
		Stores:      stores,
		Engine:      reconcile.NewEngine(stores, logger),
		Coordinator: coordinator.New(entity.AllConnectionEventKinds(), logger),
		Delegate:    subscription.NewDelegateSlot(nil),
		Epoch:       &subscription.Epoch{},
		Logger:      logger,
	}
	s.messages = enrich.NewMessageEnricher(stores)
	s.typing = coalesce.NewTypingAggregator(opts.TypingTTL, s.onTypingStarted, s.onTypingStopped)
	s.throttler = coalesce.NewTypingThrottler(opts.TypingTTL, opts.TypingLeeway, s.sendTyping)

	stores.Users.AddHook(func(u *entity.User, created bool) {
		if created {
			s.openPresence(u.ID)
		}
	})
	return s
}

func (s *Session) ID() string { return s.id }

// Stores 会话的实体仓库，只读使用
func (s *Session) Stores() *store.Stores { return s.deps.Stores }

// Connect 打开用户和游标订阅，三类初始化事件都到齐后回调一次
func (s *Session) Connect(d in.Delegate, cb ConnectFunc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.ErrSessionClosed
	}
	if s.connected {
		s.mu.Unlock()
		return errs.Invariant("session %s already connected", s.id)
	}
	s.connected = true
	s.connectCB = cb
	s.mu.Unlock()

	s.deps.Delegate.Set(d)
	s.deps.Coordinator.AddWaiter(entity.AllConnectionEventKinds(), s.onInitialized)

	userHandler := subscription.NewUserHandler(s.deps, s.userID, s)
	userSub, err := s.subscribe("/users", userHandler)
	if err != nil {
		// 当前用户的在线状态订阅依赖用户订阅，同样记为失败
		userHandler.HandleError(err)
		s.deps.Coordinator.RecordCompletion(entity.ConnectionEvent{Kind: entity.PresenceSubscriptionInit, Err: err})
	}

	cursorHandler := subscription.NewCursorHandler(s.ctx, s.deps, s.userID)
	cursorSub, cerr := s.subscribe(fmt.Sprintf("/cursors/%d/users/%s", entity.CursorTypeRead, url.PathEscape(string(s.userID))), cursorHandler)
	if cerr != nil {
		cursorHandler.HandleError(cerr)
	}

	s.mu.Lock()
	s.userSub, s.cursorSub = userSub, cursorSub
	closed := s.closed
	s.mu.Unlock()
	if closed {
		closeSub(userSub)
		closeSub(cursorSub)
	}
	return nil
}

func (s *Session) onInitialized(events []entity.ConnectionEvent) {
	if err := coordinator.FirstError(events); err != nil {
		s.logger.Error("connect failed", zap.Error(err))
		s.finishConnect(nil, err)
		return
	}
	for _, ev := range events {
		if ev.Kind == entity.UserSubscriptionInit {
			user, _ := ev.Result.(*entity.User)
			s.logger.Info("connected", zap.Int("rooms", s.deps.Stores.Rooms.Len()))
			s.finishConnect(user, nil)
			return
		}
	}
	s.finishConnect(nil, errs.Invariant("connected without current user"))
}

func (s *Session) finishConnect(user *entity.User, err error) {
	s.connectOnce.Do(func() {
		if s.connectCB != nil {
			s.connectCB(user, err)
		}
	})
}

// Disconnect 结束会话：旧的处理器和委托立即失效，关闭所有流和计时器，可重复调用
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.deps.Epoch.Advance()
	s.deps.Delegate.Revoke()
	s.cancel()

	subs := []out.Subscription{s.userSub, s.cursorSub}
	for _, sub := range s.presence {
		subs = append(subs, sub)
	}
	for _, sub := range s.memberships {
		subs = append(subs, sub)
	}
	for _, sub := range s.roomStreams {
		subs = append(subs, sub)
	}
	debouncers := make([]*coalesce.CursorDebouncer, 0, len(s.debouncers))
	for _, d := range s.debouncers {
		debouncers = append(debouncers, d)
	}
	s.presence = map[entity.UserID]out.Subscription{}
	s.memberships = map[entity.RoomID]out.Subscription{}
	s.roomStreams = map[entity.RoomID]out.Subscription{}
	s.debouncers = map[entity.RoomID]*coalesce.CursorDebouncer{}
	s.mu.Unlock()

	for _, sub := range subs {
		closeSub(sub)
	}
	for _, d := range debouncers {
		d.Close()
	}
	s.typing.Close()
	s.finishConnect(nil, errs.ErrSessionClosed)
	s.logger.Info("disconnected")
}

// CurrentUser 当前用户，初始化之前返回 nil
func (s *Session) CurrentUser() *entity.User {
	u, ok := s.deps.Stores.Users.Find(s.userID)
	if !ok {
		return nil
	}
	return u
}

func (s *Session) subscribe(path string, h handler) (out.Subscription, error) {
	sub, err := s.transport.Subscribe(s.ctx, path, h.Handle, h.HandleError)
	if err != nil {
		err = errs.Transport("subscribe "+path, err)
		s.logger.Error("subscribe failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	s.logger.Debug("subscribed", zap.String("path", path))
	return sub, nil
}

// openPresence 用户第一次进入仓库时打开其在线状态订阅
func (s *Session) openPresence(id entity.UserID) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.presence[id]; ok {
		s.mu.Unlock()
		return
	}
	// 占位，防止并发重复打开
	s.presence[id] = nil
	s.mu.Unlock()

	h := subscription.NewPresenceHandler(s.deps, id, id == s.userID)
	sub, err := s.subscribe("/users/"+url.PathEscape(string(id))+"/presence", h)
	if err != nil {
		h.HandleError(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		closeSub(sub)
		return
	}
	s.presence[id] = sub
	s.mu.Unlock()
}

func (s *Session) onTypingStarted(roomID entity.RoomID, userID entity.UserID) {
	room, user, ok := s.resolveTyping(roomID, userID)
	if ok {
		s.deps.Delegate.Get().OnUserStartedTyping(room, user)
	}
}

func (s *Session) onTypingStopped(roomID entity.RoomID, userID entity.UserID) {
	room, user, ok := s.resolveTyping(roomID, userID)
	if ok {
		s.deps.Delegate.Get().OnUserStoppedTyping(room, user)
	}
}

func (s *Session) resolveTyping(roomID entity.RoomID, userID entity.UserID) (*entity.Room, *entity.User, bool) {
	room, ok := s.deps.Stores.Rooms.Find(roomID)
	if !ok {
		return nil, nil, false
	}
	user, ok := s.deps.Stores.Users.Find(userID)
	if !ok {
		return nil, nil, false
	}
	return room, user, true
}

func closeSub(sub out.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		zap.L().Debug("close subscription failed", zap.Error(err))
	}
}

package websocket

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"social-app/internal/admin"
	"social-app/internal/config"
	"social-app/internal/messaging"
	"social-app/internal/metrics"
	"social-app/internal/models"
	"social-app/internal/notify"
	"social-app/internal/presence"
	"social-app/internal/session"
	"social-app/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const handlerTimeout = 10 * time.Second

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error)

// route binds an inbound event to its handler. When the client sent no
// ackId, a successful result is emitted as reply (if set).
type route struct {
	handle handlerFunc
	reply  models.EventType
}

// Router owns connection lifecycle and dispatches inbound events. Events on
// one connection are handled in arrival order.
type Router struct {
	hub       *Hub
	registry  *session.Registry
	presence  *presence.Tracker
	notifier  *notify.Notifier
	messaging *messaging.Service
	admin     *admin.Service
	cfg       config.RealtimeConfig
	validate  *validator.Validate
	now       func() time.Time

	routes map[string]map[models.EventType]route
}

func NewRouter(hub *Hub, registry *session.Registry, tracker *presence.Tracker, notifier *notify.Notifier, msgs *messaging.Service, adm *admin.Service, cfg config.RealtimeConfig) *Router {
	r := &Router{
		hub:       hub,
		registry:  registry,
		presence:  tracker,
		notifier:  notifier,
		messaging: msgs,
		admin:     adm,
		cfg:       cfg,
		validate:  validator.New(),
		now:       time.Now,
	}
	r.routes = map[string]map[models.EventType]route{
		models.NamespaceDefault: r.defaultRoutes(),
		models.NamespaceAdmin:   r.adminRoutes(),
	}
	return r
}

// bind decodes and validates P before calling fn.
func bind[P any](r *Router, fn func(context.Context, *Client, P) (interface{}, error)) handlerFunc {
	return func(ctx context.Context, c *Client, data json.RawMessage) (interface{}, error) {
		var p P
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, &models.Error{Kind: models.KindValidation, Code: models.ErrInvalidPayload.Code, Message: models.ErrInvalidPayload.Message, Err: err}
			}
		}
		if err := r.validate.Struct(p); err != nil {
			return nil, &models.Error{Kind: models.KindValidation, Code: models.ErrInvalidPayload.Code, Message: models.ErrInvalidPayload.Message, Err: err}
		}
		return fn(ctx, c, p)
	}
}

type empty struct{}

func (r *Router) defaultRoutes() map[models.EventType]route {
	m := r.messaging
	return map[models.EventType]route{
		models.EventSendMessage: {reply: models.EventMessageSent, handle: bind(r, func(ctx context.Context, c *Client, p models.SendMessagePayload) (interface{}, error) {
			return m.Send(ctx, c.Actor(), p)
		})},
		models.EventEditMessage: {handle: bind(r, func(ctx context.Context, c *Client, p models.EditMessagePayload) (interface{}, error) {
			return m.Edit(ctx, c.Actor(), p)
		})},
		models.EventDeleteMessage: {handle: bind(r, func(ctx context.Context, c *Client, p models.DeleteMessagePayload) (interface{}, error) {
			return m.Delete(ctx, c.Actor(), p)
		})},
		models.EventTyping: {handle: bind(r, func(ctx context.Context, c *Client, p models.TypingPayload) (interface{}, error) {
			return nil, m.Typing(ctx, c.Actor(), p)
		})},
		models.EventMessageDelivered: {handle: bind(r, func(ctx context.Context, c *Client, p models.ReceiptPayload) (interface{}, error) {
			return m.MarkDelivered(ctx, c.Actor(), p)
		})},
		models.EventMessageRead: {handle: bind(r, func(ctx context.Context, c *Client, p models.ReceiptPayload) (interface{}, error) {
			return m.MarkRead(ctx, c.Actor(), p)
		})},
		models.EventMarkConversationRead: {handle: bind(r, func(ctx context.Context, c *Client, p models.ConversationPayload) (interface{}, error) {
			return m.MarkConversationRead(ctx, c.Actor(), p)
		})},
		models.EventFetchMessages: {reply: models.EventFetchMessages, handle: bind(r, func(ctx context.Context, c *Client, p models.FetchMessagesPayload) (interface{}, error) {
			return m.FetchMessages(ctx, c.Actor(), p)
		})},
		models.EventJoinRoom: {handle: bind(r, func(ctx context.Context, c *Client, p models.ConversationPayload) (interface{}, error) {
			return nil, m.JoinRoom(ctx, c.Actor(), p)
		})},
		models.EventLeaveRoom: {handle: bind(r, func(ctx context.Context, c *Client, p models.ConversationPayload) (interface{}, error) {
			return nil, m.LeaveRoom(ctx, c.Actor(), p)
		})},
		models.EventHeartbeat: {reply: models.EventHeartbeatAck, handle: bind(r, r.heartbeat)},
		models.EventSetStatus: {handle: bind(r, func(_ context.Context, c *Client, p models.SetStatusPayload) (interface{}, error) {
			return r.presence.SetStatus(c.principal.ID, p.Status)
		})},
		models.EventCheckUserPresence: {reply: models.EventCheckUserPresence, handle: bind(r, func(_ context.Context, _ *Client, p models.UserPayload) (interface{}, error) {
			return r.presence.Info(p.UserID), nil
		})},
		models.EventGetOnlineAmong: {reply: models.EventGetOnlineAmong, handle: bind(r, func(_ context.Context, _ *Client, p models.UserIDsPayload) (interface{}, error) {
			return r.presence.OnlineAmong(p.UserIDs), nil
		})},
		models.EventSubscribeNotifications: {handle: bind(r, func(_ context.Context, c *Client, _ empty) (interface{}, error) {
			if !r.hub.Join(c.id, models.NotificationRoom(c.principal.ID)) {
				return nil, models.Internal(fmt.Errorf("connection %s closed", c.id))
			}
			return nil, nil
		})},
		models.EventUnsubscribeNotifications: {handle: bind(r, func(_ context.Context, c *Client, _ empty) (interface{}, error) {
			r.hub.Leave(c.id, models.NotificationRoom(c.principal.ID))
			return nil, nil
		})},
		models.EventMarkNotificationRead: {handle: bind(r, func(_ context.Context, c *Client, p models.NotificationReadPayload) (interface{}, error) {
			data := models.NotificationReadData{NotificationID: p.NotificationID}
			r.notifier.NotifyExcept(c.principal.ID, c.id, models.NewEvent(models.EventNotificationRead, data))
			return data, nil
		})},
	}
}

func (r *Router) adminRoutes() map[models.EventType]route {
	a := r.admin
	return map[models.EventType]route{
		models.EventDashboardStats: {reply: models.EventDashboardStats, handle: bind(r, func(ctx context.Context, c *Client, _ empty) (interface{}, error) {
			return a.DashboardStats(ctx, c.Actor())
		})},
		models.EventOnlineUsers: {reply: models.EventOnlineUsers, handle: bind(r, func(ctx context.Context, c *Client, _ empty) (interface{}, error) {
			return a.OnlineUsers(ctx, c.Actor())
		})},
		models.EventBroadcastMessage: {handle: bind(r, func(ctx context.Context, c *Client, p models.AdminBroadcastPayload) (interface{}, error) {
			return a.Broadcast(ctx, c.Actor(), p)
		})},
		models.EventKickUser: {handle: bind(r, func(ctx context.Context, c *Client, p models.KickPayload) (interface{}, error) {
			return a.Kick(ctx, c.Actor(), p)
		})},
		models.EventGetUserSessions: {reply: models.EventGetUserSessions, handle: bind(r, func(ctx context.Context, c *Client, p models.UserPayload) (interface{}, error) {
			return a.InspectSessions(ctx, c.Actor(), p)
		})},
		models.EventHeartbeat: {reply: models.EventHeartbeatAck, handle: bind(r, r.heartbeat)},
	}
}

func (r *Router) heartbeat(_ context.Context, c *Client, _ empty) (interface{}, error) {
	r.registry.Touch(c.principal.ID)
	return models.HeartbeatAckData{Timestamp: r.now()}, nil
}

// Attach registers an upgraded connection and starts its pumps. Only
// default-namespace connections count as tabs for presence.
func (r *Router) Attach(conn *websocket.Conn, principal models.Principal, namespace string) *Client {
	c := NewClient(r.hub, conn, principal, namespace, r.cfg)
	r.hub.Register(c)
	if namespace == models.NamespaceDefault {
		r.presence.Connect(principal.ID, c.id)
	}
	log := logger.With().
		Str("connection_id", c.id).
		Str("principal_id", principal.ID).
		Str("namespace", namespace).
		Logger()
	log.Info().Msg("connection opened")

	go c.WritePump()
	go c.ReadPump(r.Dispatch, r.detach)
	return c
}

func (r *Router) detach(c *Client) {
	r.hub.Unregister(c)
	r.notifier.DropConnection(c.id)
	if c.namespace == models.NamespaceDefault {
		r.presence.Disconnect(c.principal.ID, c.id)
	}
	logger.Debugw().
		Str("connection_id", c.id).
		Str("principal_id", c.principal.ID).
		Msg("connection closed")
}

// Dispatch handles one inbound frame.
func (r *Router) Dispatch(c *Client, raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.respond(c, env, nil, &models.Error{Kind: models.KindValidation, Code: models.ErrInvalidPayload.Code, Message: models.ErrInvalidPayload.Message, Err: err})
		return
	}
	metrics.ObserveEventReceived(string(env.Type))

	if !c.allow() {
		r.respond(c, env, nil, models.ErrRateLimited)
		return
	}
	if env.Type == models.EventAck {
		r.notifier.ResolveAck(env.AckID, c.id)
		return
	}

	rt, ok := r.routes[c.namespace][env.Type]
	if !ok {
		r.respond(c, env, nil, models.ErrUnknownEvent)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	data, err := r.invoke(ctx, rt.handle, c, env)
	if err == nil && env.AckID == "" && rt.reply != "" {
		c.hub.EmitTo([]string{c.id}, models.NewEvent(rt.reply, data))
		return
	}
	r.respond(c, env, data, err)
}

// invoke runs a handler and turns a panic into an internal error.
func (r *Router) invoke(ctx context.Context, h handlerFunc, c *Client, env models.Envelope) (data interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorw().
				Str("connection_id", c.id).
				Str("principal_id", c.principal.ID).
				Str("event", string(env.Type)).
				Str("stack", string(debug.Stack())).
				Msgf("handler panic: %v", rec)
			data, err = nil, models.Internal(fmt.Errorf("panic in %s: %v", env.Type, rec))
		}
	}()
	return h(ctx, c, env.Data)
}

// respond acks the event when the client asked for it, otherwise reports
// failures as an error event to the originating connection only.
func (r *Router) respond(c *Client, env models.Envelope, data interface{}, err error) {
	if err != nil {
		r.logFailure(c, env, err)
	}

	if env.AckID != "" {
		ack := models.AckResponse{Success: err == nil, Data: data}
		if err != nil {
			ack.Error = models.NewErrorBody(err, env.Type)
			// A failed send still returns its failed status for the client's optimistic copy.
			if sent, ok := data.(*models.MessageSentData); !ok || sent == nil {
				ack.Data = nil
			}
		}
		r.hub.EmitTo([]string{c.id}, models.Event{Type: models.EventAck, AckID: env.AckID, Data: ack})
		return
	}
	if err != nil {
		r.hub.EmitTo([]string{c.id}, models.NewEvent(models.EventError, models.NewErrorBody(err, env.Type)))
	}
}

func (r *Router) logFailure(c *Client, env models.Envelope, err error) {
	kind := models.KindOf(err)
	metrics.ObserveHandlerError(string(kind))

	ev := logger.Debugw()
	switch kind {
	case models.KindInternal, models.KindTransient:
		ev = logger.Errorw()
	case models.KindAuthorization:
		ev = logger.Warnw()
	}
	ev.Err(err).
		Str("connection_id", c.id).
		Str("principal_id", c.principal.ID).
		Str("event", string(env.Type)).
		Str("kind", string(kind)).
		Msg("event failed")
}

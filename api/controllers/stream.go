package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/angelmondragon/todolimpio-backend/api/middleware"
	"github.com/angelmondragon/todolimpio-backend/api/responses"
	"github.com/angelmondragon/todolimpio-backend/internal/orders"
	"github.com/angelmondragon/todolimpio-backend/internal/reconciler"
	"github.com/angelmondragon/todolimpio-backend/internal/users"
	pkgerrors "github.com/angelmondragon/todolimpio-backend/pkg/errors"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
	"github.com/angelmondragon/todolimpio-backend/pkg/types"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPongTimeout  = 60 * time.Second
	streamPingInterval = streamPongTimeout * 9 / 10
	streamReadLimit    = 512

	frameSnapshot = "snapshot"
	frameError    = "error"
)

type streamFrame[T any] struct {
	Type    string           `json:"type"`
	ID      string           `json:"id,omitempty"`
	Record  *T               `json:"record,omitempty"`
	Records []T              `json:"records,omitempty"`
	Error   *types.ErrorBody `json:"error,omitempty"`
}

// snapshotFrame always carries records, even when the list is empty.
type snapshotFrame[T any] struct {
	Type    string `json:"type"`
	Records []T    `json:"records"`
}

// StreamScope resolves the reconciler scope for the calling request.
type StreamScope[T any] func(r *http.Request) (reconciler.Config[T], error)

// Streamer upgrades requests to WebSocket connections that each own one
// reconciler: a snapshot frame first, then one frame per folded change.
type Streamer struct {
	src      reconciler.Source
	upgrader websocket.Upgrader
	logg     *logger.Logger
}

// NewStreamer accepts upgrades from the listed origins. Requests without an
// Origin header (non-browser clients) are always accepted.
func NewStreamer(src reconciler.Source, allowedOrigins []string, logg *logger.Logger) *Streamer {
	if logg == nil {
		logg = logger.Nop()
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return &Streamer{
		src:  src,
		logg: logg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
	}
}

func originAllowed(origins []string, origin string) bool {
	if origin == "" || slices.Contains(origins, "*") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return slices.Contains(origins, u.Scheme+"://"+u.Host)
}

// Stream serves one reconciler per connection. Scope errors are reported as
// plain HTTP errors before the upgrade.
func Stream[T any](s *Streamer, scope StreamScope[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := scope(r)
		if err != nil {
			responses.WriteError(r.Context(), s.logg, w, err)
			return
		}
		rec, err := reconciler.New(s.src, cfg, s.logg)
		if err != nil {
			responses.WriteError(r.Context(), s.logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stream setup"))
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader already answered the request
			s.logg.Warn(s.logg.WithField(r.Context(), "error", err.Error()), "stream.upgrade_failed")
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		defer rec.Deactivate()

		ctx = s.logg.WithField(ctx, "table", cfg.Table)
		s.logg.Info(ctx, "stream.opened")
		defer s.logg.Info(ctx, "stream.closed")

		go s.readLoop(conn, cancel)
		go s.pingLoop(ctx, conn)

		if err := rec.Activate(ctx); err != nil {
			s.fail(ctx, conn, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "initial load failed"))
			return
		}
		if err := s.write(conn, snapshotFrame[T]{Type: frameSnapshot, Records: nonNil(rec.Snapshot())}); err != nil {
			return
		}

		for {
			change, err := rec.Next(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, reconciler.ErrDeactivated) {
					return
				}
				s.fail(ctx, conn, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "change feed interrupted"))
				return
			}
			if err := s.write(conn, changeFrame(change)); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "stream.write_failed")
				return
			}
		}
	}
}

func changeFrame[T any](c reconciler.Change[T]) streamFrame[T] {
	frame := streamFrame[T]{Type: string(c.Type), ID: c.ID, Record: c.Record}
	if c.Type == reconciler.ChangeResync {
		frame.Records = nonNil(c.Records)
	}
	return frame
}

// readLoop drains client frames so control messages are processed and
// cancels the connection context once the client goes away.
func (s *Streamer) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *Streamer) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Streamer) write(conn *websocket.Conn, frame any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}

// fail sends an error frame and closes the connection.
func (s *Streamer) fail(ctx context.Context, conn *websocket.Conn, err error) {
	s.logg.Error(ctx, "stream.failed", err)
	envelope, _ := responses.Envelope(err)
	_ = s.write(conn, streamFrame[struct{}]{Type: frameError, Error: &envelope.Error})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, envelope.Error.Message),
		time.Now().Add(streamWriteTimeout))
}

// OrderStream follows the caller's own orders.
func OrderStream(s *Streamer, svc orders.Service) http.HandlerFunc {
	return Stream(s, func(r *http.Request) (reconciler.Config[orders.Record], error) {
		return svc.UserScope(middleware.IdentityFromContext(r.Context()))
	})
}

// AdminOrderStream follows every order.
func AdminOrderStream(s *Streamer, svc orders.Service) http.HandlerFunc {
	return Stream(s, func(*http.Request) (reconciler.Config[orders.Record], error) {
		return svc.AdminScope(), nil
	})
}

func AdminUserStream(s *Streamer, svc users.Service) http.HandlerFunc {
	return Stream(s, func(*http.Request) (reconciler.Config[users.Record], error) {
		return svc.StreamScope(), nil
	})
}

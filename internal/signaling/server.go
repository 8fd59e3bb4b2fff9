package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Ankitkumar72/Huddle/internal/auth"
	"github.com/Ankitkumar72/Huddle/internal/metrics"
	"github.com/Ankitkumar72/Huddle/internal/ratelimit"
	"github.com/Ankitkumar72/Huddle/internal/room"
)

// TokenVerifier is the slice of internal/auth the relay needs. Tests plug in
// stubs; production wires *auth.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Claims, error)
}

type Config struct {
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// Server is the relay controller. One ServeHTTP call runs one connection's
// whole lifecycle: handshake parse, authentication, room admission, the
// message loop, and teardown.
type Server struct {
	log      *slog.Logger
	verifier TokenVerifier
	rooms    *room.Registry
	metrics  *metrics.Metrics
	cfg      Config
	clock    ratelimit.Clock
	upgrader websocket.Upgrader
}

func NewServer(logger *slog.Logger, verifier TokenVerifier, rooms *room.Registry, m *metrics.Metrics, cfg Config) *Server {
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		log:      logger,
		verifier: verifier,
		rooms:    rooms,
		metrics:  m,
		cfg:      cfg,
		clock:    ratelimit.RealClock{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /ws", s)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	p := newWSPeer(conn)

	q := r.URL.Query()
	roomCode, roomOK := sanitizeRoomCode(q.Get("room"))
	clientID, clientOK := sanitizeClientID(q.Get("clientId"))
	token := q.Get("token")

	if !roomOK || !clientOK || token == "" {
		s.metrics.Inc(metrics.EventBadRequest)
		_ = p.Send(errorMessage(CodeBadRequest, "Query requires room, clientId, and token."))
		writeClose(conn, CloseBadRequest, "missing_room_or_client_or_token")
		return
	}

	claims, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		s.metrics.Inc(metrics.EventAuthFailed)
		s.log.Warn("auth failed", "room", roomCode)
		_ = p.Send(errorMessage(CodeAuthFailed, "Invalid or expired session token."))
		writeClose(conn, CloseAuthFailed, "auth_failed")
		return
	}

	// The client-supplied clientId is announced to peers as-is; it is not
	// checked against claims.Subject. Kept as an explicit trust decision, with
	// the subject recorded on the membership row for a future binding check.
	id := room.NewMemberID()
	created, err := s.rooms.Join(roomCode, room.Member{
		ID:       id,
		ClientID: clientID,
		Subject:  claims.Subject,
		Peer:     p,
	})
	if errors.Is(err, room.ErrRoomFull) {
		s.metrics.Inc(metrics.EventRoomFull)
		_ = p.Send(errorMessage(CodeRoomFull, "Room has reached max capacity."))
		writeClose(conn, CloseRoomFull, "room_full")
		return
	}
	if err != nil {
		s.metrics.Inc(metrics.EventJoinFailed)
		s.log.Error("join failed", "room", roomCode, "err", err)
		writeClose(conn, websocket.CloseInternalServerErr, "join_failure")
		return
	}

	s.metrics.Inc(metrics.EventJoin)
	if created {
		s.metrics.Inc(metrics.EventRoomCreated)
	}
	s.log.Info("member joined", "room", roomCode, "subject", claims.Subject)
	s.notifyPeers(roomCode, id, TypePeerJoined, clientID)

	defer s.removeMember(id, clientID)

	limiter := ratelimit.NewWindow(s.clock, s.cfg.MaxMessagesPerSecond)
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			// Peer disconnect or transport failure; teardown runs once in the
			// deferred removeMember.
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if !limiter.Allow() {
			s.metrics.Inc(metrics.EventRateLimited)
			s.log.Warn("rate limited", "room", roomCode)
			_ = p.Send(errorMessage(CodeRateLimited, fmt.Sprintf("Max %d messages/sec.", s.cfg.MaxMessagesPerSecond)))
			continue
		}

		s.rooms.Touch(roomCode)
		s.fanOut(roomCode, id, msg)
		s.metrics.Inc(metrics.EventRelayed)
	}
}

// fanOut delivers msg to the room's current members other than the sender,
// concurrently across recipients and best-effort: a failed send to one peer
// is logged and never affects the sender or the other recipients. It returns
// only once every send attempt has completed, so the caller's read loop
// cannot start relaying its next frame while this one is still in flight;
// that keeps each sender's messages arriving at every peer in send order.
func (s *Server) fanOut(roomCode string, sender room.MemberID, msg []byte) {
	var wg sync.WaitGroup
	for _, target := range s.rooms.BroadcastTargets(roomCode, sender) {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := target.Peer.Send(msg); err != nil {
				s.metrics.Inc(metrics.EventSendFailed)
				s.log.Debug("relay send failed", "room", roomCode, "err", err)
			}
		}()
	}
	wg.Wait()
}

// notifyPeers broadcasts a server-originated peer event. Best-effort and
// exempt from rate limiting; like fanOut it waits for its sends, so a
// peer_joined can never be overtaken by the new member's first relayed frame.
func (s *Server) notifyPeers(roomCode string, about room.MemberID, eventType, peerID string) {
	msg := peerEventMessage(eventType, peerID, s.clock.Now())
	var wg sync.WaitGroup
	for _, target := range s.rooms.BroadcastTargets(roomCode, about) {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := target.Peer.Send(msg); err != nil {
				s.metrics.Inc(metrics.EventSendFailed)
				s.log.Debug("notify send failed", "room", roomCode, "event", eventType, "err", err)
			}
		}()
	}
	wg.Wait()
}

// removeMember runs the Closing -> Closed transition. The registry's session
// table makes it idempotent: once the row is gone (earlier close, or reaper
// eviction) there is nothing to remove or announce.
func (s *Server) removeMember(id room.MemberID, clientID string) {
	roomCode, wasLast, ok := s.rooms.Leave(id)
	if !ok {
		return
	}
	s.metrics.Inc(metrics.EventLeave)
	if wasLast {
		s.metrics.Inc(metrics.EventRoomDeleted)
		s.log.Info("room deleted", "room", roomCode)
		return
	}
	s.log.Info("member left", "room", roomCode)
	s.notifyPeers(roomCode, id, TypePeerLeft, clientID)
}

package gatewayclient

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrAlreadyOpen is returned by Open on a session that already has a live
// websocket connection.
var ErrAlreadyOpen = errors.New("gatewayclient: session already open")

// ErrNotOpen is returned by operations that require a live websocket
// connection when none exists.
var ErrNotOpen = errors.New("gatewayclient: no websocket connection")

// failedHeartbeatAckMultiplier bounds how many missed heartbeat intervals
// this client tolerates before forcing a reconnect, matching the teacher's
// FailedHeartbeatAcks constant's role (its literal value was a bug — five
// milliseconds instead of five intervals — corrected here).
const failedHeartbeatAckMultiplier = 5

// Dispatcher receives one decoded gateway dispatch event per call.
// Implemented by internal/dispatch.Dispatcher; kept narrow here the same
// way internal/backfill.Requester keeps that package out of this one.
type Dispatcher interface {
	Dispatch(ctx context.Context, shard int, eventType string, raw json.RawMessage)
}

// session owns one shard's websocket connection, grounded on the teacher's
// Session in session.go: same identify/resume/heartbeat/reconnect shape,
// trimmed of the teacher's redis-backed Unavailables bookkeeping (this
// cluster tracks guild availability in internal/cache instead).
type session struct {
	token      string
	shardID    int
	shardCount int
	gateway    string
	dispatcher Dispatcher
	log        zerolog.Logger

	mu     sync.RWMutex
	wsConn *websocket.Conn

	wsMu sync.Mutex

	sequence  int64
	sessionID string

	listening chan struct{}

	lastAck time.Time
}

func newSession(token string, shardID, shardCount int, gateway string, dispatcher Dispatcher, log zerolog.Logger) *session {
	return &session{
		token:      token,
		shardID:    shardID,
		shardCount: shardCount,
		gateway:    gateway,
		dispatcher: dispatcher,
		log:        log.With().Int("shard", shardID).Logger(),
	}
}

// Open dials the gateway, performs the identify/resume handshake, and
// starts the heartbeat and listen goroutines.
func (s *session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wsConn != nil {
		return ErrAlreadyOpen
	}

	s.log.Info().Str("gateway", s.gateway).Msg("connecting to gateway")

	conn, _, err := websocket.DefaultDialer.Dial(s.gateway, nil)
	if err != nil {
		return fmt.Errorf("gatewayclient: dialing gateway: %w", err)
	}
	s.wsConn = conn

	mt, raw, err := conn.ReadMessage()
	if err != nil {
		s.wsConn = nil
		return fmt.Errorf("gatewayclient: reading hello: %w", err)
	}
	ev, err := s.decode(mt, raw)
	if err != nil {
		s.wsConn = nil
		return err
	}
	if ev.Operation != opHello {
		s.wsConn = nil
		return fmt.Errorf("gatewayclient: expected Op %d (hello), got Op %d", opHello, ev.Operation)
	}

	var h hello
	if err := json.Unmarshal(ev.RawData, &h); err != nil {
		s.wsConn = nil
		return fmt.Errorf("gatewayclient: decoding hello: %w", err)
	}
	s.lastAck = time.Now()

	if s.sessionID == "" && atomic.LoadInt64(&s.sequence) == 0 {
		if err := s.identify(); err != nil {
			s.wsConn = nil
			return fmt.Errorf("gatewayclient: identify: %w", err)
		}
	} else if err := s.resume(); err != nil {
		s.wsConn = nil
		return fmt.Errorf("gatewayclient: resume: %w", err)
	}

	s.listening = make(chan struct{})
	go s.heartbeat(time.Duration(h.HeartbeatInterval) * time.Millisecond)
	go s.listen(conn, s.listening)
	return nil
}

func (s *session) identify() error {
	var shard *[2]int
	if s.shardCount > 1 {
		shard = &[2]int{s.shardID, s.shardCount}
	}

	op := identify{
		Op: opIdentify,
		Data: identifyData{
			Token: s.token,
			Properties: identifyProperties{
				OS:      runtime.GOOS,
				Browser: "gearbot",
				Device:  "gearbot",
			},
			LargeThreshold: 250,
			Compress:       false,
			Shard:          shard,
		},
	}
	return s.writeJSON(op)
}

func (s *session) resume() error {
	op := resume{
		Op: 6,
		Data: resumeData{
			Token:     s.token,
			SessionID: s.sessionID,
			Sequence:  atomic.LoadInt64(&s.sequence),
		},
	}
	return s.writeJSON(op)
}

func (s *session) writeJSON(v interface{}) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.wsConn == nil {
		return ErrNotOpen
	}
	return s.wsConn.WriteJSON(v)
}

func (s *session) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		seq := atomic.LoadInt64(&s.sequence)
		if err := s.writeJSON(heartbeat{Op: opHeartbeat, Data: &seq}); err != nil {
			s.log.Warn().Err(err).Msg("failed sending heartbeat")
		}

		s.mu.RLock()
		since := time.Since(s.lastAck)
		s.mu.RUnlock()
		if since > interval*failedHeartbeatAckMultiplier {
			s.log.Warn().Dur("since_ack", since).Msg("heartbeat ack overdue, forcing reconnect")
			s.Close()
			go s.reconnect()
			return
		}

		select {
		case <-ticker.C:
		case <-s.listening:
			return
		}
	}
}

func (s *session) listen(conn *websocket.Conn, listening <-chan struct{}) {
	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			s.mu.RLock()
			same := s.wsConn == conn
			s.mu.RUnlock()
			if same {
				s.log.Warn().Err(err).Msg("gateway read error, reconnecting")
				s.Close()
				go s.reconnect()
			}
			return
		}

		select {
		case <-listening:
			return
		default:
		}

		ev, err := s.decode(mt, raw)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to decode gateway frame")
			continue
		}
		s.handle(ev)
	}
}

func (s *session) decode(messageType int, message []byte) (*event, error) {
	var reader io.Reader = bytes.NewReader(message)
	if messageType == websocket.BinaryMessage {
		z, err := zlib.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("gatewayclient: decompressing frame: %w", err)
		}
		defer z.Close()
		reader = z
	}

	var ev event
	if err := json.NewDecoder(reader).Decode(&ev); err != nil {
		return nil, fmt.Errorf("gatewayclient: decoding frame: %w", err)
	}
	return &ev, nil
}

func (s *session) handle(ev *event) {
	switch ev.Operation {
	case opHeartbeat:
		seq := atomic.LoadInt64(&s.sequence)
		if err := s.writeJSON(heartbeat{Op: opHeartbeat, Data: &seq}); err != nil {
			s.log.Warn().Err(err).Msg("failed sending requested heartbeat")
		}
	case opReconnect:
		s.log.Info().Msg("gateway requested reconnect")
		s.Close()
		go s.reconnect()
	case opInvalidSession:
		s.log.Info().Msg("invalid session, re-identifying")
		if err := s.identify(); err != nil {
			s.log.Warn().Err(err).Msg("failed to re-identify")
		}
	case opHeartbeatAck:
		s.mu.Lock()
		s.lastAck = time.Now()
		s.mu.Unlock()
	case opDispatch:
		atomic.StoreInt64(&s.sequence, ev.Sequence)
		if ev.Type == "READY" {
			var r struct {
				SessionID string `json:"session_id"`
			}
			if err := json.Unmarshal(ev.RawData, &r); err == nil {
				s.mu.Lock()
				s.sessionID = r.SessionID
				s.mu.Unlock()
			}
		}
		s.dispatcher.Dispatch(context.Background(), s.shardID, ev.Type, ev.RawData)
	}
}

func (s *session) reconnect() {
	wait := time.Second
	for {
		err := s.Open()
		if err == nil {
			s.log.Info().Msg("reconnected to gateway")
			return
		}
		if errors.Is(err, ErrAlreadyOpen) {
			return
		}
		s.log.Warn().Err(err).Dur("wait", wait).Msg("reconnect failed, backing off")
		time.Sleep(wait)
		wait *= 2
		if wait > 2*time.Minute {
			wait = 2 * time.Minute
		}
	}
}

// RequestGuildMembers sends an Op 8 frame for the given guild.
func (s *session) RequestGuildMembers(guildID string) error {
	return s.writeJSON(requestGuildMembers{
		Op: opRequestGuildMembers,
		Data: requestGuildMembersData{
			GuildID: guildID,
			Limit:   0,
		},
	})
}

// Close tears down the websocket connection and stops the heartbeat/listen
// goroutines.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listening != nil {
		close(s.listening)
		s.listening = nil
	}
	if s.wsConn == nil {
		return nil
	}
	_ = s.wsConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := s.wsConn.Close()
	s.wsConn = nil
	return err
}

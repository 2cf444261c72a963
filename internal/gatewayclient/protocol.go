// Package gatewayclient is the external collaborator that owns the actual
// websocket connections to Discord's gateway and the REST client used to
// deliver interaction followups, adapted from the teacher's session.go/
// manager.go/events.go. internal/backfill and internal/dispatch only ever
// see this package through their own narrow interfaces (backfill.Requester
// and dispatch.FollowupSender), so neither package imports
// gorilla/websocket directly.
package gatewayclient

import (
	"encoding/json"
	"time"
)

const (
	apiVersion = "10"

	// EndpointDiscord is the base URL for all REST requests.
	EndpointDiscord = "https://discord.com/"
	// EndpointAPI is the versioned API base.
	EndpointAPI = EndpointDiscord + "api/v" + apiVersion + "/"
	// EndpointGatewayBot is the path for the recommended shard count.
	EndpointGatewayBot = EndpointAPI + "gateway/bot"

	userAgent = "DiscordBot (https://github.com/gearbot/GearBot-2, v1)"
)

// Gateway opcodes this client sends or receives.
const (
	opDispatch            = 0
	opHeartbeat           = 1
	opIdentify            = 2
	opUpdateStatus        = 3
	opRequestGuildMembers = 8
	opReconnect           = 7
	opInvalidSession      = 9
	opHello               = 10
	opHeartbeatAck        = 11
)

// event is the envelope every gateway frame carries, grounded on the
// teacher's events.go Event struct. RawData is deferred decoding of the
// dispatch payload so the dispatcher can decode it into a typed
// gatewayevents struct without this package needing to know the shape.
type event struct {
	Operation int             `json:"op"`
	Sequence  int64           `json:"s"`
	Type      string          `json:"t"`
	RawData   json.RawMessage `json:"d"`
}

// hello is Op 10's payload.
type hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// heartbeat is the Op 1 frame sent on each tick.
type heartbeat struct {
	Op   int    `json:"op"`
	Data *int64 `json:"d"`
}

// identify is the Op 2 frame sent on a fresh connection.
type identify struct {
	Op   int          `json:"op"`
	Data identifyData `json:"d"`
}

type identifyData struct {
	Token          string              `json:"token"`
	Properties     identifyProperties  `json:"properties"`
	LargeThreshold int                 `json:"large_threshold"`
	Compress       bool                `json:"compress"`
	Shard          *[2]int             `json:"shard,omitempty"`
	Presence       *presenceUpdateData `json:"presence,omitempty"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// presenceUpdateData mirrors the teacher's UpdateStatusData, trimmed to the
// fields a cache-only cluster has any use setting.
type presenceUpdateData struct {
	Since  *int64 `json:"since"`
	Status string `json:"status"`
	AFK    bool   `json:"afk"`
}

// resume is the Op 6 frame sent instead of identify when a session id and
// sequence number survive a reconnect.
type resume struct {
	Op   int          `json:"op"`
	Data resumeData   `json:"d"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// requestGuildMembers is the Op 8 frame backfill.Scheduler drives through
// Manager.RequestGuildMembers.
type requestGuildMembers struct {
	Op   int                     `json:"op"`
	Data requestGuildMembersData `json:"d"`
}

type requestGuildMembersData struct {
	GuildID string `json:"guild_id"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
}

// gatewayBotResponse is the GET /gateway/bot response body.
type gatewayBotResponse struct {
	URL    string `json:"url"`
	Shards int    `json:"shards"`
	SessionStartLimit sessionStartLimit `json:"session_start_limit"`
}

type sessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// tooManyRequests is the body Discord returns on a 429.
type tooManyRequests struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
}

func (r tooManyRequests) wait() time.Duration {
	return time.Duration(r.RetryAfter * float64(time.Second))
}

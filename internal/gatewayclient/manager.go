package gatewayclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// Manager owns one session per shard this instance is responsible for,
// grounded on the teacher's Manager in manager.go: same Gateway()-then-
// spawn-one-Session-per-shard shape, trimmed of the teacher's NATS/STAN
// forwarding (ForwardEvents/ForwardProduce) since each session here calls
// straight into the Dispatcher instead of re-publishing.
type Manager struct {
	token      string
	dispatcher Dispatcher
	log        zerolog.Logger
	httpClient *http.Client

	shardCount int
	sessions   []*session
}

// New constructs a Manager. Call Open to fetch the gateway URL/shard count
// and start every shard's session.
func New(token string, dispatcher Dispatcher, log zerolog.Logger) *Manager {
	return &Manager{
		token:      token,
		dispatcher: dispatcher,
		log:        log,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// SetDispatcher binds the Dispatcher used by sessions opened after this
// call. Exists for cmd/gearbot, where the Manager (as a backfill.Requester)
// is constructed before the Dispatcher that depends on it.
func (m *Manager) SetDispatcher(dispatcher Dispatcher) {
	m.dispatcher = dispatcher
}

// Open fetches the recommended gateway URL/shard count and opens one
// session per shard. totalShardsOverride, if > 0, pins the shard count
// instead of using Discord's recommendation (spec §6's CLUSTER_IDENTIFIER
// deployments run a fixed shard count across several processes).
func (m *Manager) Open(totalShardsOverride int) error {
	gw, err := m.gateway()
	if err != nil {
		return fmt.Errorf("gatewayclient: fetching gateway: %w", err)
	}

	m.shardCount = gw.Shards
	if totalShardsOverride > 0 {
		m.shardCount = totalShardsOverride
	}

	m.log.Info().Int("shards", m.shardCount).Str("gateway", gw.URL).Msg("starting shard sessions")
	m.sessions = make([]*session, m.shardCount)
	for i := 0; i < m.shardCount; i++ {
		m.sessions[i] = newSession(m.token, i, m.shardCount, gw.URL+"?v="+apiVersion+"&encoding=json", m.dispatcher, m.log)
	}

	for _, sess := range m.sessions {
		if err := sess.Open(); err != nil {
			return fmt.Errorf("gatewayclient: opening shard %d: %w", sess.shardID, err)
		}
	}
	return nil
}

// ShardCount reports how many shards this instance owns, valid after Open.
func (m *Manager) ShardCount() int {
	return m.shardCount
}

// RequestGuildMembers implements internal/backfill.Requester.
func (m *Manager) RequestGuildMembers(shard int, guildID snowflake.ID) error {
	if shard < 0 || shard >= len(m.sessions) {
		return fmt.Errorf("gatewayclient: shard %d out of range", shard)
	}
	return m.sessions[shard].RequestGuildMembers(guildID.String())
}

// Close tears down every shard session.
func (m *Manager) Close() {
	for _, sess := range m.sessions {
		if err := sess.Close(); err != nil {
			m.log.Warn().Err(err).Int("shard", sess.shardID).Msg("error closing shard session")
		}
	}
}

func (m *Manager) gateway() (*gatewayBotResponse, error) {
	req, err := http.NewRequest(http.MethodGet, EndpointGatewayBot, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+m.token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		var rl tooManyRequests
		if err := json.Unmarshal(body, &rl); err != nil {
			return nil, err
		}
		m.log.Warn().Dur("retry_after", rl.wait()).Msg("gateway/bot rate limited")
		time.Sleep(rl.wait())
		return m.gateway()
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("gatewayclient: invalid token (status %s)", strconv.Itoa(resp.StatusCode))
	}

	var gw gatewayBotResponse
	if err := json.Unmarshal(body, &gw); err != nil {
		return nil, err
	}
	return &gw, nil
}

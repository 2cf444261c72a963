package dispatch

import (
	"context"
	"fmt"

	"github.com/gearbot/GearBot-2/internal/queue"
	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// FollowupSender posts the result of a deferred interaction back to
// Discord. Narrow on purpose so this package doesn't need the REST client
// concrete type, mirroring cache.MetricsSink's decoupling.
type FollowupSender interface {
	SendFollowup(ctx context.Context, token, content string, ephemeral bool) error
}

// InteractionHandler implements controller.CommandHandler: it is the
// Primary instance's entry point for a decoded interaction command,
// grounded on communication/interaction/mod.rs's match-and-dispatch shape,
// with debug.rs's and userinfo.rs's command bodies translated from
// Twilight's embed/REST types into a plain text followup (no embed
// builder library is in the pack, so this keeps to the REST client's
// content field rather than inventing one).
type InteractionHandler struct {
	dispatcher *Dispatcher
	followups  FollowupSender
}

func NewInteractionHandler(d *Dispatcher, followups FollowupSender) *InteractionHandler {
	return &InteractionHandler{dispatcher: d, followups: followups}
}

func (h *InteractionHandler) HandleInteraction(ctx context.Context, token, locale string, cmd queue.InteractionCommand) {
	var content string
	var err error

	switch cmd.Kind {
	case queue.CommandDebug:
		content, err = h.debug(cmd.Component)
	case queue.CommandUserinfo:
		content, err = h.userinfo(cmd.GuildID, cmd.UserID)
	default:
		err = fmt.Errorf("unknown interaction command kind %q", cmd.Kind)
	}

	if err != nil {
		h.dispatcher.log.Warn().Err(err).Str("kind", string(cmd.Kind)).Msg("interaction command failed")
		if sendErr := h.followups.SendFollowup(ctx, token, err.Error(), true); sendErr != nil {
			h.dispatcher.log.Error().Err(sendErr).Msg("failed to deliver interaction error followup")
		}
		return
	}

	if sendErr := h.followups.SendFollowup(ctx, token, content, false); sendErr != nil {
		h.dispatcher.log.Error().Err(sendErr).Msg("failed to deliver interaction followup")
	}
}

// debug ports debug.rs's "cache" subcommand: a point-in-time census of
// what this instance's cache currently holds.
func (h *InteractionHandler) debug(component string) (string, error) {
	if component != "cache" {
		return "", fmt.Errorf("unknown debug component %q", component)
	}

	var guilds, members, channels, roles, emoji int
	for _, g := range h.dispatcher.cache.Guilds() {
		guilds++
		members += g.MemberCount()
		channels += len(g.Channels())
		roles += len(g.Roles())
		emoji += g.EmojiCount()
	}
	users := h.dispatcher.cache.UserCount()

	return fmt.Sprintf(
		"Cache statistics\nGuilds: %d\nMembers: %d\nChannels: %d\nEmoji: %d\nRoles: %d\nUsers: %d",
		guilds, members, channels, emoji, roles, users,
	), nil
}

// userinfo ports userinfo.rs: look the user up in the named guild's member
// map, falling back to the global user map if they aren't (or are no
// longer) a member there.
func (h *InteractionHandler) userinfo(guildID, userID snowflake.ID) (string, error) {
	if g, ok := h.dispatcher.cache.Guild(guildID); ok {
		if m, ok := g.Member(userID); ok {
			return fmt.Sprintf("%s (id %s), joined %s", m.User.Username, m.User.ID, m.JoinedAt.Format("2006-01-02")), nil
		}
	}
	if u, ok := h.dispatcher.cache.User(userID); ok {
		return fmt.Sprintf("%s (id %s)", u.Username, u.ID), nil
	}
	return "", fmt.Errorf("no cached information for user %s", userID)
}

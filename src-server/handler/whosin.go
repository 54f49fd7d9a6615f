package handler

import (
	"context"
	"fmt"
	"log/slog"
	"tapboard/src-server/presence"
	"tapboard/src-server/utils"
	"time"

	"github.com/bwmarrin/discordgo"
)

func WhosIn(as *utils.AppState, core *presence.Core) {
	id := "whosin"
	as.AddAppCmdHandler(id, whosInHandler(as, core))
	as.AddAppCmdInfo(id, &discordgo.ApplicationCommand{
		Name:        id,
		Description: "See who is currently checked in and where",
	})
}

func whosInHandler(as *utils.AppState, core *presence.Core) func(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) error {
		if err := core.Cache.EnsureHydrated(context.Background()); err != nil {
			slog.Error("whosInHandler: can't hydrate cache", "error", err)
		}
		snapshot := core.Cache.Snapshot()

		embed := &discordgo.MessageEmbed{
			Title: "Who's in",
		}
		if len(snapshot) == 0 {
			embed.Description = "Nobody is checked in right now."
		}
		for _, sess := range snapshot {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  sess.Member.Handle,
				Value: fmt.Sprintf("%s, since <t:%d:R>", sess.Location.Name, sess.CheckInAt.Unix()),
			})
		}

		startTimer := time.Now()
		if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Flags:  discordgo.MessageFlagsEphemeral,
				Embeds: []*discordgo.MessageEmbed{embed},
			},
		}); err != nil {
			slog.Warn("whosInHandler: can't respond", "error", err)
		}
		utils.Observe(as.MetricChans.DiscordSendMessage, float64(time.Since(startTimer).Microseconds()))
		return nil
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"tapboard/src-server/handler"
	"tapboard/src-server/metric"
	"tapboard/src-server/model"
	"tapboard/src-server/presence"
	"tapboard/src-server/route"
	"tapboard/src-server/utils"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Info(err.Error())
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC1123Z,
		}),
	))
}

func main() {
	as := utils.NewAppState()

	if err := model.CreateSchema(as.BunDB); err != nil {
		slog.Error("can't create database schema", "error", err)
		os.Exit(1)
	}

	// the presence core: store adapter, active-session cache, stream
	// hub, state machine, autokick sweeper
	core := presence.NewCore(as.BunDB, as.MetricChans)
	if err := core.Cache.EnsureHydrated(context.Background()); err != nil {
		slog.Error("can't hydrate active session cache on startup", "error", err)
	}

	if as.Config.DiscordEnabled() {
		// injecting interaction handlers into appCmdInfo, appCmdHandler
		handler.Login(as)
		handler.Tap(as, core)
		handler.WhosIn(as, core)

		// tell discordgo how to handle interactions from Discord
		as.DgSession.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			switch i.Type {
			case discordgo.InteractionApplicationCommand:
				cmdData := i.ApplicationCommandData()
				if cmdHandler, ok := as.GetAppCmdHandler(cmdData.Name); ok {
					if err := cmdHandler(s, i); err != nil {
						slog.Error("handler error", "command", cmdData.Name, "error", err.Error())
					}
				}
			default:
				slog.Debug("unhandled interaction type", "type", i.Type)
			}
		})

		// open a connection to Discord
		if err := as.DgSession.Open(); err != nil {
			slog.Error("error opening discord connection", "error", err)
			os.Exit(1)
		}
		defer as.DgSession.Close()

		// tell Discord what commands we have
		if _, err := as.DgSession.ApplicationCommandBulkOverwrite(
			as.Config.GetDiscordClientId(),
			as.Config.GetDiscordGuildID(),
			func() []*discordgo.ApplicationCommand {
				var cmds []*discordgo.ApplicationCommand
				as.IterateAppCmdInfo(func(k string, v *discordgo.ApplicationCommand) {
					cmds = append(cmds, v)
				})
				return cmds
			}()); err != nil {
			slog.Error("can't create slash commands", "error", err.Error())
		}

		// cleanup appCmdInfo from memory
		as.NukeAppCmdInfo()
		runtime.GC()

		slog.Info("discord bot ready", "guilds", len(as.DgSession.State.Guilds))
	} else {
		slog.Warn("discord bot disabled, login keys must be seeded by hand")
	}

	go metric.Init(as, core)

	// autokick sweeper: once eagerly, then every minute
	go core.Autokick.Loop(as.CreateGracefulShutdownChan())

	// http server
	go func() {
		muxer := http.NewServeMux()
		muxer.Handle("GET /metrics", promhttp.Handler())
		route.Auth(muxer, as)
		route.Presence(muxer, as, core)
		route.Admin(muxer, as, core)
		if err := http.ListenAndServe(":"+as.Config.GetPort(), muxer); err != nil {
			slog.Error("cannot start HTTP server", "error", err)
			as.AppCloseSignalChan <- syscall.SIGTERM
		}
	}()

	slog.Info("app is now running, press Ctrl+C to exit")

	signal.Notify(as.AppCloseSignalChan, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-as.AppCloseSignalChan
	as.GracefulShutdown()

	slog.Info("Gracefully shutting down...")
}

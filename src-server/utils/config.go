package utils

import (
	"log/slog"
	"os"
	"time"
)

type Config struct {
	port       string
	dev        bool
	sqlitePath string

	discordGuildID  string
	discordAppToken string
	discordClientId string

	botApiKey string

	location                 *time.Location
	metricCollectionInterval time.Duration
}

func NewConfig() *Config {
	return &Config{
		port: func() string {
			port := os.Getenv("PORT")
			if port == "" {
				port = "8080"
			}
			slog.Debug("env", "PORT", port)
			return port
		}(),
		dev: func() bool {
			dev := os.Getenv("DEV") != ""
			slog.Debug("env", "DEV", dev)
			return dev
		}(),
		sqlitePath: func() string {
			sqlitePath := os.Getenv("SQLITE_PATH")
			if sqlitePath == "" {
				sqlitePath = "./sqlite.db"
			}
			slog.Debug("env", "SQLITE_PATH", sqlitePath)
			return sqlitePath
		}(),

		discordGuildID: func() string {
			discordGuildID := os.Getenv("DISCORD_GUILD_ID")
			if discordGuildID == "" {
				slog.Warn("DISCORD_GUILD_ID is not set, bot features disabled")
				return ""
			}
			slog.Debug("env", "DISCORD_GUILD_ID", discordGuildID)
			return discordGuildID
		}(),
		discordAppToken: func() string {
			discordAppToken := os.Getenv("DISCORD_APP_TOKEN")
			if discordAppToken == "" {
				slog.Warn("DISCORD_APP_TOKEN is not set, bot features disabled")
				return ""
			}
			slog.Debug("env", "DISCORD_APP_TOKEN", discordAppToken[0:3]+"...")
			return discordAppToken
		}(),
		discordClientId: func() string {
			discordClientId := os.Getenv("DISCORD_CLIENT_ID")
			if discordClientId == "" {
				slog.Warn("DISCORD_CLIENT_ID is not set, bot features disabled")
				return ""
			}
			slog.Debug("env", "DISCORD_CLIENT_ID", discordClientId)
			return discordClientId
		}(),

		botApiKey: func() string {
			botApiKey := os.Getenv("BOT_API_KEY")
			if botApiKey == "" {
				slog.Warn("BOT_API_KEY is not set, bot-delegated HTTP access disabled")
				return ""
			}
			slog.Debug("env", "BOT_API_KEY", botApiKey[0:3]+"...")
			return botApiKey
		}(),

		location: func() *time.Location {
			timezoneStr := os.Getenv("TIMEZONE")
			var loc *time.Location
			var err error
			switch timezoneStr {
			case "":
				slog.Warn("TIMEZONE is not set, using local timezone", "timezone", time.Local)
				loc = time.Local
			case "UTC":
				loc = time.UTC
			default:
				loc, err = time.LoadLocation(timezoneStr)
				if err != nil {
					slog.Error("invalid timezone", "timezone", timezoneStr, "error", err)
					os.Exit(1)
				}
			}
			slog.Debug("env", "TIMEZONE", timezoneStr)
			return loc
		}(),
		metricCollectionInterval: func() time.Duration {
			intervalStr := os.Getenv("METRIC_COLLECTION_INTERVAL")
			if intervalStr == "" {
				intervalStr = "15s"
			}
			interval, err := time.ParseDuration(intervalStr)
			if err != nil {
				slog.Error("invalid METRIC_COLLECTION_INTERVAL", "error", err)
				os.Exit(1)
			}
			slog.Debug("env", "METRIC_COLLECTION_INTERVAL", interval)
			return interval
		}(),
	}
}

// Get PORT env, default to 8080
func (c *Config) GetPort() string {
	return c.port
}

// Get DEV env, any non-empty value enables dev mode
func (c *Config) GetDev() bool {
	return c.dev
}

// Get SQLITE_PATH env, default to ./sqlite.db
func (c *Config) GetSqlitePath() string {
	return c.sqlitePath
}

// Get DISCORD_GUILD_ID env, empty when the bot is disabled
func (c *Config) GetDiscordGuildID() string {
	return c.discordGuildID
}

// Get DISCORD_APP_TOKEN env, empty when the bot is disabled
func (c *Config) GetDiscordAppToken() string {
	return c.discordAppToken
}

// Get DISCORD_CLIENT_ID env, empty when the bot is disabled
func (c *Config) GetDiscordClientId() string {
	return c.discordClientId
}

// Get BOT_API_KEY env, empty when bot-delegated HTTP access is disabled
func (c *Config) GetBotApiKey() string {
	return c.botApiKey
}

// All Discord env vars present
func (c *Config) DiscordEnabled() bool {
	return c.discordAppToken != "" && c.discordGuildID != "" && c.discordClientId != ""
}

// Get TIMEZONE env
func (c *Config) GetLocation() *time.Location {
	return c.location
}

// Get METRIC_COLLECTION_INTERVAL env, default to 15s
func (c *Config) GetMetricCollectionInterval() time.Duration {
	return c.metricCollectionInterval
}

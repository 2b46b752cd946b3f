package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hako/durafmt"
	"github.com/olekukonko/tablewriter"
)

func (b *discordBot) registerCommands() error {
	if b == nil || b.dg == nil {
		return nil
	}
	appID := ""
	if b.dg.State != nil && b.dg.State.User != nil {
		appID = b.dg.State.User.ID
	}
	if appID == "" {
		return fmt.Errorf("missing application ID")
	}

	nameOption := func(desc string) []*discordgo.ApplicationCommandOption {
		return []*discordgo.ApplicationCommandOption{
			{
				Name:        "name",
				Description: desc,
				Type:        discordgo.ApplicationCommandOptionString,
				Required:    true,
			},
		}
	}

	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "players",
			Description: "List everyone currently on the server",
		},
		{
			Name:        "player",
			Description: "Show what the watcher knows about one player",
			Options:     nameOption("Player name as it appears in game"),
		},
		{
			Name:        "watch",
			Description: "Ping you when a player connects or disconnects",
			Options:     nameOption("Player name to watch"),
		},
		{
			Name:        "unwatch",
			Description: "Stop watching a player",
			Options:     nameOption("Player name to stop watching"),
		},
		{
			Name:        "watchlist",
			Description: "Show the players you are watching",
		},
		{
			Name:        "status",
			Description: "Show server and watcher status",
		},
	}

	// An empty guild ID registers the commands globally.
	_, err := b.dg.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
	return err
}

func (b *discordBot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if b == nil || s == nil || i == nil {
		return
	}
	if strings.TrimSpace(i.GuildID) != "" && b.guildID != "" && i.GuildID != b.guildID {
		return
	}
	userID := interactionUserID(i)
	if userID == "" {
		return
	}

	switch i.ApplicationCommandData().Name {
	case "players":
		_ = respondEphemeral(s, i, b.renderPlayers())
	case "player":
		name := commandStringOption(i, "name")
		if name == "" {
			_ = respondEphemeral(s, i, "Missing player name.")
			return
		}
		_ = respondEphemeral(s, i, b.renderPlayer(name))
	case "watch":
		name := commandStringOption(i, "name")
		if name == "" {
			_ = respondEphemeral(s, i, "Missing player name.")
			return
		}
		_ = respondEphemeral(s, i, b.addWatch(userID, name))
	case "unwatch":
		name := commandStringOption(i, "name")
		if name == "" {
			_ = respondEphemeral(s, i, "Missing player name.")
			return
		}
		_ = respondEphemeral(s, i, b.removeWatch(userID, name))
	case "watchlist":
		_ = respondEphemeral(s, i, b.renderWatchlist(userID))
	case "status":
		_ = respondEphemeral(s, i, b.renderStatus())
	default:
		// ignore
	}
}

// Discord rejects messages over 2000 characters. Replies clamp below that so
// the truncation marker and a closing code fence always fit.
const maxReplyChars = 1900

func clampReply(msg string) string {
	if len(msg) <= maxReplyChars {
		return msg
	}
	out := strings.ToValidUTF8(msg[:maxReplyChars], "")
	if strings.Count(out, "```")%2 == 1 {
		out += "\n```"
	}
	return out + "\n… (truncated)"
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) error {
	if s == nil || i == nil {
		return nil
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: clampReply(msg),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i == nil {
		return ""
	}
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func commandStringOption(i *discordgo.InteractionCreate, name string) string {
	if i == nil {
		return ""
	}
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Type == discordgo.ApplicationCommandOptionString && opt.Name == name {
			return strings.TrimSpace(opt.StringValue())
		}
	}
	return ""
}

// renderPlayers summarizes every known player, online first. Discord tables
// get unwieldy fast, so rows are capped and the rest summarized.
func (b *discordBot) renderPlayers() string {
	players := b.reg.Snapshot()
	if len(players) == 0 {
		return "No players have been seen on this server yet."
	}

	const maxRows = 25
	var buf bytes.Buffer
	table := tablewriter.NewTable(&buf)
	table.Header("Player", "Status", "Position", "Last seen")
	shown := 0
	for _, p := range players {
		if shown >= maxRows {
			break
		}
		status := "offline"
		if p.Online {
			status = "online"
		}
		lastSeen := "-"
		if !p.LastSeen.IsZero() {
			lastSeen = p.LastSeen.Format("02/01 15:04:05")
		}
		_ = table.Append(p.Name, status, fmt.Sprintf("(%d,%d)", p.LastX, p.LastY), lastSeen)
		shown++
	}
	_ = table.Render()
	out := fmt.Sprintf("%d online, %d known.\n", b.reg.OnlineCount(), len(players)) +
		"```\n" + buf.String() + "```"
	if len(players) > shown {
		out += fmt.Sprintf("\n…and %d more.", len(players)-shown)
	}
	return out
}

func (b *discordBot) renderPlayer(name string) string {
	p, ok := b.reg.LookupFold(strings.TrimSpace(name))
	if !ok {
		return fmt.Sprintf("Never seen %s on this server.", strings.TrimSpace(name))
	}

	status := "offline"
	if p.Online {
		status = "online"
	}
	lastSeen := "-"
	if !p.LastSeen.IsZero() {
		lastSeen = p.LastSeen.Format("02/01 15:04:05")
	}
	firstSeen := "-"
	if !p.FirstSeen.IsZero() {
		firstSeen = p.FirstSeen.Format("02/01/2006")
	}

	var buf bytes.Buffer
	table := tablewriter.NewTable(&buf)
	table.Header("Field", "Value")
	_ = table.Append("Player", p.Name)
	_ = table.Append("Status", status)
	_ = table.Append("Last seen", lastSeen)
	_ = table.Append("Position", fmt.Sprintf("(%d,%d)", p.LastX, p.LastY))
	_ = table.Append("First seen", firstSeen)
	_ = table.Append("Connects", fmt.Sprintf("%d", p.Connects))
	_ = table.Append("Disconnects", fmt.Sprintf("%d", p.Disconnects))
	if b.watchlist != nil {
		if watchers, err := b.watchlist.WatchersOf(p.Name); err == nil {
			_ = table.Append("Watchers", fmt.Sprintf("%d", len(watchers)))
		}
	}
	_ = table.Render()
	return "```\n" + buf.String() + "```"
}

func (b *discordBot) addWatch(userID, player string) string {
	if b.watchlist == nil {
		return "Watchlists are not available."
	}
	player = strings.TrimSpace(player)
	added, err := b.watchlist.Add(userID, player)
	if errors.Is(err, errWatchlistFull) {
		return fmt.Sprintf("Your watchlist is full (%d max). Remove an entry with /unwatch first.", b.watchlist.limit)
	}
	if err != nil {
		logger.Warn("watchlist add failed", "player", player, "error", err)
		return "Failed to update your watchlist (server error)."
	}
	if !added {
		return fmt.Sprintf("%s is already on your watchlist.", player)
	}
	return fmt.Sprintf("Added %s. You’ll be pinged in the notification channel when they connect or disconnect.", player)
}

func (b *discordBot) removeWatch(userID, player string) string {
	if b.watchlist == nil {
		return "Watchlists are not available."
	}
	player = strings.TrimSpace(player)
	removed, err := b.watchlist.Remove(userID, player)
	if err != nil {
		logger.Warn("watchlist remove failed", "player", player, "error", err)
		return "Failed to update your watchlist (server error)."
	}
	if !removed {
		return fmt.Sprintf("%s is not on your watchlist.", player)
	}
	return fmt.Sprintf("Removed %s from your watchlist.", player)
}

func (b *discordBot) renderWatchlist(userID string) string {
	if b.watchlist == nil {
		return "Watchlists are not available."
	}
	entries, err := b.watchlist.List(userID)
	if err != nil {
		logger.Warn("watchlist list failed", "error", err)
		return "Failed to read your watchlist (server error)."
	}
	if len(entries) == 0 {
		return "Your watchlist is empty. Add players with /watch."
	}

	var buf bytes.Buffer
	table := tablewriter.NewTable(&buf)
	table.Header("Player", "Added")
	for _, e := range entries {
		_ = table.Append(e.Name, e.AddedAt.Format("02/01/2006"))
	}
	_ = table.Render()
	return "```\n" + buf.String() + "```" +
		fmt.Sprintf("\n%d of %d slots used.", len(entries), b.watchlist.limit)
}

func (b *discordBot) renderStatus() string {
	snap := b.stats.Snapshot()
	total, recent := b.events.snapshot()

	var buf bytes.Buffer
	table := tablewriter.NewTable(&buf)
	table.Header("Metric", "Value")
	_ = table.Append("Online now", fmt.Sprintf("%d", b.reg.OnlineCount()))
	_ = table.Append("Known players", fmt.Sprintf("%d", b.reg.Count()))
	if !b.startedAt.IsZero() {
		up := durafmt.Parse(time.Since(b.startedAt).Round(time.Second)).LimitFirstN(2).String()
		_ = table.Append("Bot uptime", up)
	}
	_ = table.Append("Scan cycles", fmt.Sprintf("%d", snap.Cycles))
	_ = table.Append("Lines scanned", fmt.Sprintf("%d", snap.LinesScanned))
	_ = table.Append("Events applied", fmt.Sprintf("%d", snap.EventsApplied))
	_ = table.Append("Events seen", fmt.Sprintf("%d", total))
	_ = table.Append("Notifications", fmt.Sprintf("%d", snap.NotifySent))
	if len(recent) > 0 {
		_ = table.Append("Last event", fmt.Sprintf("%s %s", recent[0].Player, recent[0].Kind))
	}
	if !snap.Watermark.IsZero() {
		_ = table.Append("Log position", snap.Watermark.Format("02/01 15:04:05"))
	}
	_ = table.Render()
	return "```\n" + buf.String() + "```"
}

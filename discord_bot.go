package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// presenceStatus renders the bot activity line for a given online count.
func presenceStatus(count int) string {
	if count <= 0 {
		return "PZ with nobody"
	}
	return fmt.Sprintf("PZ with %d survivors", count)
}

type outboundMessage struct {
	Content  string
	Mentions []string
}

// discordBot relays watcher output into a Discord channel and answers slash
// commands against the live registry. The watcher callbacks never block the
// scan cycle: everything outbound goes through a queue drained by sendLoop.
type discordBot struct {
	cfg       Config
	dg        *discordgo.Session
	reg       *playerRegistry
	events    *eventHistory
	watchlist *watchlistStore
	stats     *watchStats
	startedAt time.Time

	channelID string
	guildID   string

	queueMu   sync.Mutex
	sendQueue []outboundMessage

	presenceMu   sync.Mutex
	presenceWant string
	presenceSet  string

	connMu    sync.Mutex
	gatewayUp bool
}

func newDiscordBot(cfg Config, reg *playerRegistry, events *eventHistory, watchlist *watchlistStore, stats *watchStats) *discordBot {
	return &discordBot{
		cfg:       cfg,
		reg:       reg,
		events:    events,
		watchlist: watchlist,
		stats:     stats,
		channelID: strings.TrimSpace(cfg.DiscordChannelID),
		guildID:   strings.TrimSpace(cfg.DiscordGuildID),
	}
}

func (b *discordBot) start(ctx context.Context) error {
	if b == nil {
		return fmt.Errorf("discord bot not configured")
	}
	token := strings.TrimSpace(b.cfg.DiscordToken)
	if token == "" || b.channelID == "" {
		return nil
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return err
	}
	dg.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds)

	// Gateway state feeds the status API. Ready fires again after discordgo's
	// automatic reconnect, so the flag recovers on its own.
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		b.setGatewayUp(true)
	})
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		b.setGatewayUp(true)
	})
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		b.setGatewayUp(false)
		logger.Warn("discord gateway disconnected")
	})

	dg.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		b.handleCommand(s, i)
	})

	if err := dg.Open(); err != nil {
		return err
	}
	b.dg = dg
	b.startedAt = time.Now()

	if err := b.registerCommands(); err != nil {
		logger.Warn("discord command registration failed", "error", err)
	}

	b.presenceCount(b.reg.OnlineCount())
	b.syncPresence()

	go b.sendLoop(ctx)
	logger.Info("discord bot started", "guild_id", b.guildID, "channel_id", b.channelID)
	return nil
}

func (b *discordBot) close() {
	if b == nil || b.dg == nil {
		return
	}
	_ = b.dg.Close()
}

func (b *discordBot) setGatewayUp(up bool) {
	if b == nil {
		return
	}
	b.connMu.Lock()
	b.gatewayUp = up
	b.connMu.Unlock()
}

// connected reports whether the Discord gateway session is currently up.
func (b *discordBot) connected() bool {
	if b == nil || b.dg == nil {
		return false
	}
	b.connMu.Lock()
	defer b.connMu.Unlock()
	return b.gatewayUp
}

// notifyLine queues a plain line for the notification channel.
func (b *discordBot) notifyLine(text string) {
	if b == nil {
		return
	}
	b.enqueue(outboundMessage{Content: text})
}

// presenceCount records the latest online count; sendLoop pushes it to
// Discord on its next tick.
func (b *discordBot) presenceCount(count int) {
	if b == nil {
		return
	}
	b.presenceMu.Lock()
	b.presenceWant = presenceStatus(count)
	b.presenceMu.Unlock()
}

// playerEventSeen pings everyone watching the player named in evt.
func (b *discordBot) playerEventSeen(evt playerEvent) {
	if b == nil || b.watchlist == nil {
		return
	}
	var verb string
	switch evt.Kind {
	case eventConnected:
		verb = "connected"
	case eventDisconnected:
		verb = "disconnected"
	default:
		return
	}
	watchers, err := b.watchlist.WatchersOf(evt.Name)
	if err != nil {
		logger.Warn("watchlist lookup failed", "player", evt.Name, "error", err)
		return
	}
	if len(watchers) == 0 {
		return
	}
	var sb strings.Builder
	for _, id := range watchers {
		fmt.Fprintf(&sb, "<@%s> ", id)
	}
	fmt.Fprintf(&sb, "%s %s (%d,%d)", evt.Name, verb, evt.X, evt.Y)
	b.enqueue(outboundMessage{Content: sb.String(), Mentions: watchers})
	if b.stats != nil {
		b.stats.RecordPing()
	}
}

func (b *discordBot) enqueue(msg outboundMessage) {
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" {
		return
	}
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	const maxQueue = 10_000
	if len(b.sendQueue) >= maxQueue {
		// Drop oldest to keep memory bounded.
		b.sendQueue = b.sendQueue[1:]
		b.stats.RecordNotify(false)
	}
	b.sendQueue = append(b.sendQueue, msg)
}

func (b *discordBot) sendLoop(ctx context.Context) {
	// 25 messages/minute stays well clear of the channel rate limit even
	// when the server is busy.
	ticker := time.NewTicker(time.Minute / 25)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.close()
			return
		case <-ticker.C:
			b.syncPresence()
			b.flushNextBatch()
		}
	}
}

func (b *discordBot) syncPresence() {
	if b == nil || b.dg == nil {
		return
	}
	b.presenceMu.Lock()
	want := b.presenceWant
	current := b.presenceSet
	b.presenceMu.Unlock()
	if want == "" || want == current {
		return
	}
	if err := b.dg.UpdateGameStatus(0, want); err != nil {
		logger.Warn("discord presence update failed", "error", err)
		return
	}
	b.presenceMu.Lock()
	b.presenceSet = want
	b.presenceMu.Unlock()
}

// takeBatch merges queue entries into one message bounded by maxChars and
// reports how many entries it consumed. Lines are never split across batches.
func takeBatch(queue []outboundMessage, maxChars int) (string, []string, int) {
	used := 0
	msg := ""
	userIDs := make(map[string]struct{}, 16)
	for i := 0; i < len(queue); i++ {
		line := queue[i].Content
		if line == "" {
			used++
			continue
		}
		if len(line) > maxChars {
			line = line[:maxChars]
		}
		candidate := line
		if msg != "" {
			candidate = msg + "\n" + line
		}
		if len(candidate) > maxChars {
			break
		}
		msg = candidate
		for _, id := range queue[i].Mentions {
			if strings.TrimSpace(id) != "" {
				userIDs[id] = struct{}{}
			}
		}
		used++
	}
	mentions := make([]string, 0, len(userIDs))
	for id := range userIDs {
		mentions = append(mentions, id)
	}
	sort.Strings(mentions)
	return msg, mentions, used
}

func (b *discordBot) flushNextBatch() {
	if b == nil || b.dg == nil || b.channelID == "" {
		return
	}

	b.queueMu.Lock()
	msg, mentions, used := takeBatch(b.sendQueue, 1000)
	b.queueMu.Unlock()
	if used == 0 || strings.TrimSpace(msg) == "" {
		return
	}

	_, err := b.dg.ChannelMessageSendComplex(b.channelID, &discordgo.MessageSend{
		Content: msg,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Users: mentions,
		},
	})
	if err != nil {
		logger.Warn("discord send failed", "error", err)
		return
	}

	b.queueMu.Lock()
	if used > len(b.sendQueue) {
		used = len(b.sendQueue)
	}
	b.sendQueue = b.sendQueue[used:]
	b.queueMu.Unlock()
}

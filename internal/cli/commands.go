// Package cli implements the interactive towerlink console: typed shortcuts
// for common game commands plus raw access to the whole catalog.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/towerlink/internal/client"
	"github.com/energizer-project/towerlink/internal/command"
	"github.com/energizer-project/towerlink/internal/db"
	"github.com/energizer-project/towerlink/internal/dispatch"
	"github.com/energizer-project/towerlink/internal/events"
	"github.com/energizer-project/towerlink/internal/game"
)

// Session describes the live game connection.
type Session interface {
	URL() string
	ConnectedAt() time.Time
	IsClosed() bool
}

// Journal reads recent command journal entries.
type Journal interface {
	Recent(ctx context.Context, limit int) ([]db.Entry, error)
}

// Options wires the CLI to the running components. Journal, Session and
// EventBus may be nil.
type Options struct {
	In        io.Reader
	Out       io.Writer
	Client    *client.GameClient
	SessionID string
	Session   Session
	Journal   Journal
	EventBus  *events.EventBus
}

// CLI provides an interactive command-line interface.
type CLI struct {
	opts Options
	out  io.Writer
	game *client.GameClient
}

// NewCLI creates a new CLI handler.
func NewCLI(opts Options) *CLI {
	return &CLI{
		opts: opts,
		out:  opts.Out,
		game: opts.Client,
	}
}

// Start reads commands until ctx ends, input closes or the user quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\ntowerlink CLI ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.opts.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "towerlink> ")
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		if quit := c.Execute(ctx, strings.ToLower(parts[0]), parts[1:]); quit {
			return
		}
	}
}

// Execute runs one CLI command and reports whether the user asked to quit.
func (c *CLI) Execute(ctx context.Context, cmd string, args []string) bool {
	var err error
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "snapshot", "snap":
		err = c.cmdSnapshot(ctx)
	case "commands":
		c.printCatalog()
	case "call":
		err = c.cmdCall(ctx, args)
	case "money":
		err = c.cmdMoney(ctx, args)
	case "towers":
		err = c.cmdTowers(ctx, args)
	case "enemies":
		err = c.cmdEnemies(ctx, args)
	case "terrain":
		err = c.cmdTerrain(ctx)
	case "place":
		err = c.run(ctx, command.PlaceTower, args)
	case "sell":
		err = c.run(ctx, command.SellTower, args)
	case "spawn":
		err = c.run(ctx, command.SpawnUnit, args)
	case "cast":
		err = c.run(ctx, command.CastSpell, args)
	case "chat":
		if len(args) == 0 {
			err = fmt.Errorf("usage: chat <message>")
			break
		}
		err = c.game.SendChat(ctx, strings.Join(args, " "))
	case "history":
		err = c.cmdHistory(ctx, args)
	case "journal":
		err = c.cmdJournal(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down towerlink...")
		if c.opts.EventBus != nil {
			c.opts.EventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
		}
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}

	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		if dispatch.IsFatal(err) {
			log.Warn().Err(err).Msg("CLI: game session is no longer usable")
		}
	}
	return false
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                    towerlink CLI Commands                    ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status               Show the game session                  ║")
	fmt.Fprintln(c.out, "║  snapshot             Wave, money, income and scores         ║")
	fmt.Fprintln(c.out, "║  commands             List every game command                ║")
	fmt.Fprintln(c.out, "║  call <NAME> [args]   Run any game command                   ║")
	fmt.Fprintln(c.out, "║  money [opp]          Show money                             ║")
	fmt.Fprintln(c.out, "║  towers [opp]         List towers                            ║")
	fmt.Fprintln(c.out, "║  enemies [opp]        List enemies                           ║")
	fmt.Fprintln(c.out, "║  terrain              Draw the map                           ║")
	fmt.Fprintln(c.out, "║  place <t> <lvl> <x> <y>  Place a tower                      ║")
	fmt.Fprintln(c.out, "║  sell <x> <y>         Sell a tower                           ║")
	fmt.Fprintln(c.out, "║  spawn <enemy>        Send a unit to the opponent            ║")
	fmt.Fprintln(c.out, "║  cast <spell> [x y]   Cast a spell                           ║")
	fmt.Fprintln(c.out, "║  chat <message>       Send a chat message                    ║")
	fmt.Fprintln(c.out, "║  history [n]          Show chat history                      ║")
	fmt.Fprintln(c.out, "║  journal [n]          Show recent commands                   ║")
	fmt.Fprintln(c.out, "║  quit                 Shutdown towerlink                     ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) printStatus() {
	fmt.Fprintf(c.out, "\n  Session:      %s\n", c.opts.SessionID)
	if s := c.opts.Session; s != nil {
		fmt.Fprintf(c.out, "  Game:         %s\n", s.URL())
		fmt.Fprintf(c.out, "  Connected:    %v\n", !s.IsClosed())
		fmt.Fprintf(c.out, "  Since:        %s\n", s.ConnectedAt().Format(time.RFC3339))
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) cmdSnapshot(ctx context.Context) error {
	snap, err := c.game.Snapshot(ctx)
	if err != nil {
		return err
	}
	tw := c.table([]string{"Status", "Wave", "Remain", "Money", "Opp Money", "Income", "Score", "Opp Score"})
	tw.Append([]string{
		snap.Status.String(),
		strconv.Itoa(snap.Wave),
		fmt.Sprintf("%.1fs", snap.RemainTime),
		strconv.Itoa(snap.Money),
		strconv.Itoa(snap.OpponentMoney),
		strconv.Itoa(snap.Income),
		strconv.Itoa(snap.Score),
		strconv.Itoa(snap.OpponentScore),
	})
	tw.Render()
	return nil
}

func (c *CLI) printCatalog() {
	tw := c.table([]string{"ID", "Signature"})
	for _, d := range command.Catalog() {
		tw.Append([]string{strconv.Itoa(int(d.ID)), d.Signature()})
	}
	tw.Render()
}

func (c *CLI) cmdCall(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: call <NAME> [args...]")
	}
	desc, ok := command.LookupName(args[0])
	if !ok {
		return fmt.Errorf("unknown command %q, see 'commands'", args[0])
	}
	parsed, err := desc.ParseArgs(args[1:])
	if err != nil {
		return err
	}
	result, err := c.game.Call(ctx, desc.Name, parsed...)
	if err != nil {
		return err
	}
	c.printResult(result)
	return nil
}

// run parses words against a catalog command and executes it.
func (c *CLI) run(ctx context.Context, id command.ID, args []string) error {
	desc := command.MustLookup(id)
	parsed, err := desc.ParseArgs(args)
	if err != nil {
		return fmt.Errorf("%w\n  usage: %s", err, desc.Signature())
	}
	if _, err := c.game.Call(ctx, desc.Name, parsed...); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s ok\n", desc.Name)
	return nil
}

func (c *CLI) cmdMoney(ctx context.Context, args []string) error {
	money, err := c.game.GetMoney(ctx, owned(args))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Money: %d\n", money)
	return nil
}

func (c *CLI) cmdTowers(ctx context.Context, args []string) error {
	towers, err := c.game.GetAllTowers(ctx, owned(args))
	if err != nil {
		return err
	}
	c.printTowers(towers)
	return nil
}

func (c *CLI) cmdEnemies(ctx context.Context, args []string) error {
	enemies, err := c.game.GetAllEnemies(ctx, owned(args))
	if err != nil {
		return err
	}
	c.printEnemies(enemies)
	return nil
}

func (c *CLI) cmdTerrain(ctx context.Context) error {
	grid, err := c.game.GetAllTerrain(ctx)
	if err != nil {
		return err
	}
	// grid is [x][y]; draw one line per y.
	height := 0
	for _, column := range grid {
		height = max(height, len(column))
	}
	for y := 0; y < height; y++ {
		var b strings.Builder
		for _, column := range grid {
			if y < len(column) {
				b.WriteByte(terrainGlyph(column[y]))
			} else {
				b.WriteByte(' ')
			}
		}
		fmt.Fprintln(c.out, b.String())
	}
	fmt.Fprintln(c.out, "  '.' empty  '#' road  'X' obstacle  ' ' out of bounds")
	return nil
}

func (c *CLI) cmdHistory(ctx context.Context, args []string) error {
	var num []int
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		num = append(num, n)
	}
	msgs, err := c.game.GetChatHistory(ctx, num...)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Fprintf(c.out, "[%s] %s\n", m.Source, m.Text)
	}
	return nil
}

func (c *CLI) cmdJournal(ctx context.Context, args []string) error {
	if c.opts.Journal == nil {
		return fmt.Errorf("journal is disabled")
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}
	entries, err := c.opts.Journal.Recent(ctx, limit)
	if err != nil {
		return err
	}

	tw := c.table([]string{"ID", "Time", "Command", "Outcome", "Status", "Attempts", "Timeouts", "Duration"})
	for _, e := range entries {
		tw.Append([]string{
			strconv.FormatInt(e.ID, 10),
			e.StartedAt.Format("15:04:05"),
			e.Command,
			e.Outcome,
			e.StatusName,
			strconv.Itoa(e.Attempts),
			strconv.Itoa(e.Timeouts),
			fmt.Sprintf("%.1fms", e.DurationMS),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printResult(result any) {
	switch v := result.(type) {
	case nil:
		fmt.Fprintln(c.out, "ok")
	case string, bool, int64, float64:
		fmt.Fprintln(c.out, v)
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(c.out, "%v\n", v)
			return
		}
		fmt.Fprintln(c.out, string(data))
	}
}

func (c *CLI) printTowers(towers []*game.Tower) {
	tw := c.table([]string{"Type", "Position", "Level", "Range", "Damage", "Reload", "Anti-Air"})
	for _, t := range towers {
		tw.Append([]string{
			t.Type.String(),
			t.Position.String(),
			fmt.Sprintf("%d%d", t.LevelA, t.LevelB),
			strconv.FormatInt(t.Range, 10),
			strconv.FormatInt(t.Damage, 10),
			strconv.FormatInt(t.Reload, 10),
			strconv.FormatBool(t.AntiAir),
		})
	}
	tw.Render()
}

func (c *CLI) printEnemies(enemies []*game.Enemy) {
	tw := c.table([]string{"Type", "Position", "Health", "Progress", "Speed", "Flying", "Reward"})
	for _, e := range enemies {
		tw.Append([]string{
			e.Type.String(),
			e.Position.String(),
			fmt.Sprintf("%d/%d", e.Health, e.MaxHealth),
			fmt.Sprintf("%.0f%%", e.ProgressRatio*100),
			fmt.Sprintf("%.1f", e.MaxSpeed),
			strconv.FormatBool(e.Flying),
			strconv.FormatInt(e.KillReward, 10),
		})
	}
	tw.Render()
}

func (c *CLI) table(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

// owned is false when the first argument names the opponent.
func owned(args []string) bool {
	if len(args) == 0 {
		return true
	}
	switch strings.ToLower(args[0]) {
	case "opp", "opponent", "enemy", "them":
		return false
	}
	return true
}

func terrainGlyph(t game.TerrainType) byte {
	switch t {
	case game.TerrainEmpty:
		return '.'
	case game.TerrainRoad:
		return '#'
	case game.TerrainObstacle:
		return 'X'
	}
	return ' '
}

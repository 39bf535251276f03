// Package console implements the interactive operator console: listing
// rooms and connections and shutting the server down.
package console

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/mattn/go-shellwords"

	"github.com/Tyrowin/roomchat/internal/session"
)

// Inspector reads hub state on behalf of the console.
type Inspector interface {
	RoomCounts(ctx context.Context) (map[string]int, error)
	Connections(ctx context.Context) ([]session.ConnectionInfo, error)
	Members(ctx context.Context, room string) ([]session.ConnectionInfo, error)
}

const queryTimeout = 5 * time.Second

var commands = []prompt.Suggest{
	{Text: "rooms", Description: "List rooms and member counts"},
	{Text: "clients", Description: "List connected clients"},
	{Text: "room", Description: "List the members of a room: room <name>"},
	{Text: "help", Description: "Show commands"},
	{Text: "quit", Description: "Shut the server down"},
	{Text: "exit", Description: "Shut the server down"},
}

// Console executes operator commands against an Inspector.
type Console struct {
	inspector Inspector
	out       io.Writer
	shutdown  func()
	quitting  bool
}

// New returns a console writing to out. shutdown is called once on quit.
func New(inspector Inspector, out io.Writer, shutdown func()) *Console {
	return &Console{inspector: inspector, out: out, shutdown: shutdown}
}

// Execute runs one command line. It reports true when the console should stop.
func (c *Console) Execute(line string) bool {
	args, err := shellwords.Parse(line)
	if err != nil {
		fmt.Fprintf(c.out, "cannot parse %q: %v\n", line, err)
		return false
	}
	if len(args) == 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	switch args[0] {
	case "rooms":
		c.rooms(ctx)
	case "clients":
		c.clients(ctx)
	case "room":
		if len(args) != 2 {
			fmt.Fprintln(c.out, "usage: room <name>")
			return false
		}
		c.members(ctx, args[1])
	case "help":
		for _, s := range commands {
			fmt.Fprintf(c.out, "  %-8s %s\n", s.Text, s.Description)
		}
	case "quit", "exit":
		if !c.quitting {
			c.quitting = true
			fmt.Fprintln(c.out, "Shutting down server...")
			if c.shutdown != nil {
				c.shutdown()
			}
		}
		return true
	default:
		fmt.Fprintf(c.out, "Not a command: %s (try help)\n", args[0])
	}
	return false
}

func (c *Console) rooms(ctx context.Context) {
	counts, err := c.inspector.RoomCounts(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tMEMBERS")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%d\n", name, counts[name])
	}
	tw.Flush()
}

func (c *Console) clients(ctx context.Context) {
	conns, err := c.inspector.Connections(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	c.table(conns)
	fmt.Fprintf(c.out, "%d connected\n", len(conns))
}

func (c *Console) members(ctx context.Context, room string) {
	members, err := c.inspector.Members(ctx, room)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	c.table(members)
}

func (c *Console) table(conns []session.ConnectionInfo) {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tROOMS")
	for _, conn := range conns {
		name := conn.Username
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", conn.ID, name, strings.Join(conn.Rooms, ","))
	}
	tw.Flush()
}

// Complete suggests command names for the word under the cursor.
func (c *Console) Complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(commands, d.GetWordBeforeCursor(), true)
}

// Run reads commands from the terminal until quit, exit or end of input,
// then shuts the server down.
func (c *Console) Run() {
	p := prompt.New(
		func(line string) { c.Execute(line) },
		c.Complete,
		prompt.OptionPrefix("> "),
		prompt.OptionTitle("roomchat console"),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return c.quitting }),
	)
	p.Run()
	c.Execute("quit")
}

package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Prasannaverse13/ArtChainCollective/internal/protocol"
)

// App builds the canvasprobe command-line application. Output goes to out.
func App(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "canvasprobe",
		Usage:     "exercise a collaboration server over websocket",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Usage:   "websocket endpoint",
				EnvVars: []string{"CANVASPROBE_URL"},
				Value:   "ws://localhost:5000/ws",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "dial and reply timeout",
				Value: 5 * time.Second,
			},
		},
		Commands: []*cli.Command{
			pingCommand(),
			joinCommand(),
			drawCommand(),
			watchCommand(),
		},
	}
}

func roomFlag() cli.Flag {
	return &cli.Int64Flag{
		Name:     "room",
		Aliases:  []string{"r"},
		Usage:    "artwork id to join",
		Required: true,
	}
}

func connect(c *cli.Context) (*Client, error) {
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	return Dial(ctx, c.String("url"), c.Duration("timeout"))
}

func pingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "measure round-trip time and the server's client count",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1, Usage: "number of pings"},
		},
		Action: func(c *cli.Context) error {
			client, err := connect(c)
			if err != nil {
				return err
			}
			defer client.Close()

			for i := 1; i <= c.Int("count"); i++ {
				pong, rtt, err := client.Ping(map[string]int{"seq": i})
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "seq=%d rtt=%s clients=%d server_time=%s\n",
					i, rtt.Round(time.Microsecond), pong.Clients, pong.ServerTime)
			}
			return nil
		},
	}
}

func joinCommand() *cli.Command {
	return &cli.Command{
		Name:  "join",
		Usage: "join a canvas and print its snapshot state and collaborators",
		Flags: []cli.Flag{
			roomFlag(),
			&cli.Int64Flag{Name: "user", Usage: "self-declared user id"},
			&cli.StringFlag{Name: "name", Usage: "display name"},
		},
		Action: func(c *cli.Context) error {
			client, err := connect(c)
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.Join(c.Int64("room"), protocol.JoinData{
				UserID:      c.Int64("user"),
				DisplayName: c.String("name"),
			})
			if err != nil {
				return err
			}
			printJoin(c.App.Writer, c.Int64("room"), res)
			return nil
		},
	}
}

func printJoin(w io.Writer, roomID int64, res JoinResult) {
	if res.HasSnapshot() {
		fmt.Fprintf(w, "artwork %d: snapshot %d bytes\n", roomID, len(res.Snapshot))
	} else {
		fmt.Fprintf(w, "artwork %d: blank canvas\n", roomID)
	}
	for _, p := range res.Collaborators {
		fmt.Fprintf(w, "  %-12s %-24s id=%d contribution=%d%%\n", p.Role, p.DisplayName, p.ID, p.ContributionPercentage)
	}
}

func drawCommand() *cli.Command {
	return &cli.Command{
		Name:  "draw",
		Usage: "join a canvas and draw a circle of strokes",
		Flags: []cli.Flag{
			roomFlag(),
			&cli.IntFlag{Name: "strokes", Value: 36, Usage: "number of segments"},
			&cli.StringFlag{Name: "color", Value: "#6366f1"},
			&cli.Float64Flag{Name: "width", Value: 3},
			&cli.StringFlag{Name: "snapshot", Usage: "canvasState attached to the last stroke"},
			&cli.DurationFlag{Name: "delay", Value: 10 * time.Millisecond, Usage: "pause between strokes"},
		},
		Action: func(c *cli.Context) error {
			client, err := connect(c)
			if err != nil {
				return err
			}
			defer client.Close()

			roomID := c.Int64("room")
			if _, err := client.Join(roomID, protocol.JoinData{}); err != nil {
				return err
			}
			strokes := Circle(c.Int("strokes"), 200, 200, 100, c.String("color"), c.Float64("width"))
			if snap := c.String("snapshot"); snap != "" && len(strokes) > 0 {
				b, err := json.Marshal(snap)
				if err != nil {
					return err
				}
				strokes[len(strokes)-1].CanvasState = b
			}
			for _, s := range strokes {
				if err := client.Draw(roomID, s); err != nil {
					return err
				}
				time.Sleep(c.Duration("delay"))
			}
			// The pong confirms every stroke was processed.
			if _, _, err := client.Ping(nil); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "sent %d strokes to artwork %d\n", len(strokes), roomID)
			return nil
		},
	}
}

// Circle returns n pen strokes approximating a circle of radius r around (cx, cy).
func Circle(n int, cx, cy, r float64, color string, width float64) []protocol.DrawData {
	if n < 1 {
		return nil
	}
	out := make([]protocol.DrawData, 0, n)
	point := func(i int) (float64, float64) {
		a := 2 * math.Pi * float64(i) / float64(n)
		return cx + r*math.Cos(a), cy + r*math.Sin(a)
	}
	lx, ly := point(0)
	for i := 1; i <= n; i++ {
		x, y := point(i)
		out = append(out, protocol.DrawData{
			Tool: protocol.ToolPen, Color: color, LineWidth: width,
			LastX: lx, LastY: ly, X: x, Y: y,
		})
		lx, ly = x, y
	}
	return out
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "join a canvas and print every frame received",
		Flags: []cli.Flag{
			roomFlag(),
			&cli.DurationFlag{Name: "for", Usage: "stop after this long (0 = until interrupted)"},
		},
		Action: func(c *cli.Context) error {
			client, err := connect(c)
			if err != nil {
				return err
			}
			defer client.Close()

			roomID := c.Int64("room")
			res, err := client.Join(roomID, protocol.JoinData{})
			if err != nil {
				return err
			}
			printJoin(c.App.Writer, roomID, res)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()
			if d := c.Duration("for"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			return client.Listen(ctx, func(env protocol.Envelope) {
				fmt.Fprintf(c.App.Writer, "%s artwork=%d %s\n", env.Type, env.ArtworkID, env.Data)
			})
		},
	}
}

// ABOUTME: Operator CLI for intake-gateway that speaks the WebSocket protocol
// ABOUTME: Lists and watches onboarding sessions, submits scores and waits on a client's score

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/2389/intake-gateway/internal/protocol"
	"github.com/2389/intake-gateway/internal/session"
)

const banner = `
 _       _        _                        _           _
(_)_ __ | |_ __ _| | _____        __ _  __| |_ __ ___ (_)_ __
| | '_ \| __/ _' | |/ / _ \_____ / _' |/ _' | '_ ' _ \| | '_ \
| | | | | || (_| |   <  __/_____| (_| | (_| | | | | | | | | | |
|_|_| |_|\__\__,_|_|\_\___|      \__,_|\__,_|_| |_| |_|_|_| |_|
`

const defaultGatewayURL = "ws://localhost:3000/ws"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	url := os.Getenv("INTAKE_GATEWAY_URL")
	if url == "" {
		url = defaultGatewayURL
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "sessions":
		err = cmdSessions(ctx, url)
	case "watch":
		err = cmdWatch(ctx, url)
	case "score":
		err = cmdScore(ctx, url, args)
	case "wait":
		err = cmdWait(ctx, url, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: intake-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  sessions                  Print the current sessions and exit")
	fmt.Println("  watch                     Reprint sessions on every change")
	fmt.Println("  score <session> <score>   Score a session (number or text)")
	fmt.Println("  wait <session>            Act as the session's client and print its score")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  INTAKE_GATEWAY_URL        WebSocket URL (default: " + defaultGatewayURL + ")")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  intake-admin watch")
	fmt.Println("  intake-admin score 3f2a 9")
	fmt.Println("  intake-admin score 3f2a \"needs review\"")
	fmt.Println()
}

// dial opens a WebSocket to the gateway.
func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	return conn, nil
}

// closeOnDone closes conn when ctx ends so blocking reads return.
func closeOnDone(ctx context.Context, conn *websocket.Conn) func() {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	return func() { close(stop) }
}

// readOutbound blocks for the next server frame, skipping frames it cannot decode.
func readOutbound(conn *websocket.Conn) (protocol.Outbound, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		msg, err := protocol.DecodeOutbound(data)
		if err != nil {
			continue
		}
		return msg, nil
	}
}

func registerObserver(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, err := dial(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, protocol.EncodeRegisterAdmin()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("registering observer: %w", err)
	}
	return conn, nil
}

func cmdSessions(ctx context.Context, url string) error {
	conn, err := registerObserver(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer closeOnDone(ctx, conn)()

	sessions, err := nextSnapshot(conn)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	return printSessions(os.Stdout, sessions)
}

func cmdWatch(ctx context.Context, url string) error {
	conn, err := registerObserver(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer closeOnDone(ctx, conn)()

	gray := color.New(color.FgHiBlack)
	for {
		msg, err := readOutbound(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		snap, ok := msg.(protocol.AllSessions)
		if !ok {
			continue
		}
		gray.Printf("\n  %s  %d session(s)\n", time.Now().Format("15:04:05"), len(snap.Sessions))
		if err := printSessions(os.Stdout, snap.Sessions); err != nil {
			return err
		}
	}
}

func cmdScore(ctx context.Context, url string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: intake-admin score <session> <score>")
	}
	sessionID := args[0]

	frame, err := protocol.EncodeSendScore(sessionID, parseScoreArg(args[1]))
	if err != nil {
		return fmt.Errorf("invalid score: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := registerObserver(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer closeOnDone(ctx, conn)()

	// The registration snapshot arrives before anything caused by our score.
	if _, err := nextSnapshot(conn); err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("sending score: %w", err)
	}

	for {
		sessions, err := nextSnapshot(conn)
		if err != nil {
			return fmt.Errorf("waiting for confirmation: %w", err)
		}
		s, ok := findSession(sessions, sessionID)
		if !ok {
			color.Yellow("  ! Session %s is not registered; score delivered to its client only\n", sessionID)
			return nil
		}
		if s.Status == session.StatusScored {
			color.Green("  ✓ Scored %s: %s\n", sessionID, formatScore(s.Score))
			return nil
		}
	}
}

func nextSnapshot(conn *websocket.Conn) ([]session.Session, error) {
	for {
		msg, err := readOutbound(conn)
		if err != nil {
			return nil, err
		}
		if snap, ok := msg.(protocol.AllSessions); ok {
			return snap.Sessions, nil
		}
	}
}

func findSession(sessions []session.Session, id string) (session.Session, bool) {
	for _, s := range sessions {
		if s.ID == id {
			return s, true
		}
	}
	return session.Session{}, false
}

func cmdWait(ctx context.Context, url string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: intake-admin wait <session>")
	}

	frame, err := protocol.EncodeRegisterUser(args[0])
	if err != nil {
		return err
	}

	conn, err := dial(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer closeOnDone(ctx, conn)()

	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("registering client: %w", err)
	}
	color.New(color.FgHiBlack).Printf("  waiting for a score on %s...\n", args[0])

	for {
		msg, err := readOutbound(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		if notice, ok := msg.(protocol.ScoreNotice); ok {
			fmt.Printf("  score: %s\n", formatScore(notice.Score))
			return nil
		}
	}
}

// parseScoreArg keeps numeric arguments as JSON numbers and sends anything
// else as a string.
func parseScoreArg(arg string) json.RawMessage {
	if _, err := strconv.ParseFloat(arg, 64); err == nil && json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	quoted, _ := json.Marshal(arg)
	return quoted
}

func formatScore(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "-"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func printSessions(out io.Writer, sessions []session.Session) error {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "  No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SESSION\tSTATUS\tUSER\tEMAIL\tNAME\tIP\tIMAGE\tSCORE\tUPDATED")
	fmt.Fprintln(w, "  -------\t------\t----\t-----\t----\t--\t-----\t-----\t-------")
	for _, s := range sessions {
		image := "-"
		if s.Image != nil {
			image = fmt.Sprintf("%s %s", s.Image.MediaType, humanize.Bytes(uint64(len(s.Image.Data))))
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(s.ID, 12),
			statusColor(s.Status),
			orDash(s.Username),
			orDash(s.Email),
			orDash(s.Name),
			orDash(s.IP),
			image,
			formatScore(s.Score),
			s.UpdatedAt.Local().Format("15:04:05"),
		)
	}
	return w.Flush()
}

func statusColor(st session.Status) string {
	switch st {
	case session.StatusScored:
		return color.GreenString(string(st))
	case session.StatusImageUploaded, session.StatusReadyForScoring:
		return color.YellowString(string(st))
	default:
		return string(st)
	}
}

func orDash(p *string) string {
	if p == nil || *p == "" {
		return "-"
	}
	return truncate(*p, 24)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

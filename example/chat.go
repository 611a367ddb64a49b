package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Zereker/p2pchat"
	"github.com/Zereker/p2pchat/routing"
)

type chatFlags struct {
	nodeID  string
	name    string
	port    int
	verbose bool
}

func main() {
	var flags chatFlags

	root := &cobra.Command{
		Use:          "chat",
		Short:        "Peer-to-peer chat over a single stream connection",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.nodeID, "node-id", "", "routing node id (enables JSON envelopes)")
	root.PersistentFlags().StringVar(&flags.name, "name", "", "display name announced to the peer")
	root.PersistentFlags().IntVar(&flags.port, "port", p2pchat.DefaultPort, "service port")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(&cobra.Command{
		Use:   "listen [addr]",
		Short: "Wait for one peer to connect",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := ""
			if len(args) == 1 {
				addr = args[0]
			}
			return run(cmd.Context(), flags, func(ctx context.Context, m *p2pchat.Manager) error {
				bound, err := m.StartServer(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("waiting for a peer on %s\n", bound)
				return nil
			}, p2pchat.ListenAddrOption(addr))
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "connect <host[:port]>",
		Short: "Connect to a listening peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags, func(ctx context.Context, m *p2pchat.Manager) error {
				return m.ConnectToServer(ctx, args[0])
			})
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, flags chatFlags, start func(context.Context, *p2pchat.Manager) error, extra ...p2pchat.Option) error {
	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var router routing.Router = routing.Passthrough{}
	if flags.nodeID != "" {
		router = routing.NewJSONRouter(flags.nodeID)
	}

	events := p2pchat.NewSerialExecutor(64)
	defer events.Close()

	opts := append([]p2pchat.Option{
		p2pchat.LoggerOption(logger),
		p2pchat.RouterOption(router),
		p2pchat.ExecutorOption(events),
		p2pchat.PortOption(flags.port),
		p2pchat.MetricsOption(p2pchat.NewMetrics(prometheus.NewRegistry())),
	}, extra...)
	m := p2pchat.NewManager(opts...)

	connected := make(chan struct{}, 1)
	m.SetListener(p2pchat.Callbacks{
		MessageReceived: func(msg p2pchat.Message) {
			switch msg.Kind {
			case p2pchat.KindImage:
				fmt.Printf("[peer] image, %d bytes (%s)\n", len(msg.Media), msg.ID)
			case p2pchat.KindVoice:
				fmt.Printf("[peer] voice, %s, %d bytes (%s)\n", msg.Duration, len(msg.Media), msg.ID)
			default:
				fmt.Printf("[peer] %s (%s)\n", msg.Text, msg.ID)
			}
		},
		ConnectionStatusChanged: func(up bool) {
			if up {
				fmt.Println("*** connected ***")
				select {
				case connected <- struct{}{}:
				default:
				}
				return
			}
			fmt.Println("*** disconnected ***")
		},
		DeliveryStatusChanged: func(id string, _ bool) {
			fmt.Printf("*** delivered %s ***\n", id)
		},
		SeenStatusChanged: func(id string, _ bool) {
			fmt.Printf("*** seen %s ***\n", id)
		},
		ProfileReceived: func(p p2pchat.Profile) {
			fmt.Printf("*** peer is %s (%s) ***\n", p.DisplayName, p.UserID)
			_ = m.SetPeerID(p.UserID)
		},
	})

	if err := start(ctx, m); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(shutdownCtx)
	}()

	select {
	case <-connected:
	case <-ctx.Done():
		return nil
	}

	if flags.name != "" || flags.nodeID != "" {
		_ = m.SendProfileInfo(ctx, p2pchat.Profile{UserID: flags.nodeID, DisplayName: flags.name})
	}

	return readCommands(ctx, m)
}

// readCommands sends each stdin line as a message; lines starting with "/"
// are commands.
func readCommands(ctx context.Context, m *p2pchat.Manager) error {
	fmt.Println("type messages, or /image <file>, /voice <file> <ms>, /seen <id>, /hello, /quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		if line == "" {
			continue
		}
		if err := execute(ctx, m, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Printf("error: %v\n", err)
		}
	}
}

var errQuit = errors.New("quit")

func execute(ctx context.Context, m *p2pchat.Manager, line string) error {
	if !strings.HasPrefix(line, "/") {
		return m.SendMessage(ctx, line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return errQuit
	case "/hello":
		return m.SendHello(ctx)
	case "/seen":
		if len(fields) != 2 {
			return errors.New("usage: /seen <id>")
		}
		return m.SendSeenReceipt(ctx, fields[1])
	case "/image":
		if len(fields) != 2 {
			return errors.New("usage: /image <file>")
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			return err
		}
		return m.SendImage(ctx, data)
	case "/voice":
		if len(fields) != 3 {
			return errors.New("usage: /voice <file> <ms>")
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			return err
		}
		ms, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return errors.Wrap(err, "bad duration")
		}
		return m.SendVoice(ctx, data, time.Duration(ms)*time.Millisecond)
	default:
		return errors.Errorf("unknown command %s", fields[0])
	}
}

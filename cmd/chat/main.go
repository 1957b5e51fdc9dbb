package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kleeedolinux/chatsocket/api"
	"github.com/kleeedolinux/chatsocket/config"
	"github.com/kleeedolinux/chatsocket/logs"
	"github.com/kleeedolinux/chatsocket/socket"
)

var rootCmd = &cobra.Command{
	Use:          "chat",
	Short:        "Terminal chat room client",
	SilenceUsage: true,
	RunE:         runChat,
}

var (
	flagConfig   string
	flagEnvFiles []string
	flagHost     string
	flagWSBase   string
	flagUsername string
	flagAvatar   string
	flagToken    string
	flagSecure   bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagConfig, "config", "c", "", "config file (default: search upward for configs/chat.yml)")
	flags.StringSliceVar(&flagEnvFiles, "env-file", []string{".env", ".env.local"}, "dotenv files loaded before the config")
	flags.StringVar(&flagHost, "host", "", "chat host, e.g. localhost:8080")
	flags.StringVar(&flagWSBase, "ws-base", "", "websocket base url, overrides --host")
	flags.StringVarP(&flagUsername, "username", "u", "", "display name")
	flags.StringVar(&flagAvatar, "avatar", "", "avatar url")
	flags.StringVar(&flagToken, "token", "", "bearer token")
	flags.BoolVar(&flagSecure, "secure", false, "use wss:// and https://")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	loader, err := config.Load(flagConfig, flagEnvFiles...)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	applyFlags(cmd, &cfg.Client)

	// Keep the console free for the conversation.
	if cfg.Log.File == "" {
		cfg.Log.Level = "warn"
	}
	log := logs.Init("chat", cfg.Log)
	defer func() { _ = logs.Sync() }()

	endpoint, err := socket.BuildEndpoint(cfg.Client.Endpoint())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	opts := append(cfg.Client.Options(), socket.WithLogger(log.Named("socket")))
	client := socket.NewChatClient(endpoint, opts...)
	subscribe(client, out)

	rest := api.New(apiBase(cfg.Client), api.WithToken(cfg.Client.Token), api.WithLogger(log.Named("api")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "connecting to %s\n", endpoint)
	if err := client.Connect(ctx); err != nil {
		log.Warn("initial connect failed", zap.Error(err))
	}
	defer client.Close()

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, client, rest, out, line); quit {
				return nil
			}
		}
	}
}

func applyFlags(cmd *cobra.Command, c *config.ClientConfig) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		c.Host = flagHost
	}
	if flags.Changed("ws-base") {
		c.WSBaseURL = flagWSBase
	}
	if flags.Changed("username") {
		c.Username = flagUsername
	}
	if flags.Changed("avatar") {
		c.Avatar = flagAvatar
	}
	if flags.Changed("token") {
		c.Token = flagToken
	}
	if flags.Changed("secure") {
		c.Secure = flagSecure
	}
}

func apiBase(c config.ClientConfig) string {
	if c.APIBaseURL != "" {
		return c.APIBaseURL
	}
	if c.Secure {
		return "https://" + c.Host
	}
	return "http://" + c.Host
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

func handleLine(ctx context.Context, client *socket.Client, rest *api.Client, out io.Writer, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/online":
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		info, err := rest.OnlineInfo(rctx)
		if err != nil {
			fmt.Fprintf(out, "! online: %v\n", err)
			return false
		}
		printRoster(out, info)
		return false
	case line == "/reconnect":
		if err := client.Connect(ctx); err != nil {
			fmt.Fprintf(out, "! connect: %v\n", err)
		}
		return false
	}

	if err := client.SendMessage(line); err != nil {
		fmt.Fprintf(out, "! not sent: %v\n", err)
	}
	return false
}

func subscribe(c *socket.Client, out io.Writer) {
	c.OnOpen(func() { fmt.Fprintln(out, "* connected") })
	c.OnClose(func() { fmt.Fprintln(out, "* disconnected") })
	c.OnError(func(err error) { fmt.Fprintf(out, "! %v\n", err) })
	c.OnReconnectFailed(func(attempts int) {
		fmt.Fprintf(out, "! gave up after %d reconnect attempts, type /reconnect to retry\n", attempts)
	})

	c.OnHistory(func(h socket.History) {
		for i := range h {
			printChat(out, &h[i])
		}
	})
	c.OnChatMessage(func(m *socket.ChatMessage) { printChat(out, m) })
	c.OnUserJoin(func(u socket.UserInfo) { fmt.Fprintf(out, "* %s joined\n", u.Username) })
	c.OnUserLeave(func(u socket.UserInfo) { fmt.Fprintf(out, "* %s left\n", u.Username) })
	c.OnUserList(func(info *socket.OnlineInfo) { fmt.Fprintf(out, "* %d online\n", info.OnlineCount) })
	c.OnSystem(func(n *socket.SystemNotice) { fmt.Fprintf(out, "# %s\n", n.Text()) })
	c.OnKick(func(k *socket.Kick) { fmt.Fprintf(out, "! kicked: %s\n", k.Reason) })
}

func printChat(out io.Writer, m *socket.ChatMessage) {
	ts := m.CreatedAt.Local().Format("15:04")
	if m.IsBroadcast {
		fmt.Fprintf(out, "[%s] # %s\n", ts, m.Content)
		return
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", ts, m.Username, m.Content)
}

func printRoster(out io.Writer, info *socket.OnlineInfo) {
	fmt.Fprintf(out, "%d online\n", info.OnlineCount)
	for _, u := range info.OnlineUsers {
		fmt.Fprintf(out, "  %s\n", u.Username)
	}
}

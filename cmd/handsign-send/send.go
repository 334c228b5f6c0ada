package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/danmuck/handsign/internal/observability"
	"github.com/danmuck/handsign/internal/protocol/frame"
	"github.com/danmuck/handsign/internal/transport"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type sendFlags struct {
	addr    string
	wait    bool
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	flags := sendFlags{addr: transport.DefaultTCPAddr, wait: false, timeout: 10 * time.Second}

	cmd := &cobra.Command{
		Use:   "handsign-send <image> [image...]",
		Short: "Send images to a handsignd TCP listener and print the replies",
		Example: `  handsign-send --addr 127.0.0.1:7420 a.jpg b.png
  # with auto_reply = true on the daemon
  handsign-send --wait frame.jpg`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			observability.InitLogger("handsign-send")
			return sendAll(cmd.Context(), flags, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", flags.addr, "handsignd tcp address")
	cmd.Flags().BoolVar(&flags.wait, "wait", flags.wait, "wait for one result line per image (daemon needs auto_reply)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", flags.timeout, "per-image reply timeout")
	return cmd
}

func sendAll(ctx context.Context, flags sendFlags, paths []string, out io.Writer) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", flags.addr)
	if err != nil {
		return fmt.Errorf("handsign-send: dial %s: %w", flags.addr, err)
	}
	defer conn.Close()
	log.Debug().Str("addr", flags.addr).Msg("handsign-send: connected")

	replies := bufio.NewReader(conn)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("handsign-send: %w", err)
		}
		w := bufio.NewWriter(conn)
		if err := frame.WritePayload(w, data); err != nil {
			return fmt.Errorf("handsign-send: send %s: %w", p, err)
		}
		log.Info().Str("file", p).Int("bytes", len(data)).Msg("handsign-send: payload sent")
		if !flags.wait {
			continue
		}

		label, conf, err := readResult(conn, replies, flags.timeout)
		if err != nil {
			return fmt.Errorf("handsign-send: %s: %w", p, err)
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", p, label, frame.FormatConfidence(conf))
	}
	return nil
}

func readResult(conn net.Conn, r *bufio.Reader, timeout time.Duration) (string, float32, error) {
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return "", 0, fmt.Errorf("read result: %w", err)
	}
	return frame.ParseResult(line)
}

// Command incallctl drives a running call manager: it places and controls
// calls over the in-call gRPC service and reads status from the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	types "github.com/sebas/callmanager/api/types/v1"
	"github.com/sebas/callmanager/internal/api/client"
	"github.com/sebas/callmanager/internal/telecom/incall"
)

const usage = `usage: incallctl [flags] <command> [args]

call control (gRPC):
  calls                         list calls
  watch                         stream call updates until interrupted
  dial <handle> [account]       place a call
  answer <call> [video-state]   answer a ringing call
  reject <call> [text]          reject a ringing call
  hold|unhold|hangup <call>
  mute on|off
  route EARPIECE|SPEAKER|WIRED_HEADSET|BLUETOOTH
  dtmf <call> <digit>           play one DTMF digit
  conference <call> <other>
  split|merge|swap <call>
  postdial <call> yes|no
  select <call> <account> [default]

status (HTTP):
  stats | log [limit] | accounts | peripherals
  wired on|off | dock <state> | bluetooth <device|-> | button [long]
`

var errUsage = errors.New("invalid arguments")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "incallctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("incallctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	grpcAddr := fs.String("grpc", envOr("INCALL_ADDR", "localhost:9190"), "In-call gRPC address")
	httpURL := fs.String("http", envOr("CALLMANAGER_URL", "http://localhost:8090"), "HTTP API base URL")
	timeout := fs.Duration("timeout", 10*time.Second, "Timeout for one command")
	if err := fs.Parse(args); err != nil || fs.NArg() == 0 {
		return errUsage
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	if isStatusCommand(cmd) {
		cctx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		return runStatus(cctx, client.NewClient(*httpURL), cmd, rest, out)
	}

	cfg := incall.DefaultClientConfig()
	cfg.Address = *grpcAddr
	c, err := incall.Dial(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if cmd == "watch" {
		return watch(ctx, c, out)
	}
	cctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	return runCommand(cctx, c, cmd, rest, out)
}

func isStatusCommand(cmd string) bool {
	switch cmd {
	case "stats", "log", "accounts", "peripherals", "wired", "dock", "bluetooth", "button":
		return true
	}
	return false
}

func runCommand(ctx context.Context, c *incall.Client, cmd string, args []string, out io.Writer) error {
	need := func(n int) error {
		if len(args) < n {
			return errUsage
		}
		return nil
	}

	var (
		res incall.Result
		err error
	)
	switch cmd {
	case "calls":
		calls, err := c.Calls(ctx)
		if err != nil {
			return err
		}
		printCalls(out, calls)
		return nil
	case "dial":
		if err := need(1); err != nil {
			return err
		}
		res, err = c.PlaceCall(ctx, args[0], optional(args, 1), false)
	case "answer":
		if err := need(1); err != nil {
			return err
		}
		video := 0
		if v := optional(args, 1); v != "" {
			if video, err = strconv.Atoi(v); err != nil {
				return errUsage
			}
		}
		res, err = c.Answer(ctx, args[0], video)
	case "reject":
		if err := need(1); err != nil {
			return err
		}
		res, err = c.Reject(ctx, args[0], optional(args, 1))
	case "hold", "unhold", "hangup", "split", "merge", "swap":
		if err := need(1); err != nil {
			return err
		}
		res, err = perCall(ctx, c, cmd, args[0])
	case "mute":
		on, ok := onOff(optional(args, 0))
		if !ok {
			return errUsage
		}
		res, err = c.Mute(ctx, on)
	case "route":
		if err := need(1); err != nil {
			return err
		}
		res, err = c.SetAudioRoute(ctx, args[0])
	case "dtmf":
		if err := need(2); err != nil {
			return err
		}
		digits := []rune(args[1])
		if len(digits) != 1 {
			return errUsage
		}
		res, err = c.PlayDtmf(ctx, args[0], digits[0])
		if err == nil && res.Accepted {
			res, err = c.StopDtmf(ctx, args[0])
		}
	case "conference":
		if err := need(2); err != nil {
			return err
		}
		res, err = c.Conference(ctx, args[0], args[1])
	case "postdial":
		if err := need(2); err != nil {
			return err
		}
		proceed, ok := onOff(args[1])
		if !ok {
			return errUsage
		}
		res, err = c.PostDialContinue(ctx, args[0], proceed)
	case "select":
		if err := need(2); err != nil {
			return err
		}
		res, err = c.PhoneAccountSelected(ctx, args[0], args[1], optional(args, 2) == "default")
	default:
		return errUsage
	}
	if err != nil {
		return err
	}
	return printResult(out, res)
}

func perCall(ctx context.Context, c *incall.Client, cmd, id string) (incall.Result, error) {
	switch cmd {
	case "hold":
		return c.Hold(ctx, id)
	case "unhold":
		return c.Unhold(ctx, id)
	case "split":
		return c.Split(ctx, id)
	case "merge":
		return c.Merge(ctx, id)
	case "swap":
		return c.Swap(ctx, id)
	default:
		return c.Disconnect(ctx, id)
	}
}

func printResult(out io.Writer, res incall.Result) error {
	if !res.Accepted {
		return fmt.Errorf("not accepted: %s", res.Reason)
	}
	if res.CallID != "" {
		fmt.Fprintln(out, res.CallID)
		return nil
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func watch(ctx context.Context, c *incall.Client, out io.Writer) error {
	sub, err := c.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		u, err := sub.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch {
		case u.Call != nil:
			fmt.Fprintf(out, "%-12s %s %s %s\n", u.Kind, u.Call.ID, u.Call.State, u.Call.Handle)
		case u.Audio != nil:
			fmt.Fprintf(out, "%-12s route=%s muted=%t\n", u.Kind, u.Audio.Route, u.Audio.Muted)
		default:
			fmt.Fprintf(out, "%-12s %t\n", u.Kind, u.CanAddCall)
		}
	}
}

func runStatus(ctx context.Context, c *client.Client, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "stats":
		s, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "calls\t%d\n", s.TotalCalls)
		fmt.Fprintf(w, "ringing\t%d\n", s.RingingCalls)
		fmt.Fprintf(w, "foreground\t%s\n", s.ForegroundCall)
		fmt.Fprintf(w, "can add call\t%t\n", s.CanAddCall)
		fmt.Fprintf(w, "phone state\t%s\n", s.PhoneState)
		fmt.Fprintf(w, "ringer\t%s\n", s.RingerState)
		fmt.Fprintf(w, "connection services\t%d\n", s.ConnectionCount)
		return w.Flush()
	case "log":
		limit := 0
		if v := optional(args, 0); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errUsage
			}
			limit = n
		}
		entries, err := c.CallLog(ctx, limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "START\tTYPE\tNUMBER\tDURATION\tCAUSE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.0fs\t%s\n", e.Start, e.Type, e.Number, e.DurationSec, e.DisconnectCause)
		}
		return w.Flush()
	case "accounts":
		accounts, err := c.Accounts(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "HANDLE\tLABEL\tSCHEMES\tDEFAULT")
		for _, a := range accounts {
			fmt.Fprintf(w, "%s\t%s\t%v\t%t\n", a.Handle, a.Label, a.Schemes, a.Default)
		}
		return w.Flush()
	case "peripherals":
		p, err := c.Peripherals(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "wired=%t bluetooth=%t bt_audio=%t dock=%s\n", p.WiredHeadsetPlugged, p.BluetoothAvailable, p.BluetoothAudioOn, p.Dock)
		return nil
	case "wired":
		on, ok := onOff(optional(args, 0))
		if !ok {
			return errUsage
		}
		return c.SetWiredHeadset(ctx, on)
	case "dock":
		if len(args) < 1 {
			return errUsage
		}
		return c.SetDock(ctx, args[0])
	case "bluetooth":
		device := optional(args, 0)
		if device == "" {
			return errUsage
		}
		if device == "-" {
			device = ""
		}
		return c.SetBluetooth(ctx, device, false)
	case "button":
		handled, err := c.MediaButton(ctx, optional(args, 0) == "long")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "handled=%t\n", handled)
		return nil
	}
	return errUsage
}

func printCalls(out io.Writer, calls []types.Call) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tDIR\tHANDLE\tACCOUNT\tFG")
	for _, c := range calls {
		fg := ""
		if c.Foreground {
			fg = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.State, c.Direction, c.Handle, c.Account, fg)
	}
	_ = w.Flush()
}

func optional(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func onOff(s string) (bool, bool) {
	switch s {
	case "on", "yes", "true":
		return true, true
	case "off", "no", "false":
		return false, true
	}
	return false, false
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

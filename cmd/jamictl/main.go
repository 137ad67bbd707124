package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/account"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/api"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/profile"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	accountFlag := flag.String("account", "", "account id (defaults to the current account)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := api.Dial(profile.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(c, prefix)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	acc := *accountFlag

	var resp *structpb.Struct
	switch args[0] {
	case "status":
		resp, err = c.Status(ctx)
	case "accounts":
		resp, err = c.ListAccounts(ctx)
	case "list":
		resp, err = c.SmartList(ctx, acc)
	case "history":
		need(args, 2, "history <conversation> [limit] [before-id]")
		limit := 0
		if len(args) > 2 {
			if limit, err = strconv.Atoi(args[2]); err != nil {
				fatal(fmt.Errorf("limit: %w", err))
			}
		}
		from := ""
		if len(args) > 3 {
			from = args[3]
		}
		resp, err = c.LoadHistory(ctx, acc, args[1], from, limit)
	case "search":
		need(args, 2, "search <query>")
		resp, err = c.Search(ctx, acc, args[1])
	case "start":
		need(args, 2, "start <member>...")
		resp, err = c.StartConversation(ctx, acc, args[1:])
	case "send":
		need(args, 3, "send <conversation> <text>")
		resp, err = c.SendText(ctx, acc, args[1], args[2])
	case "accept":
		need(args, 2, "accept <from>")
		if err := c.AcceptRequest(ctx, acc, args[1]); err != nil {
			fatal(err)
		}
		fmt.Println("Request accepted.")
		return
	case "discard":
		need(args, 2, "discard <from>")
		if err := c.DiscardRequest(ctx, acc, args[1]); err != nil {
			fatal(err)
		}
		fmt.Println("Request discarded.")
		return
	case "qr":
		cmdQR(ctx, c, acc, args[1:])
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
	if *jsonFlag {
		outputJSON(resp)
		return
	}
	printStruct(args[0], resp)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: jamictl [--profile <name>] [--account <id>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                         Show daemon status")
	fmt.Fprintln(os.Stderr, "  accounts                       List accounts")
	fmt.Fprintln(os.Stderr, "  list                           Show the smart list and pending requests")
	fmt.Fprintln(os.Stderr, "  history <conv> [n] [before]    Load conversation history")
	fmt.Fprintln(os.Stderr, "  search <query>                 Search contacts and conversations")
	fmt.Fprintln(os.Stderr, "  start <member>...              Start a conversation")
	fmt.Fprintln(os.Stderr, "  send <conv> <text>             Send a text message")
	fmt.Fprintln(os.Stderr, "  accept <from>                  Accept a trust request")
	fmt.Fprintln(os.Stderr, "  discard <from>                 Discard a trust request")
	fmt.Fprintln(os.Stderr, "  qr [file.png]                  Show the account share QR code")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                 Stream daemon events")
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: jamictl %s\n", usage)
		os.Exit(1)
	}
}

func cmdQR(ctx context.Context, c *api.Client, acc string, args []string) {
	uri, png, err := c.ShareQR(ctx, acc, 256)
	if err != nil {
		fatal(err)
	}
	if len(args) > 0 {
		if err := os.WriteFile(args[0], png, 0600); err != nil {
			fatal(err)
		}
		fmt.Printf("QR code for %s written to %s\n", uri, args[0])
		return
	}
	text, err := account.RenderQR(uri)
	if err != nil {
		fatal(err)
	}
	fmt.Print(text)
	fmt.Println(uri)
}

func cmdWatch(c *api.Client, prefix string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w, err := c.Watch(ctx, prefix)
	if err != nil {
		fatal(err)
	}
	for {
		evt, err := w.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fatal(err)
		}
		out, _ := protojson.Marshal(evt)
		fmt.Println(string(out))
	}
}

func printStruct(cmd string, s *structpb.Struct) {
	f := s.GetFields()
	switch cmd {
	case "status":
		fmt.Printf("Profile:  %s\n", f["profile"].GetStringValue())
		fmt.Printf("State:    %s\n", f["state"].GetStringValue())
		fmt.Printf("Accounts: %d\n", int(f["accounts"].GetNumberValue()))
		fmt.Printf("Uptime:   %dms\n", int64(f["uptime_ms"].GetNumberValue()))
	case "accounts":
		current := f["current"].GetStringValue()
		for _, v := range f["accounts"].GetListValue().GetValues() {
			a := v.GetStructValue().GetFields()
			mark := " "
			if a["id"].GetStringValue() == current {
				mark = "*"
			}
			fmt.Printf("%s %-18s %-20s %s\n", mark, a["id"].GetStringValue(), a["alias"].GetStringValue(), a["state"].GetStringValue())
		}
	case "list", "search":
		for _, v := range f["items"].GetListValue().GetValues() {
			it := v.GetStructValue().GetFields()
			fmt.Printf("%-42s %-24s %s\n", it["conversation_id"].GetStringValue(), it["title"].GetStringValue(), it["mode"].GetStringValue())
		}
		if pending := f["pending"].GetListValue().GetValues(); len(pending) > 0 {
			fmt.Printf("\n%d pending request(s):\n", len(pending))
			for _, v := range pending {
				it := v.GetStructValue().GetFields()
				fmt.Printf("  %s\n", it["contact_uri"].GetStringValue())
			}
		}
	case "history":
		for _, v := range f["interactions"].GetListValue().GetValues() {
			printInteraction(v.GetStructValue())
		}
	case "send":
		printInteraction(s)
	default:
		outputJSON(s)
	}
}

func printInteraction(s *structpb.Struct) {
	f := s.GetFields()
	ts := time.UnixMilli(int64(f["timestamp"].GetNumberValue())).Format("2006-01-02 15:04")
	body := f["body"].GetStringValue()
	if body == "" {
		body = "[" + f["kind"].GetStringValue() + "]"
	}
	fmt.Printf("%s %-12s %-10s %s\n", ts, f["author"].GetStringValue(), f["status"].GetStringValue(), body)
}

func outputJSON(v *structpb.Struct) {
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return
	}
	fmt.Println(string(out))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/jobwatch/internal/client/command"
	"github.com/ChuLiYu/jobwatch/internal/client/conn"
	"github.com/ChuLiYu/jobwatch/internal/client/tui"
	"github.com/ChuLiYu/jobwatch/internal/client/view"
	"github.com/ChuLiYu/jobwatch/internal/config"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

const commandTimeout = 15 * time.Second

// clientFlags are the connection overrides shared by every client command.
type clientFlags struct {
	server   string
	initData string
	chatID   string
}

func (f *clientFlags) bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.server, "server", "", "server base URL (overrides client.server_url)")
	cmd.PersistentFlags().StringVar(&f.initData, "init-data", "", "init assertion (overrides JOBWATCH_INIT_DATA)")
	cmd.PersistentFlags().StringVar(&f.chatID, "chat-id", "", "chat id (overrides JOBWATCH_CHAT_ID)")
}

func (f *clientFlags) apply(cfg *config.Config) {
	if f.server != "" {
		cfg.Client.ServerURL = f.server
	}
	if f.initData != "" {
		cfg.Client.InitData = f.initData
	}
	if f.chatID != "" {
		cfg.Client.ChatID = f.chatID
	}
}

func (f *clientFlags) load() (*config.Config, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	f.apply(cfg)
	return cfg, nil
}

func newCommandClient(cfg *config.Config) *command.Client {
	return command.New(cfg.Client.ServerURL, cfg.Client.InitData, cfg.Client.ChatID, commandTimeout)
}

// newDialer picks the push channel transport.
func newDialer(cfg *config.Config) (conn.Dialer, error) {
	switch cfg.Client.Transport {
	case "ws":
		return &conn.WSDialer{ServerURL: cfg.Client.ServerURL}, nil
	case "grpc":
		if cfg.Client.GRPCAddr == "" {
			return nil, fmt.Errorf("client.grpc_addr is required for the grpc transport")
		}
		return &conn.GRPCDialer{Addr: cfg.Client.GRPCAddr}, nil
	}
	return nil, fmt.Errorf("unknown transport %q (want ws or grpc)", cfg.Client.Transport)
}

// ============================================================================
// watch
// ============================================================================

func buildWatchCommand() *cobra.Command {
	var (
		flags     clientFlags
		transport string
		filter    string
		logFile   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the live dashboard",
		Long:  "Connect to a jobwatch server and show its jobs, updated in place as snapshots arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if transport != "" {
				cfg.Client.Transport = transport
			}
			f, err := view.ParseFilter(filter)
			if err != nil {
				return err
			}
			dialer, err := newDialer(cfg)
			if err != nil {
				return err
			}

			restore, err := redirectLogs(logFile)
			if err != nil {
				return err
			}
			defer restore()

			mgr := conn.NewManager(dialer, conn.Credentials{
				InitData: cfg.Client.InitData,
				ChatID:   cfg.Client.ChatID,
			}, conn.Config{
				MaxAttempts: cfg.Client.MaxAttempts,
				BaseDelay:   cfg.Client.BaseDelay,
				MaxDelay:    cfg.Client.MaxDelay,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()
			return tui.Run(ctx, mgr, newCommandClient(cfg), f)
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVar(&transport, "transport", "", "push channel transport: ws or grpc (overrides client.transport)")
	cmd.Flags().StringVar(&filter, "filter", "all", "initial filter: all, movies, tv_shows, other")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs here while the dashboard runs (default: discard)")

	return cmd
}

// redirectLogs sends the default logger to path, or discards it, until the
// returned restore func is called.
func redirectLogs(path string) (func(), error) {
	prev := slog.Default()
	var (
		w         io.Writer = io.Discard
		closeFile           = func() {}
	)
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closeFile = f, func() { f.Close() }
	}
	if _, err := setupLogging(w, logLevel, logFormat); err != nil {
		closeFile()
		return nil, err
	}
	return func() {
		slog.SetDefault(prev)
		closeFile()
	}, nil
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current job status",
		Long:  "Fetch the server's current snapshot once and print it grouped by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			snap, err := newCommandClient(cfg).Jobs(ctx)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), cfg.Client.ServerURL, snap)
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}

var categoryTitles = map[types.Category]string{
	types.CategoryMovies:  "🎬 Movies",
	types.CategoryTVShows: "📺 TV Shows",
	types.CategoryOther:   "📦 Other",
}

func printStatus(w io.Writer, server string, snap *types.Snapshot) {
	fmt.Fprintln(w, "\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           jobwatch Status                                 ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "📡 Server: %s\n", server)
	if !snap.FetchedAt.IsZero() {
		fmt.Fprintf(w, "🕒 Fetched: %s (%s)\n", snap.FetchedAt.Local().Format(time.DateTime), humanize.Time(snap.FetchedAt))
	}
	fmt.Fprintln(w)

	if snap.Len() == 0 {
		fmt.Fprintln(w, "  └─ No active downloads.")
		fmt.Fprintln(w)
		return
	}

	var groups [len(types.Categories)][]types.JobRecord
	for _, r := range snap.Jobs {
		c := types.ParseCategory(string(r.Category))
		groups[c.Index()] = append(groups[c.Index()], r)
	}

	for i, c := range types.Categories {
		jobs := groups[i]
		if len(jobs) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s (%d):\n", categoryTitles[c], len(jobs))
		for j, r := range jobs {
			branch := "├─"
			if j == len(jobs)-1 {
				branch = "└─"
			}
			a := view.RenderAttrs(r)
			fmt.Fprintf(w, "  %s %s\n", branch, a.Get(view.AttrName))
			fmt.Fprintf(w, "  %s  %-16s %7s of %-10s ↓ %-11s ↑ %-11s eta %s\n",
				pipe(j == len(jobs)-1),
				a.Get(view.AttrStateLabel), a.Get(view.AttrPercent), a.Get(view.AttrSize),
				a.Get(view.AttrDownRate), a.Get(view.AttrUpRate), a.Get(view.AttrETA))
			fmt.Fprintf(w, "  %s  id %s\n", pipe(j == len(jobs)-1), r.ID)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
}

func pipe(last bool) string {
	if last {
		return "  "
	}
	return "│ "
}

// ============================================================================
// ctl
// ============================================================================

func buildCtlCommand() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Send a command to a job",
		Long:  "Pause, resume or delete a job, or list and prioritize its files",
	}
	flags.bind(cmd)

	run := func(fn func(ctx context.Context, c *command.Client) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			return fn(ctx, newCommandClient(cfg))
		}
	}

	pause := &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a job",
		Args:  cobra.ExactArgs(1),
	}
	pause.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *command.Client) error {
			if err := c.Pause(ctx, types.JobID(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Paused %s\n", args[0])
			return nil
		})(cmd, args)
	}

	resume := &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a job",
		Args:  cobra.ExactArgs(1),
	}
	resume.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *command.Client) error {
			if err := c.Resume(ctx, types.JobID(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Resumed %s\n", args[0])
			return nil
		})(cmd, args)
	}

	var deleteFiles bool
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
	}
	del.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *command.Client) error {
			if err := c.Delete(ctx, types.JobID(args[0]), deleteFiles); err != nil {
				return err
			}
			if deleteFiles {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s and its files\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s\n", args[0])
			}
			return nil
		})(cmd, args)
	}
	del.Flags().BoolVar(&deleteFiles, "files", false, "also delete downloaded data")

	files := &cobra.Command{
		Use:   "files <id>",
		Short: "List the files of a job",
		Args:  cobra.ExactArgs(1),
	}
	files.RunE = func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *command.Client) error {
			list, err := c.ListFiles(ctx, types.JobID(args[0]))
			if err != nil {
				return err
			}
			printFiles(cmd.OutOrStdout(), list)
			return nil
		})(cmd, args)
	}

	priority := &cobra.Command{
		Use:   "priority <id> <skip|normal|high|maximum> <file-id>...",
		Short: "Set the download priority of files",
		Args:  cobra.MinimumNArgs(3),
	}
	priority.RunE = func(cmd *cobra.Command, args []string) error {
		p, err := parsePriority(args[1])
		if err != nil {
			return err
		}
		ids := make([]int, 0, len(args)-2)
		for _, raw := range args[2:] {
			id, err := strconv.Atoi(raw)
			if err != nil || id < 0 {
				return fmt.Errorf("invalid file id %q", raw)
			}
			ids = append(ids, id)
		}
		return run(func(ctx context.Context, c *command.Client) error {
			if err := c.SetFilePriority(ctx, types.JobID(args[0]), ids, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Set %d file(s) of %s to %s\n", len(ids), args[0], p)
			return nil
		})(cmd, args)
	}

	cmd.AddCommand(pause, resume, del, files, priority)
	return cmd
}

// parsePriority accepts a priority name or its numeric value.
func parsePriority(raw string) (types.FilePriority, error) {
	for _, p := range []types.FilePriority{types.PrioritySkip, types.PriorityNormal, types.PriorityHigh, types.PriorityMaximum} {
		if strings.EqualFold(raw, p.String()) || raw == strconv.Itoa(int(p)) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("invalid priority %q (want skip, normal, high, maximum or 0, 1, 6, 7)", raw)
}

func printFiles(w io.Writer, files []types.FileEntry) {
	if len(files) == 0 {
		fmt.Fprintln(w, "No files.")
		return
	}
	for _, f := range files {
		fmt.Fprintf(w, "%4d  %-8s %6.1f%%  %10s  %s\n",
			f.ID, f.Priority, f.Progress*100, humanize.IBytes(uint64(max(f.SizeBytes, 0))), f.Name)
	}
}

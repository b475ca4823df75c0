package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/vivarium/internal/client"
	"github.com/lazypower/vivarium/internal/life"
	"github.com/lazypower/vivarium/internal/stimulus"
	"github.com/lazypower/vivarium/internal/store"
)

// apiClient resolves the server URL: --url, then VIVARIUM_URL, then the
// configured listen address.
func apiClient() *client.Client {
	if serverURL != "" || os.Getenv("VIVARIUM_URL") != "" {
		return client.New(serverURL)
	}
	bind := cfg.Server.Bind
	if bind == "" || bind == "0.0.0.0" {
		bind = "127.0.0.1"
	}
	return client.New(fmt.Sprintf("http://%s:%d", bind, cfg.Server.Port))
}

// openDB opens the archive database for read-side commands.
func openDB() (*store.DB, error) {
	return store.Open(store.DBPath(cfg.Data.Dir))
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running life",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := apiClient().Status()
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		printView(cmd, v)
		return nil
	},
}

func printView(cmd *cobra.Command, v life.View) {
	out := cmd.OutOrStdout()
	state := "stopped"
	if v.Running {
		state = "running"
	}
	fmt.Fprintf(out, "life %s (%s, %s)\n", v.ID, state, v.Condition)
	fmt.Fprintf(out, "  tick %d  wall %.1fs  subjective %.1fs  dilation %.3f  arousal %.3f\n",
		v.Tick, v.WallAge, v.SubjectiveAge, v.Dilation, v.Arousal)
	fmt.Fprintf(out, "  energy %.3f  stability %.3f  integrity %.3f\n",
		v.Vitals.Energy, v.Vitals.Stability, v.Vitals.Integrity)
	fmt.Fprintf(out, "  memory %d active, %d archived  pending links %d  queue %d/%d (dropped %d)\n",
		v.Memory.Active, v.Memory.Archived, v.PendingLinks, v.Queue.Len, v.Queue.Capacity, v.Queue.Dropped)

	if len(v.Memory.Latest) > 0 {
		fmt.Fprintln(out, "\n## Latest memories")
		for _, e := range v.Memory.Latest {
			fmt.Fprintf(out, "  #%d %s  sig %.2f  weight %.2f\n", e.Seq, e.Category, e.Significance, e.Weight)
		}
	}
	if len(v.Recent) > 0 {
		fmt.Fprintln(out, "\n## Recent stimuli")
		for _, s := range v.Recent {
			line := fmt.Sprintf("  t%d %s %+.2f", s.Tick, s.Category, s.Intensity)
			if s.Action != "" {
				line += " -> " + s.Action
			}
			if s.Error != "" {
				line += " (error: " + s.Error + ")"
			}
			fmt.Fprintln(out, line)
		}
	}
}

// --- poke command ---

var (
	pokeIntensity float64
	pokeMeta      map[string]string
)

var pokeCmd = &cobra.Command{
	Use:   "poke <category>",
	Short: "Send a stimulus to the running life",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := stimulus.Input{Category: args[0], Metadata: pokeMeta}
		if cmd.Flags().Changed("intensity") {
			in.Intensity = &pokeIntensity
		}
		// validate locally before the round trip
		if _, err := stimulus.New(in, "cli", time.Now()); err != nil {
			return err
		}
		queued, err := apiClient().Poke(in)
		if err != nil {
			return fmt.Errorf("poke: %w", err)
		}
		if !queued {
			fmt.Fprintln(cmd.OutOrStdout(), "dropped: stimulus queue is full")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", in.Category)
		return nil
	},
}

// --- snapshots command ---

var snapshotsShow bool

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List snapshots on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := store.NewSnapshotDir(filepath.Join(cfg.Data.Dir, "snapshots"), cfg.Data.KeepSnapshots)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if snapshotsShow {
			snap, info, err := dir.LoadLatest()
			if errors.Is(err, store.ErrNoSnapshot) {
				fmt.Fprintln(out, "No snapshots yet.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "# %s\n", info.Path)
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		infos, err := dir.List()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Fprintln(out, "No snapshots yet.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TICK\tSIZE\tWRITTEN\tPATH")
		for _, s := range infos {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", s.Tick, s.Size, s.ModTime.Format("2006-01-02 15:04:05"), s.Path)
		}
		return tw.Flush()
	},
}

// --- archive command ---

var (
	archiveCategory string
	archiveLimit    int
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "List archived memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		entries, err := db.ListArchive(archiveCategory, archiveLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "Archive is empty.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tCATEGORY\tSIG\tWEIGHT\tACCESS\tARCHIVED")
		for _, a := range entries {
			e := a.Entry
			fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.3f\t%d\t%s\n",
				e.Seq, e.Category, e.Significance, e.Weight, e.AccessCount, a.ArchivedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

// --- ticks command ---

var ticksLimit int

var ticksCmd = &cobra.Command{
	Use:   "ticks",
	Short: "Show the most recent tick log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := store.ReadTicks(filepath.Join(cfg.Data.Dir, store.TickLogFile), ticksLimit)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(cmd.OutOrStdout(), "No ticks logged yet.")
			return nil
		}
		if err != nil {
			return err
		}
		printTicks(cmd, recs)
		return nil
	},
}

func printTicks(cmd *cobra.Command, recs []store.TickRecord) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICK\tDILATION\tENERGY\tSTABILITY\tINTEGRITY\tCONDITION\tSTIMULI\tMEM\tERR")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%.3f\t%.3f\t%.3f\t%.3f\t%s\t%d\t%d\t%d\n",
			r.Tick, r.Dilation, r.Vitals.Energy, r.Vitals.Stability, r.Vitals.Integrity,
			r.Condition, r.Stimuli, r.Memories, r.Errors)
	}
	tw.Flush()
}

func init() {
	pokeCmd.Flags().Float64VarP(&pokeIntensity, "intensity", "i", 0, "signed intensity in [-1, 1]")
	pokeCmd.Flags().StringToStringVarP(&pokeMeta, "meta", "m", nil, "metadata as key=value (repeatable)")

	snapshotsCmd.Flags().BoolVar(&snapshotsShow, "show", false, "print the newest readable snapshot")

	archiveCmd.Flags().StringVarP(&archiveCategory, "category", "c", "", "filter by category")
	archiveCmd.Flags().IntVarP(&archiveLimit, "limit", "n", 20, "maximum number of entries")

	ticksCmd.Flags().IntVarP(&ticksLimit, "limit", "n", 20, "number of ticks to show")
}

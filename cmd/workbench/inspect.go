package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/SceneWorkbench/internal/compose"
	"github.com/AaronLay10/SceneWorkbench/internal/graph"
	"github.com/AaronLay10/SceneWorkbench/internal/scene"
	"github.com/AaronLay10/SceneWorkbench/internal/storage/postgres"
)

var (
	outputFormat  string
	journalLimit  int
	journalSessID string

	scenesCmd = &cobra.Command{
		Use:   "scenes",
		Short: "List the scenes in the scenes directory",
		Args:  cobra.NoArgs,
		RunE:  runScenes,
	}

	layoutCmd = &cobra.Command{
		Use:   "layout <scene>",
		Short: "Print the graph of a scene with computed positions",
		Args:  cobra.ExactArgs(1),
		RunE:  runLayout,
	}

	journalCmd = &cobra.Command{
		Use:   "journal",
		Short: "Print the persisted activity journal of this workspace",
		Args:  cobra.NoArgs,
		RunE:  runJournal,
	}
)

func init() {
	layoutCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, yaml or json")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 50, "number of entries")
	journalCmd.Flags().StringVar(&journalSessID, "session", "", "only entries of this scene session")
	rootCmd.AddCommand(scenesCmd, layoutCmd, journalCmd)
}

func runScenes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo := compose.NewRepository(cfg.ScenesDir(), nil)
	scenes, err := repo.Scenes(cmd.Context())
	if err != nil {
		return err
	}
	for _, s := range scenes {
		fmt.Fprintln(cmd.OutOrStdout(), s.Name)
	}
	return nil
}

func runLayout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo := compose.NewRepository(cfg.ScenesDir(), nil)
	services, err := repo.SceneServices(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	nodes, edges := scene.Translate(args[0], services)
	scene.Place(nodes, edges, cfg.LayoutOptions())
	return printGraph(cmd.OutOrStdout(), graph.Snapshot{Nodes: nodes, Edges: edges}, outputFormat)
}

func printGraph(w io.Writer, snap graph.Snapshot, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		return yaml.NewEncoder(w).Encode(snap)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tOWNER\tX\tY")
	for _, n := range snap.Nodes {
		owner := n.OwnerScene
		if n.External {
			owner += " (external)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.0f\t%.0f\n", n.ID, owner, n.Position.X, n.Position.Y)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "DEPENDENCY\tCONDITION")
	for _, e := range snap.Edges {
		fmt.Fprintf(tw, "%s\t%s\n", e.ID, e.Condition.Short())
	}
	return tw.Flush()
}

func runJournal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pg, err := postgres.New(cfg.JournalWorkspace())
	if err != nil {
		return err
	}
	defer pg.Close()

	rows, err := pg.Query(journalLimit, journalSessID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLEVEL\tEVENT\tMESSAGE")
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		msg := ""
		if r.Message != nil {
			msg = *r.Message
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Timestamp.Format("2006-01-02 15:04:05"), r.Level, r.Event, msg)
	}
	return tw.Flush()
}

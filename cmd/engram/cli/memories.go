package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/engram-sh/engram/internal/extract"
	"github.com/engram-sh/engram/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5A56E0")).
			Padding(0, 1)

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F56"))
)

var (
	listType      string
	listTag       string
	listLimit     int
	searchLimit   int
	searchMinSim  float64
	addType       string
	addImportance float64
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored memories, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		adapters, cleanup, err := openProject()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		records, err := adapters.Engine.List(store.Filters{Type: listType, Tag: listTag}, listLimit)
		if err != nil {
			fatal(err)
		}

		fmt.Println(titleStyle.Render(fmt.Sprintf("Memories (%d)", len(records))))
		for _, rec := range records {
			printRecord(rec, -1)
		}
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find memories by semantic similarity",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		adapters, cleanup, err := openProject()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		query := strings.Join(args, " ")
		results, err := adapters.Engine.Retrieve(cmd.Context(), query, searchLimit, searchMinSim)
		if err != nil {
			fatal(err)
		}

		if len(results) == 0 {
			fmt.Println(dimStyle.Render("No matching memories."))
			return
		}
		fmt.Println(titleStyle.Render(fmt.Sprintf("Matches (%d)", len(results))))
		for _, r := range results {
			printRecord(r.Record, r.Similarity)
		}
	},
}

var addCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Store a memory manually",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		adapters, cleanup, err := openProject()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		content := strings.Join(args, " ")
		importance := addImportance
		if importance == 0 {
			importance = extract.Importance(addType)
		}

		stored, err := adapters.Engine.Capture(cmd.Context(), "", []extract.Candidate{{
			Type:       addType,
			Content:    content,
			Importance: importance,
			Tags:       []string{"manual"},
		}})
		if err != nil {
			fatal(err)
		}
		if stored == 0 {
			fmt.Println(dimStyle.Render("Not stored (too short or duplicate of a recent memory)."))
			return
		}
		fmt.Println("Stored.")
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one memory by id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		adapters, cleanup, err := openProject()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		deleted, err := adapters.Engine.Delete(cmd.Context(), args[0])
		if err != nil {
			fatal(err)
		}
		if !deleted {
			fmt.Println(errorStyle.Render("No memory with id " + args[0]))
			return
		}
		fmt.Println("Deleted.")
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every memory in this project",
	Run: func(cmd *cobra.Command, args []string) {
		adapters, cleanup, err := openProject()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		removed, err := adapters.Engine.Clear(cmd.Context())
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Removed %d memories.\n", removed)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-type memory counts for this project",
	Run: func(cmd *cobra.Command, args []string) {
		adapters, cleanup, err := openProject()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		stats, err := adapters.Engine.Stats()
		if err != nil {
			fatal(err)
		}

		fmt.Println(titleStyle.Render("Memory stats: " + stats.ProjectKey))
		fmt.Printf("Total: %d\n", stats.Total)
		for typ, ts := range stats.ByType {
			fmt.Printf("  %s %d (avg access %.1f)\n", typeStyle.Render(typ), ts.Count, ts.AvgAccess)
		}
	},
}

// printRecord renders one record; similarity < 0 hides the score column.
func printRecord(rec *store.Record, similarity float64) {
	preview := strings.ReplaceAll(rec.Content, "\n", " ")
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}

	head := fmt.Sprintf("%s %s", typeStyle.Render(rec.Type), dimStyle.Render(rec.ID))
	if similarity >= 0 {
		head += dimStyle.Render(fmt.Sprintf(" %.0f%%", similarity*100))
	}
	fmt.Println(head)
	fmt.Printf("  %s\n", preview)
	fmt.Printf("  %s\n", dimStyle.Render(fmt.Sprintf("created %s, accessed %d times", rec.CreatedAt.Format("2006-01-02 15:04"), rec.AccessCount)))
}

func init() {
	listCmd.Flags().StringVar(&listType, "type", "", "Filter by record type")
	listCmd.Flags().StringVar(&listTag, "tag", "", "Filter by tag")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum records to show")

	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "Maximum results")
	searchCmd.Flags().Float64Var(&searchMinSim, "min-similarity", 0, "Similarity threshold override")

	addCmd.Flags().StringVar(&addType, "type", store.TypeProjectContext, "Record type")
	addCmd.Flags().Float64Var(&addImportance, "importance", 0, "Importance override (0..1)")
}

package cmd

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/spotdl-api/pkg/events"
	"github.com/psantana5/spotdl-api/pkg/models"
)

var (
	followStatus bool
	pollInterval = 2 * time.Second
	fetchDest    string
	eventsSince  int64
)

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Get task status",
	Long:  `Retrieve the status of a task. If no ID is provided, lists all tasks.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"tasks"},
	Short:   "List all tasks",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listTasks(cmd.OutOrStdout())
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <task-id>",
	Short: "Download the result of a completed task",
	Long: `Download the result of a completed task. Directory results arrive as a
zip archive. The file is written to the current directory under the name
the server suggests unless -o is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a task and its files",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent task events",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(statusCmd, listCmd, fetchCmd, deleteCmd, eventsCmd)

	statusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll task status every 2 seconds until it finishes")
	fetchCmd.Flags().StringVarP(&fetchDest, "file", "o", "", "destination path")
	eventsCmd.Flags().Int64Var(&eventsSince, "since", 0, "only show events after this sequence number")
}

type taskList struct {
	Tasks []models.Job `json:"tasks"`
	Count int          `json:"count"`
}

func fetchJob(id string) (*models.Job, error) {
	var job models.Job
	if err := doJSON("GET", "/status/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listTasks(cmd.OutOrStdout())
	}
	if followStatus {
		return followJob(cmd, args[0])
	}

	job, err := fetchJob(args[0])
	if err != nil {
		return err
	}
	return displayJob(cmd.OutOrStdout(), job)
}

// followJob polls until the task is terminal. A failed task is an error.
func followJob(cmd *cobra.Command, id string) error {
	out := cmd.OutOrStdout()
	if !IsJSONOutput() {
		fmt.Fprintf(out, "Following task %s (press Ctrl+C to stop)...\n", id)
	}

	last := ""
	for {
		job, err := fetchJob(id)
		if err != nil {
			return err
		}
		state := fmt.Sprintf("%s/%d", job.Status, job.Progress)
		if state != last && !IsJSONOutput() {
			fmt.Fprintf(out, "  %s  %-12s %3d%%\n", time.Now().Format("15:04:05"), job.Status, job.Progress)
			last = state
		}

		if models.IsTerminalState(job.Status) {
			if err := displayJob(out, job); err != nil {
				return err
			}
			if job.Status == models.JobStatusFailed {
				return fmt.Errorf("task %s failed", id)
			}
			return nil
		}

		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(pollInterval):
		}
	}
}

func displayJob(out io.Writer, job *models.Job) error {
	if IsJSONOutput() {
		return printJSON(out, job)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	table.Append("Task ID", job.ID)
	table.Append("Kind", string(job.Kind))
	table.Append("Status", string(job.Status))
	table.Append("Progress", fmt.Sprintf("%d%%", job.Progress))
	if target := job.Request.Target(); target != "" {
		table.Append("Target", target)
	}
	table.Append("Created", humanize.Time(job.CreatedAt))
	if job.StartedAt != nil && job.CompletedAt != nil {
		table.Append("Duration", job.CompletedAt.Sub(*job.StartedAt).Round(time.Second).String())
	}
	if job.ResultLocation != "" {
		table.Append("Result", job.ResultLocation)
	}
	if job.Error != "" {
		table.Append("Error", job.Error)
	}
	table.Render()
	return nil
}

func listTasks(out io.Writer) error {
	var list taskList
	if err := doJSON("GET", "/tasks", nil, &list); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(out, list)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Task ID", "Kind", "Status", "Progress", "Target", "Created")
	for _, job := range list.Tasks {
		target := job.Request.Target()
		if target == "" && len(job.Request.Paths) > 0 {
			target = fmt.Sprintf("%d paths", len(job.Request.Paths))
		}
		table.Append(
			job.ID,
			string(job.Kind),
			string(job.Status),
			fmt.Sprintf("%d%%", job.Progress),
			truncate(target, 48),
			humanize.Time(job.CreatedAt),
		)
	}
	table.Render()
	fmt.Fprintf(out, "\nTotal tasks: %d\n", list.Count)
	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	resp, err := send("GET", "/download/"+args[0], nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dest := fetchDest
	if dest == "" {
		dest = args[0]
		if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
			dest = filepath.Base(params["filename"])
		}
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{"path": dest, "bytes": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", dest, humanize.Bytes(uint64(n)))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	var res map[string]interface{}
	if err := doJSON("DELETE", "/task/"+args[0], nil, &res); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s deleted\n", args[0])
	return nil
}

func runEvents(cmd *cobra.Command, _ []string) error {
	var res struct {
		Events  []events.Event `json:"events"`
		LastSeq int64          `json:"last_seq"`
	}
	if err := doJSON("GET", "/events?since="+strconv.FormatInt(eventsSince, 10), nil, &res); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if IsJSONOutput() {
		return printJSON(out, res)
	}
	table := tablewriter.NewWriter(out)
	table.Header("Seq", "Time", "Task ID", "Kind", "Status", "Error")
	for _, e := range res.Events {
		table.Append(
			strconv.FormatInt(e.Seq, 10),
			e.Timestamp.Format("15:04:05"),
			e.JobID,
			string(e.Kind),
			string(e.Status),
			truncate(e.Error, 60),
		)
	}
	table.Render()
	fmt.Fprintf(out, "\nLast sequence: %d\n", res.LastSeq)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

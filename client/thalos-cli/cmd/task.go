package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit and inspect tasks",
}

var submitCmd = &cobra.Command{
	Use:   "submit [intent]",
	Short: "Submit a new intent",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, _ := cmd.Flags().GetStringToString("meta")
		watch, _ := cmd.Flags().GetBool("watch")
		return runSubmit(cmd.OutOrStdout(), serverAddr, strings.Join(args, " "), meta, watch)
	},
}

var getCmd = &cobra.Command{
	Use:   "get [task-id]",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGet(cmd.OutOrStdout(), serverAddr, args[0])
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		return runList(cmd.OutOrStdout(), serverAddr, status, limit)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [task-id]",
	Short: "Stream real-time events of a task until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.OutOrStdout(), serverAddr, args[0])
	},
}

func init() {
	submitCmd.Flags().StringToString("meta", nil, "metadata as key=value pairs")
	submitCmd.Flags().BoolP("watch", "w", false, "watch the task after submitting it")
	listCmd.Flags().String("status", "", "only show tasks with this status (pending, running, completed, failed)")
	listCmd.Flags().Int("limit", 0, "maximum number of tasks to show")

	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(submitCmd, getCmd, listCmd, watchCmd)
}

func runSubmit(out io.Writer, server, intent string, meta map[string]string, watch bool) error {
	client, err := newAPIClient(server)
	if err != nil {
		return err
	}

	// Subscribe first so no event is missed between submit and watch.
	var conn *websocket.Conn
	if watch {
		if conn, err = client.Subscribe(""); err != nil {
			return err
		}
		defer conn.Close()
	}

	submitted, err := client.Submit(intent, meta)
	if err != nil {
		return fmt.Errorf("error submitting task: %w", err)
	}
	fmt.Fprintf(out, "Task submitted successfully!\nTask ID: %s\n", submitted.ID)
	if conn == nil {
		fmt.Fprintf(out, "To watch for results, run: thalos-cli task watch %s\n", submitted.ID)
		return nil
	}
	return streamEvents(out, conn, submitted.ID)
}

func runGet(out io.Writer, server, id string) error {
	client, err := newAPIClient(server)
	if err != nil {
		return err
	}
	t, err := client.Get(id)
	if err != nil {
		return err
	}
	return printJSON(out, t)
}

func runList(out io.Writer, server, status string, limit int) error {
	client, err := newAPIClient(server)
	if err != nil {
		return err
	}
	if status != "" {
		if !validStatus(status) {
			return fmt.Errorf("unknown status %q", status)
		}
	}
	tasks, err := client.List(status, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tINTENT")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Status, t.CreatedAt.Format("2006-01-02 15:04:05"), truncate(t.Intent, 48))
	}
	return w.Flush()
}

func runWatch(out io.Writer, server, id string) error {
	client, err := newAPIClient(server)
	if err != nil {
		return err
	}
	conn, err := client.Subscribe(id)
	if err != nil {
		return err
	}
	defer conn.Close()

	// The task may have finished before we subscribed.
	current, err := client.Get(id)
	if err != nil {
		return err
	}
	if isTerminal(current.Status) {
		return printJSON(out, current)
	}
	fmt.Fprintln(out, "WebSocket connected. Waiting for results...")
	return streamEvents(out, conn, id)
}

// streamEvents prints events for taskID until it reaches a terminal status.
func streamEvents(out io.Writer, conn *websocket.Conn, taskID string) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var event taskEvent
		if err := json.Unmarshal(message, &event); err != nil {
			return fmt.Errorf("error decoding event: %w", err)
		}
		if event.TaskID != taskID {
			continue
		}
		fmt.Fprintf(out, "[%s] %s %s\n", event.Timestamp.Format("15:04:05.000"), event.Status, event.Message)
		if isTerminal(event.Status) && event.Task != nil {
			return printJSON(out, *event.Task)
		}
	}
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

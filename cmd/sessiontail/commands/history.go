package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessiontail/sessiontail/internal/session"
	"github.com/sessiontail/sessiontail/pkg/types"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history <sessionID>",
	Short: "Print the assembled message history of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Only the most recent N messages")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Emit JSON instead of text")
}

func runHistory(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	workDir, err := GetWorkDir()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(workDir)
	if err != nil {
		return err
	}

	svc := session.NewService(cfg)
	defer svc.Close()

	if !svc.SessionExists(sessionID, workDir) {
		return fmt.Errorf("session %s not found in %s", sessionID, workDir)
	}

	messages, err := svc.LoadHistory(cmd.Context(), sessionID, workDir, historyLimit)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(messages)
	}

	for _, msg := range messages {
		printMessage(msg)
	}
	return nil
}

func printMessage(msg *types.AssembledMessage) {
	ts := time.UnixMilli(msg.Time.Created).Format("15:04:05")
	header := fmt.Sprintf("[%s] %s", ts, msg.Role)
	if msg.Status != types.MessageComplete {
		header += fmt.Sprintf(" (%s)", msg.Status)
	}
	fmt.Println(header)

	for _, el := range msg.Timeline {
		switch el.Kind {
		case types.TimelineText:
			fmt.Printf("  %s\n", el.Text)
		case types.TimelineTool:
			tc := msg.ToolCalls[el.ToolID]
			if tc == nil {
				continue
			}
			fmt.Printf("  [tool %s: %s]\n", tc.Name, tc.Status)
		}
	}
	if len(msg.Timeline) == 0 && msg.Content != "" {
		fmt.Printf("  %s\n", msg.Content)
	}
	fmt.Println()
}

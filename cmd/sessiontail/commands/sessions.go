package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sessiontail/sessiontail/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions for a project",
	RunE:  runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
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

	sessions, err := svc.ListSessions(cmd.Context(), workDir)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMESSAGES\tLAST ACTIVITY\tSUMMARY")
	for _, info := range sessions {
		last := ""
		if !info.LastAt.IsZero() {
			last = info.LastAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", info.ID, info.MessageCount, last, info.Summary)
	}
	return w.Flush()
}

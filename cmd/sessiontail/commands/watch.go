package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sessiontail/sessiontail/internal/session"
	"github.com/sessiontail/sessiontail/pkg/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch <sessionID>",
	Short: "Follow a session live as its log grows",
	Long: `Subscribe to a session and print each message update as it is
assembled from the log. Streaming assistant turns are printed once per
update; press Ctrl-C to stop.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	updates, cancel, err := svc.Subscribe(cmd.Context(), sessionID, workDir)
	if err != nil {
		return err
	}
	defer cancel()

	fmt.Printf("Watching session %s (Ctrl-C to stop)\n\n", sessionID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-quit:
			return nil
		case msg, ok := <-updates:
			if !ok {
				fmt.Println("Session stream ended.")
				return nil
			}
			printUpdate(msg)
		}
	}
}

func printUpdate(msg *types.AssembledMessage) {
	switch msg.Status {
	case types.MessageStreaming:
		fmt.Printf("%s (streaming): %s\n", msg.Role, msg.Content)
	case types.MessageFailed:
		fmt.Printf("%s FAILED: %s\n", msg.Role, msg.Content)
	default:
		printMessage(msg)
	}
}

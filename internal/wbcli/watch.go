package wbcli

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <root>",
		Short: "Start the watcher for a project root and print its events as JSONL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := mustOptions(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := newHost(opts)
			if err != nil {
				return err
			}
			defer h.Close()
			id, err := h.registerRoot(args[0])
			if err != nil {
				return err
			}

			events, cancel := h.orch.Subscribe(0)
			defer cancel()
			if _, err := h.orch.Send(ctx, id, "watcher:start", nil); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					if err := enc.Encode(ev); err != nil {
						return err
					}
				}
			}
		},
	}
}

package wbcli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"workbench/internal/backend"
)

func newCallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "call <root> <type> [fields-json]",
		Short: "Send one request to the backend of a project root",
		Example: `  wb call . fs:readFile '{"path":"go.mod"}'
  wb call ~/src/app fs:gitStatus`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := mustOptions(cmd)
			if err != nil {
				return err
			}
			fields := map[string]any{}
			if len(args) == 3 && strings.TrimSpace(args[2]) != "" {
				if err := json.Unmarshal([]byte(args[2]), &fields); err != nil {
					return fmt.Errorf("fields must be a JSON object: %w", err)
				}
			}

			h, err := newHost(opts)
			if err != nil {
				return err
			}
			defer h.Close()
			id, err := h.registerRoot(args[0])
			if err != nil {
				return err
			}

			res, err := h.orch.Send(cmd.Context(), id, args[1], fields)
			if err != nil {
				return err
			}
			var out bytes.Buffer
			if err := json.Indent(&out, res, "", "  "); err != nil {
				out.Reset()
				out.Write(res)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.String())
			return nil
		},
	}
}

func newKindsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the request types a backend accepts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range backend.Kinds() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/donorline/donorline-go/internal/params"
	"github.com/donorline/donorline-go/internal/platform/auditlog"
	"github.com/donorline/donorline-go/internal/service/gateway"
)

func newCallCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "call ENTITY ACTION [JSON|-]",
		Short: "Run one entity action against the database and print the envelope",
		Example: `  donorline call Contribution get '{"contact_id": 7, "options": {"limit": 5}}'
  echo '{"id": 12}' | donorline call Contribution completetransaction -`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, ok := gateway.Lookup(args[0], args[1])
			if !ok {
				return fmt.Errorf("API (%s, %s) does not exist", args[0], args[1])
			}
			raw := params.Bag{}
			if len(args) == 3 {
				var err error
				if raw, err = readParams(args[2], cmd.InOrStdin()); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			logger := newLogger()
			a, err := openApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx = auditlog.WithMeta(ctx, auditlog.Meta{Actor: actor})
			res := a.gateway.Execute(ctx, action, raw)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.IsError {
				return exitError{code: 3, err: fmt.Errorf("%s.%s failed: %s", action.Entity(), action.Name(), res.ErrorMessage)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", defaultActor(), "actor recorded in the audit log")
	return cmd
}

func readParams(arg string, stdin io.Reader) (params.Bag, error) {
	var src io.Reader = strings.NewReader(arg)
	if arg == "-" {
		src = stdin
	}
	dec := json.NewDecoder(src)
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("parameters must be a JSON object: %w", err)
	}
	if obj == nil {
		return params.Bag{}, nil
	}
	return params.Bag(obj), nil
}

func defaultActor() string {
	if u := strings.TrimSpace(os.Getenv("USER")); u != "" {
		return "cli:" + u
	}
	return "cli"
}

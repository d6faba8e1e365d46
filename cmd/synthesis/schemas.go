package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

func newSchemasCommand() *cobra.Command {
	var withJSONSchema bool
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "Print the registered item schemas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			type view struct {
				content.Schema
				JSONSchema map[string]any `json:"json_schema,omitempty"`
			}
			list := content.DefaultRegistry().List()
			out := make([]view, 0, len(list))
			for _, s := range list {
				v := view{Schema: s}
				if withJSONSchema {
					v.JSONSchema = s.JSONSchema()
				}
				out = append(out, v)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&withJSONSchema, "json-schema", false, "Include the JSON schema sent to constrained backends")
	return cmd
}

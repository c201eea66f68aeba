package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/stopprobe/internal/anthropic"
)

func newTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Print the request body every trial sends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig()
			if err != nil {
				return err
			}
			body, err := anthropic.BuildRequestBody(cfg.RequestTemplate())
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, body, "", "  "); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "POST %s/v1/messages (%d trials)\n%s\n",
				baseURLOrDefault(cfg.API.BaseURL), cfg.Trials, buf.String())
			return nil
		},
	}
}

func baseURLOrDefault(u string) string {
	if u == "" {
		return anthropic.DefaultBaseURL
	}
	return strings.TrimSuffix(u, "/")
}

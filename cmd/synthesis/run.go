package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
	"github.com/yungbote/neurobridge-synthesis/internal/platform/shutdown"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/app"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/config"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/engine"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/sdk"
)

type requestFile struct {
	Requests []sdk.SynthesizeRequest `yaml:"requests"`
}

func newRunCommand() *cobra.Command {
	var (
		file   string
		remote string
		output string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of synthesis requests from a YAML or JSON file",
		Example: `  synthesis run -f requests.yaml
  synthesis run -f requests.yaml --remote http://localhost:8080 -o results.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reqs, err := readRequests(file)
			if err != nil {
				return err
			}
			ctx, stop := shutdown.NotifyContext(context.Background(), signalLogger())
			defer stop()

			var results []sdk.BatchItem
			if strings.TrimSpace(remote) != "" {
				results, err = runRemote(ctx, remote, reqs)
			} else {
				results, err = runLocal(ctx, reqs)
			}
			if err != nil {
				return err
			}
			return writeResults(output, results)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Request file (YAML or JSON); - reads stdin")
	cmd.Flags().StringVar(&remote, "remote", "", "Send requests to a running server instead of synthesizing in-process")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write results JSON to this file instead of stdout")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readRequests accepts either {requests: [...]} or a bare list. YAML is a superset of JSON, so one
// decoder covers both formats.
func readRequests(path string) ([]sdk.SynthesizeRequest, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var wrapped requestFile
	if err := yaml.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Requests) > 0 {
		return wrapped.Requests, nil
	}
	var list []sdk.SynthesizeRequest
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(list) == 0 {
		return nil, errors.New("request file contains no requests")
	}
	return list, nil
}

func runRemote(ctx context.Context, baseURL string, reqs []sdk.SynthesizeRequest) ([]sdk.BatchItem, error) {
	opts := sdk.OptionsFromEnv()
	opts.BaseURL = baseURL
	c, err := sdk.New(opts)
	if err != nil {
		return nil, err
	}
	return c.SynthesizeBatch(ctx, reqs)
}

func runLocal(ctx context.Context, reqs []sdk.SynthesizeRequest) ([]sdk.BatchItem, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	in := make([]engine.Request, len(reqs))
	for i, r := range reqs {
		in[i] = engine.Request{Spec: r.Spec(), Context: r.Context()}
	}
	results := a.Engine.SynthesizeBatch(ctx, in)

	out := make([]sdk.BatchItem, len(results))
	for i, r := range results {
		out[i] = sdk.BatchItem{Index: r.Index, Result: r.Result}
		if r.Err != nil {
			out[i].Error = &sdk.ErrorBody{Message: r.Err.Error(), Code: errorCode(r.Err)}
		}
	}
	return out, nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, content.ErrInvalidSpec):
		return "invalid_request"
	case errors.Is(err, engine.ErrClientUnavailable):
		return "client_unavailable"
	default:
		return "error"
	}
}

func writeResults(path string, results []sdk.BatchItem) error {
	w := io.Writer(os.Stdout)
	if strings.TrimSpace(path) != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"results": results})
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lingetic/genmemo/batch"
	"github.com/lingetic/genmemo/cache"
	"github.com/lingetic/genmemo/genai"
	"github.com/lingetic/genmemo/observe"
)

// job is one input record. The fingerprint covers Namespace and Text only,
// so rewording a prompt does not invalidate stored results.
type job struct {
	Namespace string          `json:"namespace"`
	Text      string          `json:"text"`
	Prompt    string          `json:"prompt"`
	Schema    json.RawMessage `json:"schema,omitempty"`
}

type jobResult struct {
	Key       string          `json:"key"`
	Namespace string          `json:"namespace"`
	Text      string          `json:"text"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func newGenerateCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "generate <input.json|->",
		Short: "Generate results for every input record, reusing cached ones",
		Long: `Reads a JSON array of {"namespace", "text", "prompt", "schema"} records.
Each record is keyed by a fingerprint of its namespace and text; records
already in the cache are answered from it, the rest are generated and stored.
Interrupted runs resume where they stopped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := readJobs(cmd, args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			m, err := a.openMemo(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			gen, err := a.newGenerator(ctx, a.cfg.GenAIConfig(a.logger))
			if err != nil {
				return err
			}

			report := batch.Run(ctx, jobs, a.cfg.BatchOptions(a.logger), func(ctx context.Context, _ int, j job) (json.RawMessage, error) {
				return m.GetOrCompute(ctx, cache.Fingerprint(j.Namespace, j.Text), func(ctx context.Context) (json.RawMessage, error) {
					resp, err := gen.Generate(ctx, genai.Request{Prompt: j.prompt(), Schema: j.Schema})
					if err != nil {
						return nil, err
					}
					return resp.Value, nil
				})
			})

			results := make([]jobResult, len(jobs))
			for i, r := range report.Results {
				j := jobs[i]
				results[i] = jobResult{
					Key:       cache.Fingerprint(j.Namespace, j.Text),
					Namespace: j.Namespace,
					Text:      j.Text,
					Result:    r.Value,
				}
				if r.Err != nil {
					results[i].Error = r.Err.Error()
				}
			}
			if err := writeResults(cmd, out, results); err != nil {
				return err
			}

			st := m.Stats()
			a.logger.Info(ctx, report.String(),
				observe.F("hits", st.Hits),
				observe.F("computes", st.Computes),
				observe.F("failures", st.Failures),
			)
			return report.Err()
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "-", "write results to this file (- for stdout)")
	return cmd
}

func (j job) prompt() string {
	if j.Prompt != "" {
		return j.Prompt
	}
	return j.Text
}

func readJobs(cmd *cobra.Command, path string) ([]job, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var jobs []job
	if err := json.NewDecoder(r).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	for i, j := range jobs {
		if j.Namespace == "" || j.Text == "" {
			return nil, fmt.Errorf("read input: record %d: namespace and text are required", i)
		}
	}
	return jobs, nil
}

func writeResults(cmd *cobra.Command, path string, results []jobResult) error {
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(b)
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

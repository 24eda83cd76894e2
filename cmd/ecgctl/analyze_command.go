package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/drguilhermecapel/medai-sub005/pkg/classifier"
	"github.com/drguilhermecapel/medai-sub005/pkg/pipeline"
	"github.com/drguilhermecapel/medai-sub005/pkg/waveform"
)

func newAnalyzeCommand() *cobra.Command {
	var (
		format     string
		sampleRate float64
		leadNames  []string
		rulesPath  string
		analysisID string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "analyze <signal-file>",
		Short: "Run the interpretation pipeline on a recorded signal",
		Long: `Analyze decodes a signal file, runs the full interpretation pipeline and
prints the resulting analysis record as JSON.

Examples:
  ecgctl analyze recording.csv
  ecgctl analyze strip.dat --format txt --sample-rate 250
  ecgctl analyze export.medai -o record.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signal, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read signal: %w", err)
			}

			rules, err := classifier.Load(rulesPath)
			if err != nil {
				return fmt.Errorf("load rules: %w", err)
			}
			analyzer, err := pipeline.New(pipeline.Options{Rules: rules})
			if err != nil {
				return fmt.Errorf("build analyzer: %w", err)
			}

			record, err := analyzer.Analyze(cmd.Context(), pipeline.Request{
				AnalysisID: analysisID,
				Signal:     signal,
				Hint: waveform.Hint{
					Format:     format,
					SampleRate: sampleRate,
					LeadNames:  leadNames,
				},
			})
			if err != nil {
				return fmt.Errorf("analyze %s: %w", args[0], err)
			}

			out, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
			out = append(out, '\n')

			if outputPath == "" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			if err := os.WriteFile(outputPath, out, 0o644); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Signal format (csv, txt, xml, medai); sniffed when omitted")
	cmd.Flags().Float64Var(&sampleRate, "sample-rate", 0, "Sampling rate in Hz; overrides embedded metadata")
	cmd.Flags().StringSliceVar(&leadNames, "lead-names", nil, "Lead names, one per channel")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "Rule configuration file; built-in rules when omitted")
	cmd.Flags().StringVar(&analysisID, "analysis-id", "", "Analysis identifier; generated when omitted")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the record to this file instead of stdout")

	return cmd
}

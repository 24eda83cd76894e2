package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/drguilhermecapel/medai-sub005/pkg/classifier"
)

func newRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate classification rule tables",
	}
	cmd.AddCommand(newRulesValidateCommand())
	cmd.AddCommand(newRulesExportCommand())
	return cmd
}

func newRulesValidateCommand() *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a rule configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := classifier.Load(rulesPath)
			if err != nil {
				return err
			}
			if _, err := classifier.NewEngine(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rules OK: %d category rules, %d diagnosis rules, %d catalog concepts\n",
				len(cfg.Level2), len(cfg.Level3), len(cfg.Catalog.Concepts))
			return nil
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "Rule configuration file; built-in rules when omitted")
	return cmd
}

func newRulesExportCommand() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the built-in rule configuration as yaml",
		Long: `Export prints the built-in rule tables in the format accepted by
ANALYSIS_RULES_PATH and the --rules flag, as a starting point for a
site-specific configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(classifier.DefaultRuleConfig())
			if err != nil {
				return fmt.Errorf("encode rules: %w", err)
			}
			if outputPath == "" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			if err := os.WriteFile(outputPath, out, 0o644); err != nil {
				return fmt.Errorf("write rules: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

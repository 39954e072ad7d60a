package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/commission"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/spf13/cobra"
)

var (
	validateValue  float64
	validatePeriod int
)

var validateCmd = &cobra.Command{
	Use:   "validate-rule [file]",
	Short: "Validate a commission rule (JSON, from a file or stdin) and optionally price a sample conversion",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrapf(err, "open %s", args[0])
			}
			defer f.Close()
			in = f
		}
		return runValidateRule(in, cmd.OutOrStdout(), cmd.Flags().Changed("value"))
	},
}

func runValidateRule(in io.Reader, out io.Writer, price bool) error {
	var rule model.CommissionRule
	if err := json.NewDecoder(in).Decode(&rule); err != nil {
		return eris.Wrap(err, "decode commission rule")
	}
	if err := commission.ValidateRule(rule); err != nil {
		return err
	}
	fmt.Fprintf(out, "rule is valid (%s)\n", rule.Type)

	if price {
		amount, err := commission.Calculate(validateValue, rule, validatePeriod)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "commission on %.2f: %.2f\n", validateValue, amount)
	}
	return nil
}

func init() {
	validateCmd.Flags().Float64Var(&validateValue, "value", 0, "sample conversion value to price")
	validateCmd.Flags().IntVar(&validatePeriod, "period", 0, "subscription period for recurring rules (0 = one-off)")
	rootCmd.AddCommand(validateCmd)
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"paychain/internal/billing/scrub"
	"paychain/internal/gateways"
	"paychain/internal/gateways/digitalriver"
	"paychain/internal/gateways/forte"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newScrubCmd(global *globalOptions) *cobra.Command {
	var (
		rulesFile string
		literals  []string
		gateway   string
	)
	cmd := &cobra.Command{
		Use:   "scrub [file]",
		Short: "Redact sensitive values from a transcript",
		Long: `Read a transcript from file, or stdin when no file is given, and print it
with card data, credentials and any extra literals replaced by [FILTERED].

Without --gateway the built-in cardholder rules apply.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := global.logger()
			defer func() { _ = logger.Sync() }()

			in := cmd.InOrStdin()
			source := "stdin"
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
				source = args[0]
			}
			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read %s: %w", source, err)
			}

			base, err := gatewayScrubber(gateway)
			if err != nil {
				return err
			}
			var extra scrub.RuleSet
			if rulesFile != "" {
				if extra, err = scrub.LoadRulesFile(rulesFile); err != nil {
					return err
				}
			}
			for _, lit := range literals {
				extra = extra.Append(scrub.Literal(lit, scrub.Filtered))
			}

			out := extra.Scrub(base(string(raw)))
			logger.Debug("scrubbed transcript",
				zap.String("source", source),
				zap.String("gateway", gateway),
				zap.Int("extra_rules", len(extra)),
				zap.Int("bytes", len(raw)),
			)
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&rulesFile, "rules", "", "YAML rule file applied after the base rules")
	cmd.Flags().StringSliceVar(&literals, "literal", nil, "exact value to redact (repeatable)")
	cmd.Flags().StringVar(&gateway, "gateway", "", "use a gateway's scrubber ("+strings.Join(gatewayNames(), ", ")+")")
	return cmd
}

func gatewayNames() []string {
	return []string{digitalriver.Name, forte.Name}
}

func gatewayScrubber(name string) (func(string) string, error) {
	var gw gateways.Gateway
	switch name {
	case "":
		return scrub.CardholderRules().Scrub, nil
	case digitalriver.Name:
		gw = digitalriver.New(nil, nil)
	case forte.Name:
		gw = forte.New(nil, "", nil)
	default:
		return nil, fmt.Errorf("unknown gateway %q (want one of %s)", name, strings.Join(gatewayNames(), ", "))
	}
	return gw.Scrub, nil
}

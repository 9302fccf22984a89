package main

import (
	"fmt"
	"strings"

	"paychain/internal/billing/ident"

	"github.com/spf13/cobra"
)

func newIdentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ident",
		Short: "Encode and decode composite gateway identifiers",
	}
	cmd.AddCommand(newIdentEncodeCmd(), newIdentDecodeCmd())
	return cmd
}

func newIdentEncodeCmd() *cobra.Command {
	var (
		sep    string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "encode part...",
		Short: "Join identifier parts into one token",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec := ident.Codec{Separator: sep}
			token := codec.Encode(args...)
			if strict {
				var err error
				if token, err = codec.EncodeStrict(args...); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&sep, "sep", ident.Pipe.Separator, "separator between parts")
	cmd.Flags().BoolVar(&strict, "strict", false, "reject empty parts and parts containing the separator")
	return cmd
}

func newIdentDecodeCmd() *cobra.Command {
	var (
		sep string
		n   int
	)
	cmd := &cobra.Command{
		Use:   "decode token",
		Short: "Split a token into its parts, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec := ident.Codec{Separator: sep}
			parts := codec.Decode(args[0])
			if n > 0 {
				parts = codec.DecodeN(args[0], n)
			}
			if len(parts) == 0 {
				return nil
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, "\n"))
			return err
		},
	}
	cmd.Flags().StringVar(&sep, "sep", ident.Pipe.Separator, "separator between parts")
	cmd.Flags().IntVar(&n, "n", 0, "split into at most n parts, keeping the remainder in the last")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/denoiseopt/internal/imageio"
	"github.com/cwbudde/denoiseopt/internal/ops"
)

var (
	degradeIn     string
	degradeOut    string
	degradeNoise  string
	degradeSigma  float64
	degradeAmount float64
	degradeSeed   int64
)

var degradeCmd = &cobra.Command{
	Use:   "degrade",
	Short: "Add synthetic noise to an image",
	Long: `Writes a noisy copy of --in, for producing optimizer inputs whose clean
reference is known. gaussian adds N(0, sigma) per channel, saltpepper
replaces a fraction --amount of pixels with black or white.`,
	RunE: runDegrade,
}

func init() {
	degradeCmd.Flags().StringVar(&degradeIn, "in", "", "Clean input image (required)")
	degradeCmd.Flags().StringVar(&degradeOut, "out", "noisy.png", "Output image path")
	degradeCmd.Flags().StringVar(&degradeNoise, "noise", "gaussian", "Noise model: gaussian, saltpepper")
	degradeCmd.Flags().Float64Var(&degradeSigma, "sigma", 15, "Gaussian noise standard deviation")
	degradeCmd.Flags().Float64Var(&degradeAmount, "amount", 0.05, "Salt and pepper pixel fraction")
	degradeCmd.Flags().Int64Var(&degradeSeed, "seed", 1, "Random seed")

	_ = degradeCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(degradeCmd)
}

func runDegrade(cmd *cobra.Command, args []string) error {
	img, err := imageio.Load(degradeIn)
	if err != nil {
		return err
	}

	switch degradeNoise {
	case "gaussian":
		img = ops.AddGaussianNoise(img, degradeSigma, degradeSeed)
	case "saltpepper":
		if degradeAmount < 0 || degradeAmount > 1 {
			return fmt.Errorf("--amount must be within [0, 1], got %g", degradeAmount)
		}
		img = ops.AddSaltPepper(img, degradeAmount, degradeSeed)
	default:
		return fmt.Errorf("unknown noise model: %s", degradeNoise)
	}

	if err := imageio.Save(degradeOut, img); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s noise)\n", degradeOut, degradeNoise)
	return nil
}

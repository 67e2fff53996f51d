package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"runcard/pkg/ocr"
)

var debugRegionsCmd = &cobra.Command{
	Use:   "debug-regions <image>",
	Short: "Write the cropped and binarized regions the recognizer sees",
	Long: `Crops every layout variant of the screenshot (distance, the three stat
cells and the stats block) and writes each crop raw, fixed-threshold
binarized and Otsu binarized, for tuning ocr.binarize_threshold.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kindFlag, _ := cmd.Flags().GetString("kind")
		out, _ := cmd.Flags().GetString("out")
		kind, err := ocr.ParseRecordKind(kindFlag)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		img, err := ocr.Decode(data)
		if err != nil {
			return err
		}
		files, err := dumpRegions(img, kind, globalConfig.OCR.Tuning(), out)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

// dumpRegions writes one PNG per region and treatment into dir and returns
// the paths written.
func dumpRegions(img image.Image, kind ocr.RecordKind, t ocr.Tuning, dir string) ([]string, error) {
	b := img.Bounds()
	sets, err := ocr.PlanRegions(b.Dx(), b.Dy(), kind)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	save := func(name string, im image.Image) error {
		p := filepath.Join(dir, name+".png")
		if err := imaging.Save(im, p); err != nil {
			return err
		}
		written = append(written, p)
		return nil
	}
	for _, rs := range sets {
		regions := map[string]ocr.ROI{"distance": rs.Distance, "stats": rs.Stats}
		for i, c := range rs.Cells {
			regions[fmt.Sprintf("cell%d-%s", i, rs.Roles[i])] = c
		}
		for label, roi := range regions {
			crop, err := ocr.Crop(img, roi)
			if err != nil {
				return written, fmt.Errorf("%s/%s: %w", rs.Name, label, err)
			}
			base := strings.Join([]string{rs.Name, label}, "_")
			if err := save(base+"_raw", crop); err != nil {
				return written, err
			}
			gray := ocr.NormalizePolarity(ocr.Grayscale(crop))
			if err := save(base+"_fixed", ocr.BinarizeFixed(gray, t.BinarizeThreshold)); err != nil {
				return written, err
			}
			if err := save(base+"_otsu", ocr.BinarizeOtsu(gray, 0)); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func init() {
	rootCmd.AddCommand(debugRegionsCmd)
	debugRegionsCmd.Flags().String("kind", "daily", "record kind (daily, monthly)")
	debugRegionsCmd.Flags().StringP("out", "o", "regions", "output directory")
}

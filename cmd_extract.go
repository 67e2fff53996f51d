package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"runcard/pkg/ocr"
)

var extractCmd = &cobra.Command{
	Use:   "extract <image>...",
	Short: "Extract run statistics from screenshots",
	Long: `Reads each screenshot and prints one record per image.

Fields that cannot be read are null. Images that cannot be decoded are
reported and the command exits non-zero after processing the rest.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kindFlag, _ := cmd.Flags().GetString("kind")
		format, _ := cmd.Flags().GetString("format")
		kind, err := ocr.ParseRecordKind(kindFlag)
		if err != nil {
			return err
		}
		if format != "json" && format != "text" {
			return fmt.Errorf("unsupported format %q (json, text)", format)
		}

		log := slog.Default()
		p, rec := newPipeline(globalConfig, log)
		defer rec.Close()

		failed := 0
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				failed++
				continue
			}
			r, err := metricsExtractor{ex: p}.ExtractAll(cmd.Context(), data, kind)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				failed++
				continue
			}
			if err := writeRecord(cmd.OutOrStdout(), format, filepath.Base(path), r); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d image(s) failed", failed, len(args))
		}
		return nil
	},
}

func writeRecord(w io.Writer, format, name string, r *ocr.Record) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(struct {
			File   string      `json:"file"`
			Record *ocr.Record `json:"record"`
		}{name, r})
	}
	_, err := fmt.Fprintf(w, "%s: km=%.2f runs=%s pace=%s time=%s\n", name, r.KM, intOrDash(r.Runs), paceText(r), strOrDash(r.TimeRaw))
	return err
}

func paceText(r *ocr.Record) string {
	sec, ok := r.PaceSeconds()
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%d'%02d\"", sec/60, sec%60)
}

func intOrDash(p *int) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprint(*p)
}

func strOrDash(p *string) string {
	if p == nil {
		return "-"
	}
	return *p
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().String("kind", "daily", "record kind (daily, monthly)")
	extractCmd.Flags().StringP("format", "f", "json", "output format (json, text)")
}

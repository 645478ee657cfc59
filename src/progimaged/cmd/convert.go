package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/progimage/progimage/src/pkg/convert"
	"github.com/progimage/progimage/src/pkg/format"
	"github.com/spf13/cobra"
)

func convertFile(ctx context.Context, engine *convert.Engine, input, output, target string) error {
	data, readErr := os.ReadFile(input)
	if readErr != nil {
		return readErr
	}

	src := format.Detect(data)
	out, convertErr := engine.Convert(ctx, data, src, format.Normalize(target))
	if convertErr != nil {
		return fmt.Errorf("failed to convert %s (%s): %w", input, src, convertErr)
	}

	// O_EXCL keeps an existing file from being replaced, as the service does.
	file, createErr := os.OpenFile(output, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if createErr != nil {
		return createErr
	}
	if _, writeErr := file.Write(out); writeErr != nil {
		_ = file.Close()
		return writeErr
	}
	slog.Debug("Converted file", "input", input, "from", src, "output", output, "to", target, "bytes", len(out))
	return file.Close()
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Converts a local image file without storing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")
		target, _ := cmd.Flags().GetString("format")
		quality, _ := cmd.Flags().GetInt("quality")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		engine := convert.NewEngine(convert.NewCodec(convert.WithJPEGQuality(quality), convert.WithWebPQuality(quality)), 1)

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		return convertFile(ctx, engine, input, output, target)
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringP("input", "i", "", "Image to convert")
	convertCmd.Flags().StringP("output", "o", "", "Where to write the converted image")
	convertCmd.Flags().StringP("format", "f", "", "Target format (jpg, png, gif, bmp, tif, webp)")
	convertCmd.Flags().Int("quality", 90, "JPEG and WebP quality")
	convertCmd.Flags().Duration("timeout", time.Minute, "Give up waiting after this long")
	for _, name := range []string{"input", "output", "format"} {
		if err := convertCmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Errorf("failed to mark flag `%s` as required: %w", name, err))
		}
	}
}

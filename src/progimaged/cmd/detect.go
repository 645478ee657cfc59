package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/progimage/progimage/src/pkg/format"
	"github.com/spf13/cobra"
)

// sniffFile reads only as much of path as format.Detect looks at.
func sniffFile(path string) (tag format.Tag, retErr error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return format.Unknown, openErr
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			retErr = errors.Join(retErr, closeErr)
		}
	}()

	header := make([]byte, 16)
	n, readErr := io.ReadFull(file, header)
	if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) && !errors.Is(readErr, io.EOF) {
		return format.Unknown, readErr
	}
	return format.Detect(header[:n]), nil
}

var detectCmd = &cobra.Command{
	Use:   "detect FILE...",
	Short: "Prints the image format of each file, judged by content",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var errs []error
		for _, path := range args {
			tag, err := sniffFile(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", path, tag)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

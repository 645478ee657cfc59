package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/progimage/progimage/src/progimaged/cmd/utils"
	"github.com/spf13/cobra"
)

// writeOpenAPI renders the merged document to w, or to path when it is set.
func writeOpenAPI(w io.Writer, path string) error {
	doc, docErr := utils.GenerateOpenAPISpecs()
	if docErr != nil {
		return fmt.Errorf("failed to generate OpenAPI specs: %w", docErr)
	}

	if path == "" {
		_, writeErr := io.WriteString(w, doc)
		return writeErr
	}
	return os.WriteFile(path, []byte(doc), 0644)
}

var openapiCmd = &cobra.Command{
	Use:    "openapi",
	Short:  "Produces the OpenAPI document of the image service",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		return writeOpenAPI(cmd.OutOrStdout(), output)
	},
}

func init() {
	rootCmd.AddCommand(openapiCmd)

	openapiCmd.Flags().StringP("output", "o", "", "Write the document to this file instead of stdout")
}

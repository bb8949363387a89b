package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docchat/internal/corpus"
	"docchat/internal/model"
)

var mergeOutput string

var mergeCmd = &cobra.Command{
	Use:   "merge [pdfs...]",
	Short: "Concatenate PDF files into one document",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMerge,
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "merged.pdf", "output file")
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) (err error) {
	docs, err := readDocuments(args)
	if err != nil {
		return err
	}
	pdfs := make([][]byte, 0, len(docs))
	for _, d := range docs {
		if d.ContentType != model.ContentTypePDF {
			return fmt.Errorf("%s is not a pdf", d.Name)
		}
		pdfs = append(pdfs, d.Data)
	}

	out, err := os.Create(mergeOutput)
	if err != nil {
		return fmt.Errorf("create %s failed: %w", mergeOutput, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(mergeOutput)
		}
	}()

	if err := corpus.MergePDF(out, pdfs); err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}
	cmd.Printf("Wrote %d documents to %s\n", len(pdfs), mergeOutput)
	return nil
}

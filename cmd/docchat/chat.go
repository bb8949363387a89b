package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"docchat/internal/bootstrap"
	"docchat/internal/errs"
	"docchat/internal/model"
)

var (
	saveIndexPath string
	loadIndexPath string
	showSources   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [files...]",
	Short: "Index documents and start an interactive chat",
	Long: `Merges the given PDF, text and markdown files into one corpus, indexes it
and reads questions from stdin. Use --load-index to resume from a saved index
instead of re-embedding files. Type "exit" or send EOF to quit.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&saveIndexPath, "save-index", "", "write the index to this file on exit")
	chatCmd.Flags().StringVar(&loadIndexPath, "load-index", "", "chat over a previously saved index")
	chatCmd.Flags().BoolVar(&showSources, "sources", false, "print the chunks each answer was grounded on")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && loadIndexPath == "" {
		return errors.New("pass at least one file or --load-index")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := bootstrap.NewService(cfg, nil, nil, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var sessionKey string
	if loadIndexPath != "" {
		sessionKey, err = svc.Restore(ctx, "", loadIndexPath)
		if err != nil {
			return fmt.Errorf("load index failed: %w", err)
		}
		cmd.Printf("Loaded index from %s\n", loadIndexPath)
		if cfg.LLM.Greeting != "" {
			cmd.Println(cfg.LLM.Greeting)
		}
	} else {
		docs, err := readDocuments(args)
		if err != nil {
			return err
		}
		res, err := svc.Ingest(ctx, "", docs)
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}
		sessionKey = res.SessionKey
		cmd.Printf("Indexed %d documents, %d pages, %d chunks\n", res.Documents, res.Pages, res.Chunks)
		for _, w := range res.Warnings {
			cmd.PrintErrln("warning:", w)
		}
		if res.Greeting != "" {
			cmd.Println(res.Greeting)
		}
	}

	if saveIndexPath != "" {
		defer func() {
			if err := svc.SaveIndex(sessionKey, saveIndexPath); err != nil {
				cmd.PrintErrln("save index failed:", err)
				return
			}
			cmd.Printf("Index saved to %s\n", saveIndexPath)
		}()
	}

	lines := readLines(cmd)
	for {
		cmd.Print("> ")
		var line string
		select {
		case <-ctx.Done():
			cmd.Println()
			return nil
		case l, ok := <-lines:
			if !ok {
				cmd.Println()
				return nil
			}
			line = strings.TrimSpace(l)
		}
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := svc.Ask(ctx, sessionKey, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errs.IsRetryable(err) {
				cmd.PrintErrln("temporary failure, try again:", err)
			} else {
				cmd.PrintErrln("error:", err)
			}
			continue
		}
		cmd.Println(res.Answer)
		if showSources {
			for _, s := range res.Sources {
				cmd.Printf("  [%d] %s p.%d-%d (%.3f)\n", s.ChunkID, s.DocumentID, s.PageStart, s.PageEnd, s.Score)
			}
		}
	}
}

// readLines feeds stdin lines to a channel that is closed on EOF.
func readLines(cmd *cobra.Command) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			cmd.PrintErrln("read input failed:", err)
		}
	}()
	return lines
}

func readDocuments(paths []string) ([]model.Document, error) {
	docs := make([]model.Document, 0, len(paths))
	for i, p := range paths {
		contentType := model.ContentTypeForName(p)
		if contentType == "" {
			return nil, fmt.Errorf("unsupported file type: %s", p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s failed: %w", p, err)
		}
		docs = append(docs, model.Document{
			ID:          fmt.Sprintf("doc-%d", i+1),
			Name:        filepath.Base(p),
			ContentType: contentType,
			Data:        data,
		})
	}
	return docs, nil
}

package main

import (
	"errors"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tos-rag/internal/app"
	"tos-rag/internal/helper"
	"tos-rag/internal/rag"
)

var (
	analyzeURL    string
	analyzeIntent string
	analyzeModel  string
	analyzeRAG    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analysis and print the verdict",
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeURL, "url", "", "Page to analyze")
	analyzeCmd.Flags().StringVar(&analyzeIntent, "intent", "", "What you intend to do with the service")
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", "", "Analysis model (defaults to models.default)")
	analyzeCmd.Flags().BoolVar(&analyzeRAG, "rag", false, "Crawl related legal documents and retrieve relevant passages")
	_ = analyzeCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var failure error
	for e := range a.Pipeline.Stream(ctx, rag.Request{
		URL:       analyzeURL,
		Intent:    analyzeIntent,
		Model:     analyzeModel,
		EnableRAG: analyzeRAG,
	}) {
		switch ev := e.(type) {
		case rag.LogEvent:
			log.Info().Msg(ev.Message)
		case rag.ResultEvent:
			helper.PrettyPrint(ev.Payload)
		case rag.ErrorEvent:
			failure = errors.New(ev.Message)
		}
	}
	if failure == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return failure
}

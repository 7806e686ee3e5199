package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"stt-service/internal/app"
	"stt-service/internal/config"
	"stt-service/internal/service/transcription"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	root := &cobra.Command{
		Use:   "stt-service",
		Short: "Speech-to-text for Wolof and Pular with French translation",
		Long: `Speech-to-text service for Wolof (wol) and Pular (ful).

Uploaded audio is decoded to 16 kHz mono, transcribed with a multilingual
CTC model using per-language adapters, and translated to French when a
translation provider is configured.

Without a subcommand the HTTP service is started.`,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.AddCommand(serve, newTranscribeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, gRPC health and metrics servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			app.SetupLogging(cfg, os.Stdout)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				log.Error().Err(err).Msg("Failed to create application")
				return err
			}
			defer a.Shutdown()

			if err := a.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Service stopped with error")
				return err
			}
			return nil
		},
	}
}

func newTranscribeCmd() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe a local audio file and print the JSON result",
		Long: `Run the transcription pipeline on a local file without starting the
servers. Configuration is read from the environment exactly as for serve.

Examples:
  stt-service transcribe clip.wav --language wol
  STT_PROVIDER=remote stt-service transcribe interview.mp3 -l ful`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			// stdout carries the JSON result.
			cfg.Observability.LogFormat = "console"
			app.SetupLogging(cfg, os.Stderr)
			return transcribeFile(cmd.Context(), cfg, args[0], language)
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "wol", "source language code")
	return cmd
}

func transcribeFile(ctx context.Context, cfg *config.Configuration, path, language string) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Shutdown()

	if err := a.LoadModel(ctx); err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	result, err := a.Transcriber.Transcribe(ctx, transcription.Request{
		Audio:    f,
		Filename: filepath.Base(path),
		Language: language,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

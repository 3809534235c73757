// ABOUTME: Offline subcommands that work directly against the database
// ABOUTME: init, events, export, token, and version

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/agentworld/internal/auth"
	"github.com/2389/agentworld/internal/config"
	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/export"
	"github.com/2389/agentworld/internal/store"
)

func newInitCmd(configPath func() string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			green := color.New(color.FgGreen)
			green.Fprint(cmd.OutOrStdout(), "✓ ")
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func newEventsCmd(configPath func() string) *cobra.Command {
	var (
		chat     string
		types    string
		sinceSeq int64
		limit    int
		out      string
		zstd     bool
	)
	cmd := &cobra.Command{
		Use:   "events <world>",
		Short: "Dump a world's event log as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			q := store.EventQuery{SinceSeq: sinceSeq, Limit: limit}
			if types != "" {
				for _, t := range strings.Split(types, ",") {
					et := event.Type(strings.TrimSpace(t))
					if !et.Valid() {
						return fmt.Errorf("unknown event type %q", t)
					}
					q.Types = append(q.Types, et)
				}
			}
			var chatID *string
			if chat != "" {
				chatID = &chat
			}

			ctx := cmd.Context()
			if _, err := s.LoadWorld(ctx, args[0]); err != nil {
				return fmt.Errorf("world %s: %w", args[0], err)
			}
			events, err := s.GetEventsByWorldAndChat(ctx, args[0], chatID, q)
			if err != nil {
				return fmt.Errorf("reading events: %w", err)
			}

			return writeOutput(cmd.OutOrStdout(), out, func(w io.Writer) error {
				return export.WriteEventsJSONL(w, events, zstd)
			})
		},
	}
	cmd.Flags().StringVar(&chat, "chat", "", "chat id (default: events outside any chat)")
	cmd.Flags().StringVar(&types, "types", "", "comma separated event types")
	cmd.Flags().Int64Var(&sinceSeq, "since", 0, "only events after this seq")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events (0 for all)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&zstd, "zstd", false, "compress output with zstd")
	return cmd
}

func newExportCmd(configPath func() string) *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export <world> <chat>",
		Short: "Export a chat transcript as Markdown or HTML",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "md" && format != "html" {
				return errors.New("--format must be md or html")
			}
			cfg, err := config.LoadOrDefault(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			t, err := export.Build(cmd.Context(), s, args[0], args[1])
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), out, func(w io.Writer) error {
				if format == "html" {
					return export.RenderHTML(w, t)
				}
				return export.RenderMarkdown(w, t)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "md or html")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newTokenCmd(configPath func() string) *cobra.Command {
	var (
		subject string
		worlds  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return err
			}
			token, err := v.Generate(subject, ttl, worlds...)
			if err != nil {
				return fmt.Errorf("signing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().StringSliceVar(&worlds, "world", nil, "limit the token to these worlds")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentworld %s\n", version)
		},
	}
}

// writeOutput runs write against path, or against stdout when path is empty.
func writeOutput(stdout io.Writer, path string, write func(io.Writer) error) (err error) {
	if path == "" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"imgvec/internal/config"
	"imgvec/internal/service"
	"imgvec/internal/tui"
	"imgvec/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfgPath string
	var assumeYes, localOnly bool

	runConvert := func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgPath)
		if err != nil {
			return err
		}
		summary, err := convert(cmd.Context(), cfg, assumeYes, localOnly)
		switch {
		case errors.Is(err, service.ErrNoImages):
			fmt.Println(tui.NoImages(cfg.Converter.ImagesDir))
			return nil
		case errors.Is(err, errDeclined):
			fmt.Println(tui.Notice("Conversion cancelled"))
			return nil
		case err != nil:
			return err
		}
		fmt.Println(tui.Success(summary))
		return nil
	}

	root := &cobra.Command{
		Use:           "imgvec",
		Short:         "Convert a directory of images into vectors and index them in OpenSearch",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runConvert,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (uses ./imgvec.yaml when present)")

	convertCmd := &cobra.Command{
		Use:   "convert",
		Short: "Embed every image and index the documents",
		RunE:  runConvert,
	}
	for _, c := range []*cobra.Command{root, convertCmd} {
		c.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
		c.Flags().BoolVar(&localOnly, "local-only", false, "write local JSON files only, without OpenSearch")
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Verify the embedding server and OpenSearch are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			return preflight(cmd.Context(), cfg)
		},
	}

	mapping := &cobra.Command{
		Use:   "mapping",
		Short: "Print the index mapping used when creating the collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(vectorstore.IndexMapping(cfg.Embedder.Dimension), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgPath
			if path == "" {
				path = config.DefaultPath
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	root.AddCommand(convertCmd, check, mapping, initCmd)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, tui.Failure(err))
		stop()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.AppConfig, error) {
	var cfg *config.AppConfig
	var err error
	if path == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

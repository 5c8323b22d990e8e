package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"brief-engine/internal/app"
	"brief-engine/internal/apperr"
	"brief-engine/internal/config"
	"brief-engine/internal/logging"
)

const configFilePath = "./configs/config.yaml"

var (
	configPath string
	pretty     bool

	engine *app.App
)

var rootCmd = &cobra.Command{
	Use:           "brief-engine",
	Short:         "Answer RFP questions and build opportunity briefs from your documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logging.Setup(cfg.LogLevel, pretty)
		log.Debug().Str("env", cfg.Env).Str("provider", cfg.InferenceLLM.Provider).Msg("Loaded config")

		engine, err = app.New(cmd.Context(), cfg)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if engine == nil {
			return nil
		}
		return engine.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", configFilePath, "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Human-readable console logs")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if engine != nil {
			_ = engine.Close()
		}
		printError(err)
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError writes the classified failure to stdout so callers can branch
// on category and code.
func printError(err error) {
	out := map[string]any{
		"error":    err.Error(),
		"category": apperr.CategoryOf(err),
	}
	if code := apperr.CodeOf(err); code != "" {
		out["code"] = code
	}
	var mo *apperr.ModelOutputError
	if errors.As(err, &mo) {
		out["reason"] = mo.Reason
	}
	if perr := printJSON(out); perr != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

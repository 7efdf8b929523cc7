package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/i474232898/airquality-forecast/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration, model, scaler and history",
	Long: `Build the whole pipeline without serving. Exits non-zero if the model or
scaler cannot be loaded, the shapes disagree, or the history cannot be read.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd.Context(), func(cfg *config.AppConfig, logger *zap.Logger, p *pipeline) error {
			f := p.service.Forecaster()
			fmt.Printf("model backend:  %s\n", cfg.ModelBackend)
			fmt.Printf("features:       %v\n", f.Features().Strings())
			fmt.Printf("target:         %s\n", f.Target())
			fmt.Printf("window:         %d in, %d out\n", f.StepsIn(), f.StepsOut())
			params := f.Scaler().Params()
			fmt.Printf("scaler:         %s (%d features, target min %g, scale %g)\n",
				cfg.ScalerPath, len(params.Scale), params.Min[f.TargetIndex()], params.Scale[f.TargetIndex()])
			fmt.Printf("history source: %s\n", cfg.HistorySource)

			status, err := p.service.Status()
			if err != nil {
				fmt.Println("history:        empty")
				return nil
			}
			fmt.Printf("latest row:     %s (%s %.1f, %s)\n",
				status.Time.Format("2006-01-02 15:04"), status.Pollutant, status.Value, status.Category.Label)
			return nil
		})
	},
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/i474232898/airquality-forecast/internal/airquality"
	"github.com/i474232898/airquality-forecast/internal/config"
)

var forecastJSON bool

func init() {
	forecastCmd.Flags().BoolVar(&forecastJSON, "json", false, "Print the forecast as JSON")
}

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Print the current status and forecast once",
	Long: `Load the configured history and model, then print the current reading and
the forecast for the next hours.

Examples:
  # Human readable table
  airquality-forecast forecast

  # Machine readable
  airquality-forecast forecast --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd.Context(), func(_ *config.AppConfig, logger *zap.Logger, p *pipeline) error {
			status, err := p.service.Status()
			if err != nil {
				return err
			}
			fc, err := p.service.Forecast(cmd.Context())
			if err != nil {
				return err
			}

			if forecastJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"city":     p.service.City(),
					"status":   status,
					"forecast": fc,
				})
			}
			printForecast(p.service.City(), status, fc)
			return nil
		})
	},
}

func printForecast(city airquality.City, status airquality.Status, fc airquality.Forecast) {
	fmt.Printf("%s, %s\n", city.Name, city.Country)
	fmt.Printf("Current %s at %s: %.1f (%s)\n\n",
		status.Pollutant, status.Time.Format("2006-01-02 15:04"), status.Value, status.Category.Label)

	if !fc.Available {
		fmt.Printf("Forecast unavailable: %s\n", fc.Reason)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tVALUE\tCATEGORY")
	for _, s := range fc.Steps {
		fmt.Fprintf(w, "%s\t%.1f\t%s\n", s.TimeLabel, s.Value, s.Category.Label)
	}
	w.Flush()
}

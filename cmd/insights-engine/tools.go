package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/api"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/engine"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single monitoring cycle and print its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.monitor.RunCycle(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var forecastOpts struct {
	container string
	name      string
	metric    string
	top       int
}

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast one container metric, or the fleet overview with --top",
	RunE: func(cmd *cobra.Command, args []string) error {
		if forecastOpts.container == "" && forecastOpts.top <= 0 {
			return fmt.Errorf("either --container or --top is required")
		}
		metric := models.MetricType(forecastOpts.metric)
		if forecastOpts.container != "" && !metric.Valid() {
			return fmt.Errorf("unknown metric %q", forecastOpts.metric)
		}

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		if forecastOpts.container == "" {
			forecasts, err := a.forecaster.TopForecasts(cmd.Context(), forecastOpts.top)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.TopForecastsResponse{Forecasts: forecasts})
		}

		forecast, err := a.forecaster.Forecast(cmd.Context(), engine.ForecastRequest{
			ContainerID:   forecastOpts.container,
			ContainerName: forecastOpts.name,
			MetricType:    metric,
			Threshold:     cfg.Forecast.Threshold,
			HoursBack:     cfg.Forecast.HoursBack,
			HoursForward:  cfg.Forecast.HoursForward,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), api.ForecastResponse{Forecast: forecast, InsufficientHistory: forecast == nil})
	},
}

var correlateFile string

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Correlate a JSON array of insights read from --file or stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if correlateFile != "" && correlateFile != "-" {
			f, err := os.Open(correlateFile)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		insights, err := decodeInsights(r)
		if err != nil {
			return err
		}

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		return printJSON(cmd.OutOrStdout(), a.correlator.CorrelateInsights(cmd.Context(), insights))
	},
}

// decodeInsights reads a JSON array of insights. Every insight must carry an id.
func decodeInsights(r io.Reader) ([]models.Insight, error) {
	var insights []models.Insight
	if err := json.NewDecoder(r).Decode(&insights); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}
	for i, insight := range insights {
		if insight.ID == "" {
			return nil, fmt.Errorf("decode insights: insights[%d] has no id", i)
		}
	}
	return insights, nil
}

func init() {
	forecastCmd.Flags().StringVar(&forecastOpts.container, "container", "", "Container ID to forecast")
	forecastCmd.Flags().StringVar(&forecastOpts.name, "name", "", "Container name shown in the output")
	forecastCmd.Flags().StringVar(&forecastOpts.metric, "metric", string(models.MetricCPU), "Metric type (cpu or memory)")
	forecastCmd.Flags().IntVar(&forecastOpts.top, "top", 0, "Return the N most urgent forecasts across the fleet")

	correlateCmd.Flags().StringVarP(&correlateFile, "file", "f", "", "JSON file of insights (default stdin)")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

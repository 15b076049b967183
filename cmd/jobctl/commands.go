package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"visa-automation-service/internal/entity"
)

var (
	startStages  []string
	startVisible bool
	startCountry string
	startBy      string
)

var startCmd = &cobra.Command{
	Use:   "start <application-id>",
	Short: "Start an automation job for an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("application id must be a number: %w", err)
		}

		body := map[string]any{
			"application_id": appID,
			"stages":         startStages,
			"options":        map[string]any{"visible_mode": startVisible},
			"triggered_by":   startBy,
			"country":        startCountry,
		}
		var job entity.Job
		if err := call(http.MethodPost, "/jobs", body, &job); err != nil {
			return err
		}
		printJobs(job)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job entity.Job
		if err := call(http.MethodGet, "/jobs/"+args[0], nil, &job); err != nil {
			return err
		}
		printJobs(job)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cooperative cancellation of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job entity.Job
		if err := call(http.MethodPatch, "/jobs/"+args[0], map[string]string{"action": "cancel"}, &job); err != nil {
			return err
		}
		printJobs(job)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list <application-id>",
	Short: "List all jobs for an application, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("application id must be a number: %w", err)
		}
		var jobs []entity.Job
		if err := call(http.MethodGet, "/jobs?application_id="+strconv.FormatInt(appID, 10), nil, &jobs); err != nil {
			return err
		}
		printJobs(jobs...)
		return nil
	},
}

func init() {
	startCmd.Flags().StringSliceVar(&startStages, "stages", []string{string(entity.StageA), string(entity.StageB)}, "stages to run, in order")
	startCmd.Flags().BoolVar(&startVisible, "visible", false, "run the browser visibly instead of headless")
	startCmd.Flags().StringVar(&startCountry, "country", "", "destination country label")
	startCmd.Flags().StringVar(&startBy, "by", "jobctl", "identity recorded as triggered_by")
}

func call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, strings.TrimSuffix(apiURL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Message)
		}
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func printJobs(jobs ...entity.Job) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAPP\tSTATUS\tSTAGE\tPROGRESS\tERROR")
	for _, j := range jobs {
		stage, progress, errMsg := "-", "-", "-"
		if j.CurrentStage != nil {
			stage = string(*j.CurrentStage)
		}
		if j.StageProgress != nil {
			progress = *j.StageProgress
		}
		if j.ErrorMessage != nil {
			errMsg = *j.ErrorMessage
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", j.ID, j.ApplicationID, j.Status, stage, progress, errMsg)
	}
	w.Flush()
}

package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/noah-isme/autoenrol/internal/models"
	"github.com/noah-isme/autoenrol/pkg/export"
	"github.com/noah-isme/autoenrol/pkg/trace"
)

type syncOptions struct {
	courseID string
	check    bool
	format   string
	output   string
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	so := &syncOptions{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile every user against the enabled autoenrol instances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := export.ParseFormat(so.format)
			if err != nil {
				return err
			}
			app, err := opts.open(cmd, "sync")
			if err != nil {
				return err
			}
			defer app.Close()
			if err := requireCourse(cmd, app, so.courseID); err != nil {
				return err
			}

			result, err := app.sync.SyncEnrolments(cmd.Context(), trace.NewText(cmd.OutOrStdout()), so.courseID, so.check)
			if err != nil {
				return err
			}
			if !so.check {
				return nil
			}
			return writeReport(cmd.OutOrStdout(), so.output, format, planReport(result, so.courseID))
		},
	}
	cmd.Flags().StringVar(&so.courseID, "course", "", "limit to one course id")
	cmd.Flags().BoolVar(&so.check, "check", false, "plan only, write nothing")
	cmd.Flags().StringVar(&so.format, "format", "csv", "plan report format (csv|pdf)")
	cmd.Flags().StringVar(&so.output, "output", "", "plan report file (defaults to stdout for csv)")
	return cmd
}

func newSweepCommand(opts *rootOptions) *cobra.Command {
	var courseID string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Unenrol inactive users and process expired enrolments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.open(cmd, "sweep")
			if err != nil {
				return err
			}
			defer app.Close()
			if err := requireCourse(cmd, app, courseID); err != nil {
				return err
			}

			result, err := app.sweep.Sweep(cmd.Context(), trace.NewText(cmd.OutOrStdout()), courseID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unenrolled=%d suspended=%d expired=%d notified=%d status=%s\n",
				result.Unenrolled, result.Suspended, result.Expired, result.Notified, result.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&courseID, "course", "", "limit to one course id")
	return cmd
}

func requireCourse(cmd *cobra.Command, app *application, courseID string) error {
	if courseID == "" {
		return nil
	}
	exists, err := app.instances.CourseExists(cmd.Context(), courseID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("course %s not found", courseID)
	}
	return nil
}

// planReport tabulates the planned effects of a check-mode sync.
func planReport(result *models.BulkSyncResult, courseID string) export.Report {
	scope := "all courses"
	if courseID != "" {
		scope = "course " + courseID
	}
	report := export.Report{
		Title:   "Autoenrol synchronization plan",
		Summary: []string{fmt.Sprintf("Scope: %s", scope), fmt.Sprintf("Users checked: %d", result.Users)},
		Columns: []string{"Instance", "Course", "User", "Effect", "Reason"},
	}

	effects := make([]string, 0, len(result.Effects))
	for effect := range result.Effects {
		effects = append(effects, string(effect))
	}
	sort.Strings(effects)
	for _, effect := range effects {
		report.Summary = append(report.Summary, effect+": "+strconv.Itoa(result.Effects[models.Effect(effect)]))
	}

	for _, planned := range result.Planned {
		report.Rows = append(report.Rows, []string{planned.InstanceID, planned.CourseID, planned.UserID, string(planned.Effect), planned.Reason})
	}
	return report
}

func writeReport(stdout io.Writer, path string, format export.Format, report export.Report) error {
	if format == export.FormatPDF && path == "" {
		return fmt.Errorf("--output is required for pdf reports")
	}
	data, err := export.RendererFor(format).Render(report)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lydakis/scenectl/internal/jobs"
	"github.com/lydakis/scenectl/internal/response"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		name   string
		prompt string
		images []string
		bbox   string
	)
	cmd := &cobra.Command{
		Use:   "generate --name NAME (--prompt TEXT | --image FILE ...) [--bbox X,Y,Z]",
		Short: "Generate a model with Hyper3D Rodin and import it",
		Long: `Submit a generation job, poll it until it finishes, and import the result
as a named asset. Progress is printed with --verbose. If polling is
interrupted the job keeps running; finish it later with 'scenectl resume'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := jobs.GenerateRequest{Name: strings.TrimSpace(name), Prompt: strings.TrimSpace(prompt)}
			if req.Name == "" {
				return usageErrorf("--name is required")
			}
			if req.Prompt == "" && len(images) == 0 {
				return usageErrorf("--prompt or --image is required")
			}
			for _, path := range images {
				img, err := jobs.ImageFromFile(path)
				if err != nil {
					return &usageError{err: err}
				}
				req.Images = append(req.Images, img)
			}
			if bbox != "" {
				b, err := parseBBox(bbox)
				if err != nil {
					return &usageError{err: err}
				}
				req.BBox = b
			}

			wf := a.workflow()
			sub, err := wf.Submit(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("submitting job: %w", err)
			}
			if a.flags.verbose {
				fmt.Fprintf(a.stderr, "scenectl: submitted task %s (subscription key %s)\n", sub.UUID, sub.SubscriptionKey)
			}
			out, err := wf.Resume(cmd.Context(), sub.SubscriptionKey, sub.UUID, req.Name)
			return a.reportOutcome(out, err)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "asset name to import the result as")
	cmd.Flags().StringVar(&prompt, "prompt", "", "text prompt")
	cmd.Flags().StringArrayVar(&images, "image", nil, "reference image file (repeatable)")
	cmd.Flags().StringVar(&bbox, "bbox", "", "bounding box ratio as X,Y,Z")
	return cmd
}

func newResumeCmd(a *app) *cobra.Command {
	var key, task, name string
	cmd := &cobra.Command{
		Use:   "resume --key KEY --task UUID --name NAME",
		Short: "Wait for a submitted job and import it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case strings.TrimSpace(key) == "":
				return usageErrorf("--key is required")
			case strings.TrimSpace(task) == "":
				return usageErrorf("--task is required")
			case strings.TrimSpace(name) == "":
				return usageErrorf("--name is required")
			}
			out, err := a.workflow().Resume(cmd.Context(), key, task, name)
			return a.reportOutcome(out, err)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "subscription key returned at submit")
	cmd.Flags().StringVar(&task, "task", "", "task uuid returned at submit")
	cmd.Flags().StringVar(&name, "name", "", "asset name to import the result as")
	return cmd
}

// reportOutcome prints the outcome as far as the run got. When the job
// failed or polling stopped, the resume command is printed so the run
// can be picked up again.
func (a *app) reportOutcome(out *jobs.Outcome, err error) error {
	if out != nil {
		data, merr := json.Marshal(out)
		if merr != nil {
			return merr
		}
		a.printResult(response.Render(data))
	}
	if err != nil && out != nil && !errors.Is(err, jobs.ErrJobFailed) && out.Import == nil {
		fmt.Fprintf(a.stderr, "scenectl: resume with: scenectl resume --key %s --task %s\n",
			out.Submission.SubscriptionKey, out.Submission.UUID)
	}
	return err
}

func parseBBox(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("--bbox must have 3 numbers, got %d", len(parts))
	}
	out := make([]float64, 0, 3)
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("--bbox: %q is not a number", p)
		}
		out = append(out, v)
	}
	return out, nil
}

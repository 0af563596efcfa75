package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/bookdraft-backend/internal/app"
	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
)

var (
	enqueueReq  app.SectionDraftRequest
	enqueueWait bool
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a section_draft job",
	Example: `  bookdraft enqueue --org org-1 --book b1 --version v3 --chapter 0 --section 2 \
    --topic "Wondzorg" --language nl --audience foundation --model openai:gpt-4.1 --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			job, err := a.EnqueueSectionDraft(ctx, enqueueReq)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.ID)
			if !enqueueWait {
				return nil
			}
			final, err := waitForJob(ctx, a, job.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", final.ID, final.Status, firstNonEmpty(final.Error, final.Message))
			if final.Status != types.StatusSucceeded {
				return fmt.Errorf("job %s ended %s", final.ID, final.Status)
			}
			return nil
		})
	},
}

func init() {
	f := enqueueCmd.Flags()
	f.StringVar(&enqueueReq.OrganizationID, "org", "", "organization id")
	f.StringVar(&enqueueReq.BookID, "book", "", "book id")
	f.StringVar(&enqueueReq.VersionID, "version", "", "book version id")
	f.IntVar(&enqueueReq.ChapterIndex, "chapter", 0, "zero-based chapter index")
	f.IntVar(&enqueueReq.SectionIndex, "section", 0, "zero-based section index")
	f.StringVar(&enqueueReq.Topic, "topic", "", "book topic")
	f.StringVar(&enqueueReq.Language, "language", "nl", "output language (nl, en)")
	f.StringVar(&enqueueReq.Audience, "audience", "foundation", "audience level (foundation, advanced)")
	f.StringVar(&enqueueReq.Model, "model", "openai", "provider:model selector")
	f.StringVar(&enqueueReq.UserInstructions, "instructions", "", "extra author instructions")
	f.StringVar(&enqueueReq.DensityProfile, "density", "", "density profile (auto, dense, sparse)")
	f.StringVar(&enqueueReq.HeadingDensity, "heading-density", "", "microheading density (low, medium, high)")
	f.StringSliceVar(&enqueueReq.PraktijkTargets, "praktijk", nil, "subparagraph numbers that get a praktijk box")
	f.StringSliceVar(&enqueueReq.VerdiepingTargets, "verdieping", nil, "subparagraph numbers that get a verdieping box")
	f.BoolVar(&enqueueReq.RequireImages, "images", false, "require image suggestions")
	f.BoolVar(&enqueueWait, "wait", false, "run or follow the job until it is terminal")
	for _, name := range []string{"org", "book", "version", "topic"} {
		_ = enqueueCmd.MarkFlagRequired(name)
	}
}

// waitForJob follows a job to a terminal status. Without Temporal the ticks
// run in this process.
func waitForJob(ctx context.Context, a *app.App, id uuid.UUID) (*types.JobRun, error) {
	poll := a.Cfg.Worker.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	for {
		if !a.TemporalEnabled() {
			if _, err := a.Drain(ctx); err != nil {
				return nil, err
			}
		}
		job, err := a.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-time.After(poll):
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

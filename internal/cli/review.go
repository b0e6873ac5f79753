package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"sovereign/internal/domain"
)

// reviewCmd walks the pending proposals interactively. Decisions take effect
// immediately; execution of approved proposals stays with the governance
// command so a reviewer can change their mind before the deadline.
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Interactively approve or reject pending proposals",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "> ",
			InterruptPrompt: "",
			EOFPrompt:       "",
		})
		if err != nil {
			return fmt.Errorf("init terminal input: %w", err)
		}
		defer rl.Close()

		return runReview(cmd.Context(), a, rl)
	},
}

func runReview(ctx context.Context, a *app, rl *readline.Instance) error {
	pending, err := a.store.ListProposalsByStatus(ctx, domain.ProposalPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("review: no pending proposals")
		return nil
	}
	fmt.Printf("%d pending proposal(s). [a]pprove / [r]eject / [s]kip / [q]uit\n", len(pending))

	for i, p := range pending {
		fmt.Printf("\n[%d/%d] %s -> %s\n", i+1, len(pending), p.ID, p.AgentRole)
		fmt.Println("  proposal:", indent(p.ProposedInstruction))
		if p.Reason != "" {
			fmt.Println("  reason:  ", indent(p.Reason))
		}
		if p.NeedsFollowup {
			fmt.Println("  followup: a backlog task will be created on execution")
		}

		switch askDecision(rl) {
		case "a":
			if err := a.store.UpdateProposalStatus(ctx, p.ID, domain.ProposalApproved); err != nil {
				return err
			}
			fmt.Println("  approved")
		case "r":
			if err := a.store.UpdateProposalStatus(ctx, p.ID, domain.ProposalRejected); err != nil {
				return err
			}
			fmt.Println("  rejected")
		case "q":
			fmt.Println("review: stopped, remaining proposals stay pending")
			return nil
		default:
			fmt.Println("  skipped")
		}
	}
	return nil
}

func askDecision(rl *readline.Instance) string {
	for {
		line, err := rl.Readline()
		if err != nil {
			return "q"
		}
		switch ans := strings.TrimSpace(strings.ToLower(line)); ans {
		case "a", "r", "s", "q":
			return ans
		}
		fmt.Println("  please answer a, r, s or q")
	}
}

func indent(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n    ")
}

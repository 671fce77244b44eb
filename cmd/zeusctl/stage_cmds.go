package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/grnet/panoramix/internal/console"
	"github.com/grnet/panoramix/internal/model"
	"github.com/grnet/panoramix/internal/stages"
	"github.com/grnet/panoramix/internal/ui"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:     "show [stage]",
	Short:   "Show the stages of each user, or one stage's document",
	Long:    "Show the stages of each user, or one stage's document.\n\n" + stateLegend,
	GroupID: "stages",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, httpClient, cmd.ErrOrStderr(), sessionOptions{})
		if err != nil {
			return err
		}
		defer s.close()

		stage := ""
		if len(args) == 1 {
			stage = args[0]
		}
		return runShow(cmd.OutOrStdout(), s.ctrl, stage, jsonOutput)
	},
}

// runShow prints every loaded user's stages, or the document of stage.
func runShow(w io.Writer, ctrl *console.Controller, stage string, asJSON bool) error {
	syncer := ctrl.Syncer()
	if asJSON && stage == "" {
		data, err := syncer.Snapshot()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	for _, user := range syncer.Users() {
		var viewErr error
		err := syncer.View(user, func(set *model.StageSet) {
			if stage == "" {
				fmt.Fprintln(w, ui.RenderAccent(user))
				for _, st := range set.Ordered() {
					fmt.Fprintf(w, "  %s\n", ui.StageLine(st))
				}
				return
			}
			st, ok := set.Get(stage)
			if !ok {
				viewErr = fmt.Errorf("%w: %s/%s", stages.ErrUnknownStage, user, stage)
				return
			}
			if asJSON {
				viewErr = printJSON(w, st)
				return
			}
			fmt.Fprintf(w, "%s  %s\n", ui.RenderAccent(user), ui.StageLine(st))
			for _, line := range ui.FieldLines(st) {
				fmt.Fprintf(w, "  %s\n", line)
			}
		})
		if err != nil {
			return err
		}
		if viewErr != nil {
			return viewErr
		}
	}
	return nil
}

var setCmd = &cobra.Command{
	Use:     "set <stage> <field> <value>",
	Short:   "Set a field of a stage document",
	GroupID: "stages",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEdit(cmd, func(ctx context.Context, ctrl *console.Controller, user string) error {
			return ctrl.OnValueChange(ctx, user, args[0], fieldPath(args[0], args[1]), parseValue(args[2]))
		}, args[0], args[1])
	},
}

var lockCmd = &cobra.Command{
	Use:     "lock <stage> <field>",
	Short:   "Close a dict field of a stage document",
	GroupID: "stages",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEdit(cmd, func(ctx context.Context, ctrl *console.Controller, user string) error {
			return ctrl.OnKeyLock(ctx, user, args[0], fieldPath(args[0], args[1]))
		}, args[0], args[1])
	},
}

// runEdit applies edit as the single selected user and prints the field
// afterwards.
func runEdit(cmd *cobra.Command, edit func(context.Context, *console.Controller, string) error, stage, field string) error {
	user, err := singleUser()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	s, err := openSession(ctx, httpClient, cmd.ErrOrStderr(), sessionOptions{})
	if err != nil {
		return err
	}
	defer s.close()

	if err := edit(ctx, s.ctrl, user); err != nil {
		return err
	}
	return printField(cmd.OutOrStdout(), s.ctrl, user, stage, fieldPath(stage, field))
}

func printField(w io.Writer, ctrl *console.Controller, user, stage, path string) error {
	return ctrl.Syncer().View(user, func(set *model.StageSet) {
		st, ok := set.Get(stage)
		if !ok {
			return
		}
		for _, line := range ui.FieldLines(st) {
			if strings.HasPrefix(line, path+" ") || strings.HasPrefix(line, path+"/") {
				fmt.Fprintln(w, line)
			}
		}
	})
}

var contributeCmd = &cobra.Command{
	Use:     "contribute <stage>",
	Short:   "Contribute to (advance) a stage",
	GroupID: "stages",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := singleUser()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx, httpClient, cmd.ErrOrStderr(), sessionOptions{})
		if err != nil {
			return err
		}
		defer s.close()
		return runContribute(ctx, cmd.OutOrStdout(), s.ctrl, user, args[0])
	},
}

func runContribute(ctx context.Context, w io.Writer, ctrl *console.Controller, user, stage string) error {
	var label string
	err := ctrl.Syncer().View(user, func(set *model.StageSet) {
		if st, ok := set.Get(stage); ok {
			label = st.MetaFor(st.Path).StateLabel
		}
	})
	if err != nil {
		return err
	}
	if label != "" && !model.CanAction(label) {
		fmt.Fprintf(w, "%s: nothing to do (%s)\n", stage, model.ActionLabel(label))
		return nil
	}

	if err := ctrl.DocAction(ctx, user, stage); err != nil {
		return err
	}
	return ctrl.Syncer().View(user, func(set *model.StageSet) {
		for _, st := range set.Ordered() {
			fmt.Fprintln(w, ui.StageLine(st))
		}
	})
}
